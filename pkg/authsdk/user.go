package authsdk

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/authstate/pkg/clockx"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
)

// tokenRefreshBuffer is how long before expiry a cached ID token is
// considered stale.
const tokenRefreshBuffer = 5 * time.Minute

// defaultTokenLifetime is assumed when neither the response nor the token
// carry an expiry.
const defaultTokenLifetime = time.Hour

// userEnv is what every User of one Auth instance shares.
type userEnv struct {
	gateway    Gateway
	clock      clockx.Clock
	logger     *slog.Logger
	apiKey     string
	appName    string
	authDomain string
}

type userEventKind int

const (
	userTokenChanged userEventKind = iota
	userProfileChanged
	userInvalidated
	userDeleted
)

type userEvent struct {
	kind userEventKind
	err  error
}

// User is a signed-in account. Its uid never changes; everything else is
// refreshed from the backend by Reload and GetIDToken.
type User struct {
	env     userEnv
	refresh singleflight.Group

	mu            sync.RWMutex
	uid           string
	displayName   string
	email         string
	emailVerified bool
	phoneNumber   string
	photoURL      string
	isAnonymous   bool
	tenantID      string
	providerData  []UserInfo
	multiFactor   []MultiFactorInfo
	createdAt     int64
	lastLoginAt   int64
	tokens        TokenManager
	redirectID    string
	languageCode  string
	frameworks    []string
	deleted       bool

	lmu       sync.Mutex
	nextSub   int
	listeners map[int]func(userEvent)
}

func newUser(env userEnv, uid string) *User {
	return &User{env: env, uid: uid, listeners: make(map[int]func(userEvent))}
}

// newUserFromResponse builds a User from a sign-in response. The profile is
// only as complete as the response; callers Reload to fill it in.
func newUserFromResponse(env userEnv, resp *IDTokenResponse) (*User, error) {
	if resp.IDToken == "" || resp.LocalID == "" {
		return nil, ErrInternal.WithMessage("sign-in response carries no ID token")
	}

	u := newUser(env, resp.LocalID)
	u.displayName = resp.DisplayName
	u.email = resp.Email
	u.phoneNumber = resp.PhoneNumber
	u.photoURL = resp.PhotoURL
	u.tenantID = resp.TenantID
	u.isAnonymous = resp.ProviderID == jwtx.ProviderAnonymous ||
		(resp.Email == "" && resp.PhoneNumber == "" && resp.ProviderID == "")
	u.tokens = TokenManager{
		AccessToken:    resp.IDToken,
		RefreshToken:   resp.RefreshToken,
		ExpirationTime: expirationFor(env.clock.Now(), resp.IDToken, resp.ExpiresIn),
	}
	return u, nil
}

// newUserFromRecord rebuilds a User from storage.
func newUserFromRecord(env userEnv, r *Record) *User {
	u := newUser(env, r.UID)
	u.displayName = r.DisplayName
	u.email = r.Email
	u.emailVerified = r.EmailVerified
	u.phoneNumber = r.PhoneNumber
	u.photoURL = r.PhotoURL
	u.isAnonymous = r.IsAnonymous
	u.tenantID = r.TenantID
	u.providerData = slices.Clone(r.ProviderData)
	u.multiFactor = slices.Clone(r.MultiFactor)
	u.createdAt = r.CreatedAt
	u.lastLoginAt = r.LastLoginAt
	u.tokens = r.STSTokenManager
	u.redirectID = r.RedirectEventID
	return u
}

// expirationFor returns the expiry of idToken in epoch milliseconds, preferring
// the explicit expiresIn seconds of the response.
func expirationFor(now time.Time, idToken string, expiresIn int64) int64 {
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second).UnixMilli()
	}
	if claims, err := jwtx.ParseUnverified(idToken); err == nil {
		if exp := claims.ExpirationTime(); !exp.IsZero() {
			return exp.UnixMilli()
		}
	}
	return now.Add(defaultTokenLifetime).UnixMilli()
}

// ============================================================================
// Accessors
// ============================================================================

func (u *User) UID() string { return u.uid }

func (u *User) APIKey() string  { return u.env.apiKey }
func (u *User) AppName() string { return u.env.appName }

func (u *User) DisplayName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.displayName
}

func (u *User) Email() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.email
}

func (u *User) EmailVerified() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.emailVerified
}

func (u *User) PhoneNumber() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.phoneNumber
}

func (u *User) PhotoURL() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.photoURL
}

func (u *User) IsAnonymous() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.isAnonymous
}

func (u *User) TenantID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.tenantID
}

func (u *User) ProviderData() []UserInfo {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return slices.Clone(u.providerData)
}

// MultiFactor lists the enrolled second factors.
func (u *User) MultiFactor() []MultiFactorInfo {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return slices.Clone(u.multiFactor)
}

func (u *User) RefreshToken() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.tokens.RefreshToken
}

// LanguageCode is the language used for messages sent on the user's behalf.
func (u *User) LanguageCode() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.languageCode
}

// Frameworks lists the frameworks logged on the owning Auth.
func (u *User) Frameworks() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return slices.Clone(u.frameworks)
}

func (u *User) redirectEventID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.redirectID
}

func (u *User) setRedirectEventID(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.redirectID = id
}

func (u *User) setLanguageCode(code string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.languageCode = code
}

func (u *User) setFrameworks(fw []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.frameworks = slices.Clone(fw)
}

func (u *User) accessToken() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.tokens.AccessToken
}

// Record serializes the user for storage.
func (u *User) Record() *Record {
	u.mu.RLock()
	defer u.mu.RUnlock()

	providers := slices.Clone(u.providerData)
	if providers == nil {
		providers = []UserInfo{}
	}
	return &Record{
		UID:             u.uid,
		APIKey:          u.env.apiKey,
		AppName:         u.env.appName,
		AuthDomain:      u.env.authDomain,
		DisplayName:     u.displayName,
		Email:           u.email,
		EmailVerified:   u.emailVerified,
		PhoneNumber:     u.phoneNumber,
		PhotoURL:        u.photoURL,
		IsAnonymous:     u.isAnonymous,
		TenantID:        u.tenantID,
		ProviderData:    providers,
		MultiFactor:     slices.Clone(u.multiFactor),
		CreatedAt:       u.createdAt,
		LastLoginAt:     u.lastLoginAt,
		STSTokenManager: u.tokens,
		RedirectEventID: u.redirectID,
	}
}

// copyFrom merges the profile and tokens of other, which must have the same
// uid, into u. It reports whether the access token changed.
func (u *User) copyFrom(other *User) bool {
	if other == u {
		return false
	}
	src := other.Record()

	u.mu.Lock()
	defer u.mu.Unlock()

	changed := u.tokens.AccessToken != src.STSTokenManager.AccessToken
	u.displayName = src.DisplayName
	u.email = src.Email
	u.emailVerified = src.EmailVerified
	u.phoneNumber = src.PhoneNumber
	u.photoURL = src.PhotoURL
	u.isAnonymous = src.IsAnonymous
	u.tenantID = src.TenantID
	u.providerData = src.ProviderData
	u.multiFactor = src.MultiFactor
	u.createdAt = src.CreatedAt
	u.lastLoginAt = src.LastLoginAt
	u.tokens = src.STSTokenManager
	if src.RedirectEventID != "" {
		u.redirectID = src.RedirectEventID
	}
	return changed
}

func (u *User) applyAccountInfo(info *AccountInfo) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.displayName = info.DisplayName
	u.email = info.Email
	u.emailVerified = info.EmailVerified
	u.phoneNumber = info.PhoneNumber
	u.photoURL = info.PhotoURL
	u.tenantID = info.TenantID
	u.createdAt = info.CreatedAt
	u.lastLoginAt = info.LastLoginAt

	u.providerData = make([]UserInfo, 0, len(info.ProviderUserInfo))
	for _, p := range info.ProviderUserInfo {
		u.providerData = append(u.providerData, UserInfo{
			UID:         p.RawID,
			ProviderID:  p.ProviderID,
			DisplayName: p.DisplayName,
			Email:       p.Email,
			PhoneNumber: p.PhoneNumber,
			PhotoURL:    p.PhotoURL,
		})
	}
	u.multiFactor = make([]MultiFactorInfo, 0, len(info.MFAInfo))
	for _, m := range info.MFAInfo {
		u.multiFactor = append(u.multiFactor, MultiFactorInfo{
			UID:            m.MFAEnrollmentID,
			DisplayName:    m.DisplayName,
			FactorID:       m.FactorID,
			EnrollmentTime: m.EnrolledAt,
		})
	}
	u.isAnonymous = info.Email == "" && info.PhoneNumber == "" &&
		info.PasswordHash == "" && len(info.ProviderUserInfo) == 0
}

// ============================================================================
// Internal Events
// ============================================================================

// subscribe registers fn for token, profile, invalidation and deletion events.
// It returns the func that detaches it.
func (u *User) subscribe(fn func(userEvent)) func() {
	u.lmu.Lock()
	defer u.lmu.Unlock()

	u.nextSub++
	id := u.nextSub
	u.listeners[id] = fn
	return func() {
		u.lmu.Lock()
		defer u.lmu.Unlock()
		delete(u.listeners, id)
	}
}

func (u *User) emit(ev userEvent) {
	u.lmu.Lock()
	ids := make([]int, 0, len(u.listeners))
	for id := range u.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(userEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, u.listeners[id])
	}
	u.lmu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// checkInvalidation tells listeners the backend will no longer accept this
// user when err says so, and returns err.
func (u *User) checkInvalidation(err error) error {
	if isInvalidationError(err) {
		u.env.logger.Info("user invalidated by backend", "uid", u.uid, "error", err)
		u.emit(userEvent{kind: userInvalidated, err: err})
	}
	return err
}

// ============================================================================
// Operations
// ============================================================================

// GetIDToken returns a valid ID token, refreshing it when it is about to
// expire or when forceRefresh is set. Concurrent refreshes share one call.
func (u *User) GetIDToken(ctx context.Context, forceRefresh bool) (string, error) {
	u.mu.RLock()
	deleted := u.deleted
	tokens := u.tokens
	u.mu.RUnlock()

	if deleted {
		return "", ErrUserDeleted
	}

	expiry := time.UnixMilli(tokens.ExpirationTime)
	if !forceRefresh && tokens.AccessToken != "" && u.env.clock.Now().Add(tokenRefreshBuffer).Before(expiry) {
		return tokens.AccessToken, nil
	}
	if tokens.RefreshToken == "" {
		return "", u.checkInvalidation(ErrTokenExpired)
	}

	v, err, _ := u.refresh.Do("refresh", func() (any, error) {
		return u.refreshTokens(ctx, tokens.RefreshToken)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (u *User) refreshTokens(ctx context.Context, refreshToken string) (string, error) {
	resp, err := u.env.gateway.RefreshToken(ctx, refreshToken)
	if err != nil {
		return "", u.checkInvalidation(err)
	}

	u.mu.Lock()
	changed := u.tokens.AccessToken != resp.IDToken
	u.tokens.AccessToken = resp.IDToken
	if resp.RefreshToken != "" {
		u.tokens.RefreshToken = resp.RefreshToken
	}
	u.tokens.ExpirationTime = expirationFor(u.env.clock.Now(), resp.IDToken, resp.ExpiresIn)
	u.mu.Unlock()

	if changed {
		u.emit(userEvent{kind: userTokenChanged})
	}
	return resp.IDToken, nil
}

// IDTokenResult is a decoded ID token.
type IDTokenResult struct {
	Token          string
	AuthTime       time.Time
	IssuedAt       time.Time
	ExpirationTime time.Time
	SignInProvider string
	SecondFactor   string
	Claims         *jwtx.Claims
}

// GetIDTokenResult is GetIDToken with the token's claims decoded.
func (u *User) GetIDTokenResult(ctx context.Context, forceRefresh bool) (*IDTokenResult, error) {
	token, err := u.GetIDToken(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	claims, err := jwtx.ParseUnverified(token)
	if err != nil {
		return nil, ErrInternal.WithMessage(err.Error())
	}

	res := &IDTokenResult{
		Token:          token,
		AuthTime:       time.Unix(claims.AuthTime, 0),
		ExpirationTime: claims.ExpirationTime(),
		SignInProvider: claims.Provider,
		SecondFactor:   claims.SecondFactor,
		Claims:         claims,
	}
	if claims.IssuedAt != nil {
		res.IssuedAt = claims.IssuedAt.Time
	}
	return res, nil
}

// Reload refreshes the profile from the backend.
func (u *User) Reload(ctx context.Context) error {
	token, err := u.GetIDToken(ctx, false)
	if err != nil {
		return err
	}

	info, err := u.env.gateway.GetAccountInfo(ctx, token)
	if err != nil {
		return u.checkInvalidation(err)
	}
	if info.LocalID != u.uid {
		return ErrUserMismatch
	}

	u.applyAccountInfo(info)
	u.emit(userEvent{kind: userProfileChanged})
	return nil
}

// ProfileUpdate changes the display name and photo URL. Nil fields are left
// alone; pointers to "" delete the attribute.
type ProfileUpdate struct {
	DisplayName *string
	PhotoURL    *string
}

// UpdateProfile writes the given profile fields to the backend.
func (u *User) UpdateProfile(ctx context.Context, p ProfileUpdate) error {
	if p.DisplayName == nil && p.PhotoURL == nil {
		return nil
	}

	token, err := u.GetIDToken(ctx, false)
	if err != nil {
		return err
	}

	req := &UpdateProfileRequest{IDToken: token}
	if p.DisplayName != nil {
		if *p.DisplayName == "" {
			req.Delete = append(req.Delete, "DISPLAY_NAME")
		}
		req.DisplayName = *p.DisplayName
	}
	if p.PhotoURL != nil {
		if *p.PhotoURL == "" {
			req.Delete = append(req.Delete, "PHOTO_URL")
		}
		req.PhotoURL = *p.PhotoURL
	}

	resp, err := u.env.gateway.UpdateProfile(ctx, req)
	if err != nil {
		return u.checkInvalidation(err)
	}

	u.mu.Lock()
	if p.DisplayName != nil {
		u.displayName = *p.DisplayName
	}
	if p.PhotoURL != nil {
		u.photoURL = *p.PhotoURL
	}
	for i := range u.providerData {
		if u.providerData[i].ProviderID == jwtx.ProviderPassword {
			u.providerData[i].DisplayName = u.displayName
			u.providerData[i].PhotoURL = u.photoURL
		}
	}
	tokenChanged := resp.IDToken != "" && resp.IDToken != u.tokens.AccessToken
	if tokenChanged {
		u.tokens.AccessToken = resp.IDToken
		if resp.RefreshToken != "" {
			u.tokens.RefreshToken = resp.RefreshToken
		}
		u.tokens.ExpirationTime = expirationFor(u.env.clock.Now(), resp.IDToken, resp.ExpiresIn)
	}
	u.mu.Unlock()

	if tokenChanged {
		u.emit(userEvent{kind: userTokenChanged})
	} else {
		u.emit(userEvent{kind: userProfileChanged})
	}
	return nil
}

// Delete deletes the account on the backend. The owning Auth signs out when
// the deleted user is current.
func (u *User) Delete(ctx context.Context) error {
	token, err := u.GetIDToken(ctx, false)
	if err != nil {
		return err
	}
	if err := u.env.gateway.DeleteAccount(ctx, token); err != nil {
		return u.checkInvalidation(err)
	}

	u.mu.Lock()
	u.deleted = true
	u.mu.Unlock()

	u.emit(userEvent{kind: userDeleted})
	return nil
}
