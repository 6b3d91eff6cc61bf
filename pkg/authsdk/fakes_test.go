package authsdk

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/authstate/pkg/clockx"
	"github.com/aussiebroadwan/authstate/pkg/storage"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey = "key123"
	testDomain = "auth.example.com"
)

func newTestClock() *clockx.Fake { return clockx.NewFake(time.Unix(1700000000, 0)) }

// ============================================================================
// Fake Gateway
// ============================================================================

type fakeAccount struct {
	info     AccountInfo
	password string
	mfa      bool
}

// fakeGateway is an in-memory backend. Tokens are opaque strings.
type fakeGateway struct {
	mu       sync.Mutex
	seq      int
	accounts map[string]*fakeAccount
	byEmail  map[string]string
	idTokens map[string]string
	refresh  map[string]string
	pending  map[string]string
	calls    map[string]int

	lookupErr  error
	refreshErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		accounts: make(map[string]*fakeAccount),
		byEmail:  make(map[string]string),
		idTokens: make(map[string]string),
		refresh:  make(map[string]string),
		pending:  make(map[string]string),
		calls:    make(map[string]int),
	}
}

var _ Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) addUser(uid, email, password string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addUserLocked(uid, email, password)
}

func (g *fakeGateway) addUserLocked(uid, email, password string) *fakeAccount {
	acct := &fakeAccount{
		info: AccountInfo{
			LocalID: uid,
			Email:   email,
		},
		password: password,
	}
	if password != "" {
		acct.info.PasswordHash = "hash"
		acct.info.ProviderUserInfo = []ProviderUserInfo{{ProviderID: ProviderIDPassword, RawID: email, Email: email}}
	}
	g.accounts[uid] = acct
	if email != "" {
		g.byEmail[email] = uid
	}
	return acct
}

func (g *fakeGateway) updateAccount(uid string, fn func(*AccountInfo)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.accounts[uid].info)
}

func (g *fakeGateway) callCount(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *fakeGateway) setLookupErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookupErr = err
}

func (g *fakeGateway) setRefreshErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshErr = err
}

func (g *fakeGateway) mintLocked(uid string) *IDTokenResponse {
	g.seq++
	id := fmt.Sprintf("id-%s-%d", uid, g.seq)
	rt := fmt.Sprintf("rt-%s-%d", uid, g.seq)
	g.idTokens[id] = uid
	g.refresh[rt] = uid

	acct := g.accounts[uid]
	return &IDTokenResponse{
		IDToken:      id,
		RefreshToken: rt,
		ExpiresIn:    3600,
		LocalID:      uid,
		Email:        acct.info.Email,
	}
}

func (g *fakeGateway) VerifyPassword(_ context.Context, req *VerifyPasswordRequest) (*IDTokenResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["VerifyPassword"]++

	uid, ok := g.byEmail[req.Email]
	if !ok {
		return nil, ErrUserDeleted
	}
	acct := g.accounts[uid]
	if acct.password != req.Password {
		return nil, ErrWrongPassword
	}
	if acct.mfa {
		g.seq++
		pending := fmt.Sprintf("mfa-%d", g.seq)
		g.pending[pending] = uid
		return &IDTokenResponse{
			MFAPendingCredential: pending,
			MFAInfo:              []MFAEnrollment{{MFAEnrollmentID: "enr-1", FactorID: FactorIDTOTP, DisplayName: "phone app"}},
		}, nil
	}
	return g.mintLocked(uid), nil
}

func (g *fakeGateway) CreateAccount(_ context.Context, req *SignUpRequest) (*IDTokenResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["CreateAccount"]++

	if _, ok := g.byEmail[req.Email]; ok {
		return nil, ErrEmailExists
	}
	g.seq++
	uid := fmt.Sprintf("user-%d", g.seq)
	g.addUserLocked(uid, req.Email, req.Password)
	resp := g.mintLocked(uid)
	resp.IsNewUser = true
	return resp, nil
}

func (g *fakeGateway) VerifyCustomToken(_ context.Context, req *VerifyCustomTokenRequest) (*IDTokenResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["VerifyCustomToken"]++

	if _, ok := g.accounts[req.Token]; !ok {
		g.addUserLocked(req.Token, "", "")
	}
	return g.mintLocked(req.Token), nil
}

func (g *fakeGateway) SignInAnonymously(context.Context) (*IDTokenResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["SignInAnonymously"]++

	g.seq++
	uid := fmt.Sprintf("anon-%d", g.seq)
	g.addUserLocked(uid, "", "")
	resp := g.mintLocked(uid)
	resp.IsNewUser = true
	return resp, nil
}

// VerifyAssertion signs in the uid named in the post body.
func (g *fakeGateway) VerifyAssertion(_ context.Context, req *VerifyAssertionRequest) (*IDTokenResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["VerifyAssertion"]++

	if req.RequestURI == "" {
		return nil, ErrArgument
	}
	body, err := url.ParseQuery(req.PostBody)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	uid := body.Get("uid")
	if req.IDToken != "" {
		linked, ok := g.idTokens[req.IDToken]
		if !ok {
			return nil, ErrInvalidUserToken
		}
		uid = linked
	}
	if uid == "" {
		return nil, ErrInvalidCredential
	}
	if _, ok := g.accounts[uid]; !ok {
		g.addUserLocked(uid, uid+"@idp.example.com", "")
		g.accounts[uid].info.ProviderUserInfo = []ProviderUserInfo{{ProviderID: "idp.example.com", RawID: uid}}
	}
	resp := g.mintLocked(uid)
	resp.ProviderID = "idp.example.com"
	resp.OAuthAccessToken = "oauth-" + uid
	return resp, nil
}

func (g *fakeGateway) SignInWithEmailLink(_ context.Context, req *EmailLinkSignInRequest) (*IDTokenResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["SignInWithEmailLink"]++

	if req.OOBCode != "good-code" {
		return nil, ErrInvalidActionCode
	}
	uid, ok := g.byEmail[req.Email]
	if !ok {
		g.seq++
		uid = fmt.Sprintf("user-%d", g.seq)
		g.addUserLocked(uid, req.Email, "")
	}
	return g.mintLocked(uid), nil
}

func (g *fakeGateway) SendVerificationCode(_ context.Context, req *SendVerificationCodeRequest) (*SendVerificationCodeResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["SendVerificationCode"]++
	return &SendVerificationCodeResponse{SessionInfo: "session-" + req.PhoneNumber}, nil
}

func (g *fakeGateway) VerifyPhoneNumber(_ context.Context, req *VerifyPhoneNumberRequest) (*IDTokenResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["VerifyPhoneNumber"]++

	if req.Code != "123456" {
		return nil, ErrInvalidVerificationCode
	}
	uid := "phone-" + req.SessionInfo
	if _, ok := g.accounts[uid]; !ok {
		acct := g.addUserLocked(uid, "", "")
		acct.info.PhoneNumber = "+61400000000"
	}
	return g.mintLocked(uid), nil
}

func (g *fakeGateway) FinalizeMFASignIn(_ context.Context, req *FinalizeMFARequest) (*IDTokenResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["FinalizeMFASignIn"]++

	uid, ok := g.pending[req.MFAPendingCredential]
	if !ok || req.TOTPCode != "654321" {
		return nil, ErrInvalidVerificationCode
	}
	delete(g.pending, req.MFAPendingCredential)
	return g.mintLocked(uid), nil
}

func (g *fakeGateway) GetAccountInfo(_ context.Context, idToken string) (*AccountInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["GetAccountInfo"]++

	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	uid, ok := g.idTokens[idToken]
	if !ok {
		return nil, ErrInvalidUserToken
	}
	acct, ok := g.accounts[uid]
	if !ok {
		return nil, ErrUserDeleted
	}
	info := acct.info
	return &info, nil
}

func (g *fakeGateway) RefreshToken(_ context.Context, refreshToken string) (*TokenRefreshResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["RefreshToken"]++

	if g.refreshErr != nil {
		return nil, g.refreshErr
	}
	uid, ok := g.refresh[refreshToken]
	if !ok {
		return nil, ErrInvalidUserToken
	}
	resp := g.mintLocked(uid)
	return &TokenRefreshResponse{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		UserID:       uid,
	}, nil
}

func (g *fakeGateway) DeleteAccount(_ context.Context, idToken string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["DeleteAccount"]++

	uid, ok := g.idTokens[idToken]
	if !ok {
		return ErrInvalidUserToken
	}
	delete(g.byEmail, g.accounts[uid].info.Email)
	delete(g.accounts, uid)
	return nil
}

func (g *fakeGateway) UpdateProfile(_ context.Context, req *UpdateProfileRequest) (*UpdateProfileResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["UpdateProfile"]++

	uid, ok := g.idTokens[req.IDToken]
	if !ok {
		return nil, ErrInvalidUserToken
	}
	acct := g.accounts[uid]
	acct.info.DisplayName = req.DisplayName
	acct.info.PhotoURL = req.PhotoURL
	return &UpdateProfileResponse{LocalID: uid, DisplayName: req.DisplayName, PhotoURL: req.PhotoURL}, nil
}

func (g *fakeGateway) SendSignInLinkToEmail(_ context.Context, req *OOBCodeRequest) (*OOBCodeResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["SendSignInLinkToEmail"]++
	return &OOBCodeResponse{Email: req.Email}, nil
}

func (g *fakeGateway) SendPasswordResetEmail(_ context.Context, req *OOBCodeRequest) (*OOBCodeResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["SendPasswordResetEmail"]++

	if _, ok := g.byEmail[req.Email]; !ok {
		return nil, ErrUserDeleted
	}
	return &OOBCodeResponse{Email: req.Email}, nil
}

func (g *fakeGateway) ConfirmPasswordReset(_ context.Context, req *ResetPasswordRequest) (*ResetPasswordResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["ConfirmPasswordReset"]++

	if req.OOBCode != "reset-code" {
		return nil, ErrInvalidActionCode
	}
	return &ResetPasswordResponse{Email: "ann@example.com", RequestType: OOBPasswordReset}, nil
}

func (g *fakeGateway) CheckActionCode(_ context.Context, oobCode string) (*ResetPasswordResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["CheckActionCode"]++

	switch oobCode {
	case "reset-code":
		return &ResetPasswordResponse{Email: "ann@example.com", RequestType: OOBPasswordReset}, nil
	case "verify-code":
		return &ResetPasswordResponse{Email: "ann@example.com", RequestType: OOBVerifyEmail}, nil
	}
	return nil, ErrInvalidActionCode
}

func (g *fakeGateway) ApplyActionCode(_ context.Context, oobCode string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["ApplyActionCode"]++

	if oobCode != "verify-code" {
		return ErrInvalidActionCode
	}
	return nil
}

func (g *fakeGateway) FetchSignInMethodsForIdentifier(_ context.Context, req *CreateAuthURIRequest) (*CreateAuthURIResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["FetchSignInMethodsForIdentifier"]++

	uid, ok := g.byEmail[req.Identifier]
	if !ok {
		return &CreateAuthURIResponse{}, nil
	}
	var methods []string
	for _, p := range g.accounts[uid].info.ProviderUserInfo {
		methods = append(methods, p.ProviderID)
	}
	return &CreateAuthURIResponse{Registered: true, SignInMethods: methods}, nil
}

// ============================================================================
// Fake Window
// ============================================================================

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeWindow struct {
	url    string
	log    *callLog
	closed atomic.Bool
	closes atomic.Int32
}

func (w *fakeWindow) Close() {
	w.closes.Add(1)
	w.closed.Store(true)
	if w.log != nil {
		w.log.add("close")
	}
}

func (w *fakeWindow) Closed() bool { return w.closed.Load() }

func (w *fakeWindow) eventID(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(w.url)
	require.NoError(t, err)
	return u.Query().Get("eventId")
}

// popupRecorder is a PopupOpener handing each window to the test.
type popupRecorder struct {
	windows chan *fakeWindow
	log     *callLog
}

func newPopupRecorder() *popupRecorder {
	return &popupRecorder{windows: make(chan *fakeWindow, 8)}
}

func (p *popupRecorder) open(u string) (Window, error) {
	w := &fakeWindow{url: u, log: p.log}
	p.windows <- w
	return w, nil
}

func (p *popupRecorder) next(t *testing.T) *fakeWindow {
	t.Helper()
	select {
	case w := <-p.windows:
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("popup was not opened")
		return nil
	}
}

// recordingClock logs every timer Stop.
type recordingClock struct {
	*clockx.Fake
	log *callLog
}

func (c recordingClock) AfterFunc(d time.Duration, f func()) clockx.Timer {
	return recordingTimer{Timer: c.Fake.AfterFunc(d, f), log: c.log}
}

type recordingTimer struct {
	clockx.Timer
	log *callLog
}

func (t recordingTimer) Stop() bool {
	t.log.add("stop")
	return t.Timer.Stop()
}

// ============================================================================
// Harness
// ============================================================================

// userRecorder collects the uids an observer was called with; "" is nil.
type userRecorder struct {
	mu   sync.Mutex
	uids []string
}

func (r *userRecorder) observe(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uids = append(r.uids, uidOf(u))
}

func (r *userRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.uids...)
}

func (r *userRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uids = nil
}

type harness struct {
	gateway *fakeGateway
	clock   *clockx.Fake
	manager *storage.Manager
	popups  *popupRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newTestClock()
	m := storage.NewManager(context.Background(), storage.Options{Clock: clock})
	t.Cleanup(func() { _ = m.Close() })
	return &harness{
		gateway: newFakeGateway(),
		clock:   clock,
		manager: m,
		popups:  newPopupRecorder(),
	}
}

func (h *harness) config() Config {
	return Config{
		APIKey:      testAPIKey,
		AuthDomain:  testDomain,
		Gateway:     h.gateway,
		Storage:     h.manager,
		Clock:       h.clock,
		PopupOpener: h.popups.open,
	}
}

// start creates an Auth from cfg and waits for its state to resolve.
func start(t *testing.T, cfg Config) *Auth {
	t.Helper()
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Delete(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Ready(ctx))
	return a
}

func (h *harness) start(t *testing.T) *Auth {
	t.Helper()
	return start(t, h.config())
}
