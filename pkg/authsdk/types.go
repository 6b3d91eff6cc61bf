package authsdk

// ============================================================================
// Error Envelope
// ============================================================================

// ErrorBody is the inner error object of a failed gateway call.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope every failed gateway call answers with.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ============================================================================
// Sign-in Requests
// ============================================================================

type VerifyPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenantId,omitempty"`
}

// SignUpRequest creates an account. An empty request creates an anonymous one.
type SignUpRequest struct {
	Email       string `json:"email,omitempty"`
	Password    string `json:"password,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	TenantID    string `json:"tenantId,omitempty"`
}

type VerifyCustomTokenRequest struct {
	Token    string `json:"token"`
	TenantID string `json:"tenantId,omitempty"`
}

// VerifyAssertionRequest exchanges an identity provider callback for a
// session. RequestURI, SessionID and PostBody come from the auth event.
type VerifyAssertionRequest struct {
	RequestURI   string `json:"requestUri"`
	SessionID    string `json:"sessionId,omitempty"`
	PostBody     string `json:"postBody,omitempty"`
	PendingToken string `json:"pendingToken,omitempty"`
	// IDToken links the assertion to an existing user instead of signing in.
	IDToken  string `json:"idToken,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
}

type EmailLinkSignInRequest struct {
	Email   string `json:"email"`
	OOBCode string `json:"oobCode"`
}

type SendVerificationCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type SendVerificationCodeResponse struct {
	SessionInfo string `json:"sessionInfo"`
}

type VerifyPhoneNumberRequest struct {
	SessionInfo string `json:"sessionInfo"`
	Code        string `json:"code"`
}

type FinalizeMFARequest struct {
	MFAPendingCredential string `json:"mfaPendingCredential"`
	MFAEnrollmentID      string `json:"mfaEnrollmentId"`
	TOTPCode             string `json:"totpCode"`
}

// ============================================================================
// Token Responses
// ============================================================================

// MFAEnrollment describes one enrolled second factor.
type MFAEnrollment struct {
	MFAEnrollmentID string `json:"mfaEnrollmentId"`
	DisplayName     string `json:"displayName,omitempty"`
	FactorID        string `json:"factorId"`
	EnrolledAt      string `json:"enrolledAt,omitempty"`
}

// IDTokenResponse is returned by every sign-in entry point.
type IDTokenResponse struct {
	IDToken      string `json:"idToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
	LocalID      string `json:"localId,omitempty"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	PhotoURL     string `json:"photoUrl,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
	IsNewUser    bool   `json:"isNewUser,omitempty"`
	ProviderID   string `json:"providerId,omitempty"`
	TenantID     string `json:"tenantId,omitempty"`

	// RawUserInfo is the provider profile as a JSON object string.
	RawUserInfo      string `json:"rawUserInfo,omitempty"`
	OAuthAccessToken string `json:"oauthAccessToken,omitempty"`
	OAuthIDToken     string `json:"oauthIdToken,omitempty"`
	PendingToken     string `json:"pendingToken,omitempty"`

	// A second factor is required when MFAPendingCredential is set; the
	// token fields are empty in that case.
	MFAPendingCredential string          `json:"mfaPendingCredential,omitempty"`
	MFAInfo              []MFAEnrollment `json:"mfaInfo,omitempty"`
}

type RefreshTokenRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

// TokenRefreshResponse is the answer of the secure token endpoint.
type TokenRefreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
}

// ============================================================================
// Account Data
// ============================================================================

type ProviderUserInfo struct {
	ProviderID  string `json:"providerId"`
	RawID       string `json:"rawId,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type AccountInfo struct {
	LocalID          string             `json:"localId"`
	Email            string             `json:"email,omitempty"`
	EmailVerified    bool               `json:"emailVerified,omitempty"`
	DisplayName      string             `json:"displayName,omitempty"`
	PhotoURL         string             `json:"photoUrl,omitempty"`
	PhoneNumber      string             `json:"phoneNumber,omitempty"`
	Disabled         bool               `json:"disabled,omitempty"`
	PasswordHash     string             `json:"passwordHash,omitempty"`
	ProviderUserInfo []ProviderUserInfo `json:"providerUserInfo,omitempty"`
	MFAInfo          []MFAEnrollment    `json:"mfaInfo,omitempty"`
	TenantID         string             `json:"tenantId,omitempty"`
	CreatedAt        int64              `json:"createdAt,omitempty"`
	LastLoginAt      int64              `json:"lastLoginAt,omitempty"`
}

type IDTokenRequest struct {
	IDToken string `json:"idToken"`
}

type GetAccountInfoResponse struct {
	Users []AccountInfo `json:"users"`
}

type UpdateProfileRequest struct {
	IDToken     string   `json:"idToken"`
	DisplayName string   `json:"displayName,omitempty"`
	PhotoURL    string   `json:"photoUrl,omitempty"`
	Delete      []string `json:"deleteAttribute,omitempty"`
}

type UpdateProfileResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	PhotoURL     string `json:"photoUrl,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}

// ============================================================================
// Email Actions
// ============================================================================

// Out-of-band request types.
const (
	OOBPasswordReset = "PASSWORD_RESET"
	OOBEmailSignIn   = "EMAIL_SIGNIN"
	OOBVerifyEmail   = "VERIFY_EMAIL"
)

// ActionCodeSettings controls the link delivered with an out-of-band code.
type ActionCodeSettings struct {
	URL             string `json:"continueUrl,omitempty"`
	HandleCodeInApp bool   `json:"canHandleCodeInApp,omitempty"`
}

type OOBCodeRequest struct {
	RequestType string `json:"requestType"`
	Email       string `json:"email,omitempty"`
	IDToken     string `json:"idToken,omitempty"`
	ActionCodeSettings

	// LanguageCode localizes the email the backend sends.
	LanguageCode string `json:"languageCode,omitempty"`
}

type OOBCodeResponse struct {
	Email string `json:"email"`
}

// ResetPasswordRequest confirms a reset when NewPassword is set and only
// inspects the code otherwise.
type ResetPasswordRequest struct {
	OOBCode     string `json:"oobCode"`
	NewPassword string `json:"newPassword,omitempty"`
}

type ResetPasswordResponse struct {
	Email       string `json:"email"`
	NewEmail    string `json:"newEmail,omitempty"`
	RequestType string `json:"requestType"`
}

type ApplyActionCodeRequest struct {
	OOBCode string `json:"oobCode"`
}

type CreateAuthURIRequest struct {
	Identifier  string `json:"identifier"`
	ContinueURI string `json:"continueUri"`
}

type CreateAuthURIResponse struct {
	Registered    bool     `json:"registered"`
	SignInMethods []string `json:"signinMethods,omitempty"`
}

// ActionCodeInfo is what CheckActionCode reports about a code.
type ActionCodeInfo struct {
	Operation string
	Email     string
}
