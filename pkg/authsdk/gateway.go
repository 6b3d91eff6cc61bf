package authsdk

import "context"

// Gateway is the identity backend's RPC surface as the SDK consumes it. Every
// method fails with an *AuthError; transport failures are reported as
// ErrNetworkRequestFailed. SDKClient implements it over HTTP and the emulator
// implements it in-process.
type Gateway interface {
	VerifyPassword(ctx context.Context, req *VerifyPasswordRequest) (*IDTokenResponse, error)
	CreateAccount(ctx context.Context, req *SignUpRequest) (*IDTokenResponse, error)
	VerifyCustomToken(ctx context.Context, req *VerifyCustomTokenRequest) (*IDTokenResponse, error)
	SignInAnonymously(ctx context.Context) (*IDTokenResponse, error)
	VerifyAssertion(ctx context.Context, req *VerifyAssertionRequest) (*IDTokenResponse, error)
	SignInWithEmailLink(ctx context.Context, req *EmailLinkSignInRequest) (*IDTokenResponse, error)

	SendVerificationCode(ctx context.Context, req *SendVerificationCodeRequest) (*SendVerificationCodeResponse, error)
	VerifyPhoneNumber(ctx context.Context, req *VerifyPhoneNumberRequest) (*IDTokenResponse, error)
	FinalizeMFASignIn(ctx context.Context, req *FinalizeMFARequest) (*IDTokenResponse, error)

	GetAccountInfo(ctx context.Context, idToken string) (*AccountInfo, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenRefreshResponse, error)
	DeleteAccount(ctx context.Context, idToken string) error
	UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*UpdateProfileResponse, error)

	SendSignInLinkToEmail(ctx context.Context, req *OOBCodeRequest) (*OOBCodeResponse, error)
	SendPasswordResetEmail(ctx context.Context, req *OOBCodeRequest) (*OOBCodeResponse, error)
	ConfirmPasswordReset(ctx context.Context, req *ResetPasswordRequest) (*ResetPasswordResponse, error)
	CheckActionCode(ctx context.Context, oobCode string) (*ResetPasswordResponse, error)
	ApplyActionCode(ctx context.Context, oobCode string) error
	FetchSignInMethodsForIdentifier(ctx context.Context, req *CreateAuthURIRequest) (*CreateAuthURIResponse, error)
}
