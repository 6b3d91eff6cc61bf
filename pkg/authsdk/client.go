package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SDKClient is the HTTP Gateway. Every RPC is a JSON POST to
// {BaseURL}/v1/{method}?key={APIKey}.
type SDKClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

var _ Gateway = (*SDKClient)(nil)

// NewSDKClient creates a gateway client for the identity backend at baseURL.
func NewSDKClient(baseURL, apiKey string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *SDKClient) signIn(ctx context.Context, method string, req any) (*IDTokenResponse, error) {
	var out IDTokenResponse
	if err := c.call(ctx, method, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) VerifyPassword(ctx context.Context, req *VerifyPasswordRequest) (*IDTokenResponse, error) {
	return c.signIn(ctx, "accounts:signInWithPassword", req)
}

func (c *SDKClient) CreateAccount(ctx context.Context, req *SignUpRequest) (*IDTokenResponse, error) {
	return c.signIn(ctx, "accounts:signUp", req)
}

func (c *SDKClient) VerifyCustomToken(ctx context.Context, req *VerifyCustomTokenRequest) (*IDTokenResponse, error) {
	return c.signIn(ctx, "accounts:signInWithCustomToken", req)
}

// SignInAnonymously signs up with an empty request, which the backend answers
// with a fresh anonymous account.
func (c *SDKClient) SignInAnonymously(ctx context.Context) (*IDTokenResponse, error) {
	return c.signIn(ctx, "accounts:signUp", &SignUpRequest{})
}

func (c *SDKClient) VerifyAssertion(ctx context.Context, req *VerifyAssertionRequest) (*IDTokenResponse, error) {
	return c.signIn(ctx, "accounts:signInWithIdp", req)
}

func (c *SDKClient) SignInWithEmailLink(ctx context.Context, req *EmailLinkSignInRequest) (*IDTokenResponse, error) {
	return c.signIn(ctx, "accounts:signInWithEmailLink", req)
}

func (c *SDKClient) SendVerificationCode(
	ctx context.Context,
	req *SendVerificationCodeRequest,
) (*SendVerificationCodeResponse, error) {
	var out SendVerificationCodeResponse
	if err := c.call(ctx, "accounts:sendVerificationCode", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) VerifyPhoneNumber(ctx context.Context, req *VerifyPhoneNumberRequest) (*IDTokenResponse, error) {
	return c.signIn(ctx, "accounts:signInWithPhoneNumber", req)
}

func (c *SDKClient) FinalizeMFASignIn(ctx context.Context, req *FinalizeMFARequest) (*IDTokenResponse, error) {
	return c.signIn(ctx, "mfaSignIn:finalize", req)
}

// GetAccountInfo looks up the account owning idToken.
func (c *SDKClient) GetAccountInfo(ctx context.Context, idToken string) (*AccountInfo, error) {
	var out GetAccountInfoResponse
	if err := c.call(ctx, "accounts:lookup", &IDTokenRequest{IDToken: idToken}, &out); err != nil {
		return nil, err
	}
	if len(out.Users) == 0 {
		return nil, ErrUserDeleted
	}
	return &out.Users[0], nil
}

// RefreshToken exchanges a refresh token at the secure token endpoint.
func (c *SDKClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenRefreshResponse, error) {
	req := &RefreshTokenRequest{GrantType: "refresh_token", RefreshToken: refreshToken}

	var out TokenRefreshResponse
	if err := c.call(ctx, "token", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) DeleteAccount(ctx context.Context, idToken string) error {
	return c.call(ctx, "accounts:delete", &IDTokenRequest{IDToken: idToken}, nil)
}

func (c *SDKClient) UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*UpdateProfileResponse, error) {
	var out UpdateProfileResponse
	if err := c.call(ctx, "accounts:update", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) SendSignInLinkToEmail(ctx context.Context, req *OOBCodeRequest) (*OOBCodeResponse, error) {
	req.RequestType = OOBEmailSignIn
	return c.sendOOBCode(ctx, req)
}

func (c *SDKClient) SendPasswordResetEmail(ctx context.Context, req *OOBCodeRequest) (*OOBCodeResponse, error) {
	req.RequestType = OOBPasswordReset
	return c.sendOOBCode(ctx, req)
}

func (c *SDKClient) sendOOBCode(ctx context.Context, req *OOBCodeRequest) (*OOBCodeResponse, error) {
	var out OOBCodeResponse
	if err := c.call(ctx, "accounts:sendOobCode", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) ConfirmPasswordReset(ctx context.Context, req *ResetPasswordRequest) (*ResetPasswordResponse, error) {
	if req.NewPassword == "" {
		return nil, ErrWeakPassword
	}
	return c.resetPassword(ctx, req)
}

// CheckActionCode inspects oobCode without consuming it.
func (c *SDKClient) CheckActionCode(ctx context.Context, oobCode string) (*ResetPasswordResponse, error) {
	return c.resetPassword(ctx, &ResetPasswordRequest{OOBCode: oobCode})
}

func (c *SDKClient) resetPassword(ctx context.Context, req *ResetPasswordRequest) (*ResetPasswordResponse, error) {
	var out ResetPasswordResponse
	if err := c.call(ctx, "accounts:resetPassword", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) ApplyActionCode(ctx context.Context, oobCode string) error {
	return c.call(ctx, "accounts:update", &ApplyActionCodeRequest{OOBCode: oobCode}, nil)
}

func (c *SDKClient) FetchSignInMethodsForIdentifier(
	ctx context.Context,
	req *CreateAuthURIRequest,
) (*CreateAuthURIResponse, error) {
	var out CreateAuthURIResponse
	if err := c.call(ctx, "accounts:createAuthUri", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
