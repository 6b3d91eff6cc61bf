package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ============================================================================
// Error Codes
// ============================================================================

const (
	// Lifecycle and popup/redirect flow
	CodeModuleDestroyed          = "auth/app-deleted"
	CodeExpiredPopupRequest      = "auth/expired-popup-request"
	CodeCancelledPopupRequest    = "auth/cancelled-popup-request"
	CodeTimeout                  = "auth/timeout"
	CodeOperationNotSupported    = "auth/operation-not-supported-in-this-environment"
	CodePopupClosedByUser        = "auth/popup-closed-by-user"
	CodePopupBlocked             = "auth/popup-blocked"
	CodeNoAuthEvent              = "auth/no-auth-event"
	CodeInvalidAuthEvent         = "auth/invalid-auth-event"
	CodeRedirectCancelled        = "auth/redirect-cancelled-by-user"
	CodeRedirectOperationPending = "auth/redirect-operation-pending"

	// Token and user state
	CodeNetworkRequestFailed = "auth/network-request-failed"
	CodeTokenExpired         = "auth/user-token-expired"
	CodeInvalidUserToken     = "auth/invalid-user-token"
	CodeUserDeleted          = "auth/user-not-found"
	CodeUserMismatch         = "auth/user-mismatch"
	CodeUserDisabled         = "auth/user-disabled"
	CodeNullUser             = "auth/null-user"
	CodeUserSignedOut        = "auth/user-signed-out"
	CodeRequiresRecentLogin  = "auth/requires-recent-login"
	CodeInternalError        = "auth/internal-error"

	// Configuration
	CodeInvalidAPIKey          = "auth/invalid-api-key"
	CodeInvalidPersistence     = "auth/invalid-persistence-type"
	CodeUnsupportedPersistence = "auth/unsupported-persistence-type"
	CodeWebStorageUnsupported  = "auth/web-storage-unsupported"
	CodeArgumentError          = "auth/argument-error"

	// Credentials and accounts
	CodeMFARequired             = "auth/multi-factor-auth-required"
	CodeWrongPassword           = "auth/wrong-password"
	CodeEmailExists             = "auth/email-already-in-use"
	CodeWeakPassword            = "auth/weak-password"
	CodeInvalidEmail            = "auth/invalid-email"
	CodeTooManyRequests         = "auth/too-many-requests"
	CodeInvalidCustomToken      = "auth/invalid-custom-token"
	CodeCustomTokenMismatch     = "auth/custom-token-mismatch"
	CodeCredentialAlreadyInUse  = "auth/credential-already-in-use"
	CodeInvalidCredential       = "auth/invalid-credential"
	CodeInvalidActionCode       = "auth/invalid-action-code"
	CodeExpiredActionCode       = "auth/expired-action-code"
	CodeInvalidVerificationCode = "auth/invalid-verification-code"
)

// ============================================================================
// AuthError
// ============================================================================

// AuthError is the typed error every SDK operation fails with. Two AuthErrors
// match under errors.Is when their codes are equal, so callers compare
// against the predefined values below.
type AuthError struct {
	// Code is the "auth/..." error code.
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// StatusCode is the HTTP status the gateway answered with, if any.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on code.
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *AuthError) WithMessage(msg string) *AuthError {
	cp := *e
	cp.Message = msg
	return &cp
}

// NewError creates an AuthError.
func NewError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// ErrorCode extracts the auth code from err, or "" if err is not an AuthError.
func ErrorCode(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// ============================================================================
// Predefined Errors
// ============================================================================

var (
	ErrModuleDestroyed       = NewError(CodeModuleDestroyed, "this auth instance has been deleted")
	ErrExpiredPopupRequest   = NewError(CodeExpiredPopupRequest, "this operation has been cancelled due to another conflicting popup being opened")
	ErrCancelledPopupRequest = NewError(CodeCancelledPopupRequest, "this operation has been cancelled due to another conflicting popup being opened")
	ErrTimeout               = NewError(CodeTimeout, "the operation has timed out")
	ErrOperationNotSupported = NewError(CodeOperationNotSupported, "this operation is not supported in the environment this instance is running on")
	ErrPopupClosedByUser     = NewError(CodePopupClosedByUser, "the popup has been closed by the user before finalizing the operation")
	ErrPopupBlocked          = NewError(CodePopupBlocked, "unable to establish a connection with the popup")
	ErrNoAuthEvent           = NewError(CodeNoAuthEvent, "an internal error has occurred")
	ErrInvalidAuthEvent      = NewError(CodeInvalidAuthEvent, "an internal error has occurred")
	ErrRedirectCancelled     = NewError(CodeRedirectCancelled, "the redirect operation has been cancelled by the user before finalizing")
	ErrRedirectPending       = NewError(CodeRedirectOperationPending, "a redirect sign-in operation is already pending")

	ErrNetworkRequestFailed = NewError(CodeNetworkRequestFailed, "a network error (such as timeout, interrupted connection or unreachable host) has occurred")
	ErrTokenExpired         = NewError(CodeTokenExpired, "the user's credential is no longer valid, the user must sign in again")
	ErrInvalidUserToken     = NewError(CodeInvalidUserToken, "this user's credential isn't valid for this project")
	ErrUserDeleted          = NewError(CodeUserDeleted, "there is no user record corresponding to this identifier")
	ErrUserMismatch         = NewError(CodeUserMismatch, "the supplied credentials do not correspond to the previously signed in user")
	ErrUserDisabled         = NewError(CodeUserDisabled, "the user account has been disabled by an administrator")
	ErrNullUser             = NewError(CodeNullUser, "a null user object was provided as the argument for an operation which requires a non-null user object")
	ErrUserSignedOut        = NewError(CodeUserSignedOut, "the user is signed out")
	ErrRequiresRecentLogin  = NewError(CodeRequiresRecentLogin, "this operation is sensitive and requires recent authentication")
	ErrInternal             = NewError(CodeInternalError, "an internal error has occurred")

	ErrInvalidAPIKey          = NewError(CodeInvalidAPIKey, "your API key is invalid, please check you have copied it correctly")
	ErrInvalidPersistence     = NewError(CodeInvalidPersistence, "the specified persistence type is invalid, it can only be local, session or none")
	ErrUnsupportedPersistence = NewError(CodeUnsupportedPersistence, "the current environment does not support the specified persistence type")
	ErrWebStorageUnsupported  = NewError(CodeWebStorageUnsupported, "this environment is not supported or storage is disabled")
	ErrArgument               = NewError(CodeArgumentError, "invalid argument")

	ErrMFARequired             = NewError(CodeMFARequired, "proof of ownership of a second factor is required to complete sign-in")
	ErrWrongPassword           = NewError(CodeWrongPassword, "the password is invalid or the user does not have a password")
	ErrEmailExists             = NewError(CodeEmailExists, "the email address is already in use by another account")
	ErrWeakPassword            = NewError(CodeWeakPassword, "the password must be 6 characters long or more")
	ErrInvalidEmail            = NewError(CodeInvalidEmail, "the email address is badly formatted")
	ErrTooManyRequests         = NewError(CodeTooManyRequests, "we have blocked all requests from this device due to unusual activity, try again later")
	ErrInvalidCustomToken      = NewError(CodeInvalidCustomToken, "the custom token format is incorrect")
	ErrCustomTokenMismatch     = NewError(CodeCustomTokenMismatch, "the custom token corresponds to a different audience")
	ErrCredentialAlreadyInUse  = NewError(CodeCredentialAlreadyInUse, "this credential is already associated with a different user account")
	ErrInvalidCredential       = NewError(CodeInvalidCredential, "the supplied auth credential is malformed or has expired")
	ErrInvalidActionCode       = NewError(CodeInvalidActionCode, "the action code is invalid, it may be malformed, expired or already used")
	ErrExpiredActionCode       = NewError(CodeExpiredActionCode, "the action code has expired")
	ErrInvalidVerificationCode = NewError(CodeInvalidVerificationCode, "the verification code used to create the phone auth credential is invalid")
)

var predefined = []*AuthError{
	ErrModuleDestroyed, ErrExpiredPopupRequest, ErrCancelledPopupRequest, ErrTimeout, ErrOperationNotSupported,
	ErrPopupClosedByUser, ErrPopupBlocked, ErrNoAuthEvent, ErrInvalidAuthEvent,
	ErrRedirectCancelled, ErrRedirectPending, ErrNetworkRequestFailed, ErrTokenExpired,
	ErrInvalidUserToken, ErrUserDeleted, ErrUserMismatch, ErrUserDisabled, ErrNullUser,
	ErrUserSignedOut, ErrRequiresRecentLogin, ErrInternal, ErrInvalidAPIKey,
	ErrInvalidPersistence, ErrUnsupportedPersistence, ErrWebStorageUnsupported, ErrArgument,
	ErrMFARequired, ErrWrongPassword, ErrEmailExists, ErrWeakPassword, ErrInvalidEmail,
	ErrTooManyRequests, ErrInvalidCustomToken, ErrCustomTokenMismatch,
	ErrCredentialAlreadyInUse, ErrInvalidCredential, ErrInvalidActionCode,
	ErrExpiredActionCode, ErrInvalidVerificationCode,
}

// defaultMessage returns the message of the predefined error for code.
func defaultMessage(code string) string {
	for _, e := range predefined {
		if e.Code == code {
			return e.Message
		}
	}
	return code
}

// isNetworkError reports the transient class of failure that keeps a cached
// user during startup.
func isNetworkError(err error) bool {
	return errors.Is(err, ErrNetworkRequestFailed)
}

// isInvalidationError reports errors after which the backend will never
// accept the user's tokens again.
func isInvalidationError(err error) bool {
	return errors.Is(err, ErrUserDisabled) || errors.Is(err, ErrTokenExpired)
}

// ============================================================================
// Multi-factor Challenge
// ============================================================================

// MultiFactorRequiredError is returned when a first-factor sign-in succeeded
// but the account requires a second factor. It is not a terminal failure:
// complete the sign-in with Resolver.
type MultiFactorRequiredError struct {
	*AuthError

	Resolver *MultiFactorResolver
}

// Unwrap exposes the underlying auth error, so errors.Is(err, ErrMFARequired)
// holds.
func (e *MultiFactorRequiredError) Unwrap() error { return e.AuthError }

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// serverMessages is the wire vocabulary: the message the backend sends for
// each SDK code it can produce.
var serverMessages = map[string]string{
	CodeEmailExists:             "EMAIL_EXISTS",
	CodeUserDeleted:             "USER_NOT_FOUND",
	CodeWrongPassword:           "INVALID_PASSWORD",
	CodeInvalidEmail:            "INVALID_EMAIL",
	CodeWeakPassword:            "WEAK_PASSWORD",
	CodeUserDisabled:            "USER_DISABLED",
	CodeTokenExpired:            "TOKEN_EXPIRED",
	CodeInvalidUserToken:        "INVALID_ID_TOKEN",
	CodeUserMismatch:            "USER_MISMATCH",
	CodeRequiresRecentLogin:     "CREDENTIAL_TOO_OLD_LOGIN_AGAIN",
	CodeInvalidCustomToken:      "INVALID_CUSTOM_TOKEN",
	CodeCustomTokenMismatch:     "CREDENTIAL_MISMATCH",
	CodeInvalidCredential:       "INVALID_IDP_RESPONSE",
	CodeCredentialAlreadyInUse:  "FEDERATED_USER_ID_ALREADY_LINKED",
	CodeInvalidActionCode:       "INVALID_OOB_CODE",
	CodeExpiredActionCode:       "EXPIRED_OOB_CODE",
	CodeInvalidVerificationCode: "INVALID_CODE",
	CodeInvalidAPIKey:           "INVALID_API_KEY",
	CodeTooManyRequests:         "TOO_MANY_ATTEMPTS_TRY_LATER",
	CodeOperationNotSupported:   "OPERATION_NOT_ALLOWED",
	CodeArgumentError:           "INVALID_ARGUMENT",
}

// serverAliases are extra backend messages that map onto an existing code.
var serverAliases = map[string]string{
	"EMAIL_NOT_FOUND":       CodeUserDeleted,
	"INVALID_REFRESH_TOKEN": CodeInvalidUserToken,
	"INVALID_SESSION_INFO":  CodeInvalidVerificationCode,
	"MISSING_REQUEST_URI":   CodeArgumentError,
}

var serverCodes = func() map[string]string {
	m := make(map[string]string, len(serverMessages)+len(serverAliases))
	for code, msg := range serverMessages {
		m[msg] = code
	}
	for msg, code := range serverAliases {
		m[msg] = code
	}
	return m
}()

// ServerMessage returns the wire message for err's code, "INTERNAL_ERROR"
// for codes the backend never sends.
func ServerMessage(err *AuthError) string {
	if msg, ok := serverMessages[err.Code]; ok {
		return msg
	}
	return "INTERNAL_ERROR"
}

// parseErrorResponse turns a non-2xx gateway response into an *AuthError.
// Returns nil for 2xx.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		// Messages may carry detail after a colon: "WEAK_PASSWORD : too short".
		msg, detail, _ := strings.Cut(errResp.Error.Message, " : ")
		if code, ok := serverCodes[strings.TrimSpace(msg)]; ok {
			out := &AuthError{Code: code, Message: detail, StatusCode: resp.StatusCode}
			if out.Message == "" {
				out.Message = defaultMessage(code)
			}
			return out
		}
		return &AuthError{
			Code:       CodeInternalError,
			Message:    errResp.Error.Message,
			StatusCode: resp.StatusCode,
		}
	}

	return &AuthError{
		Code:       CodeInternalError,
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode: resp.StatusCode,
	}
}
