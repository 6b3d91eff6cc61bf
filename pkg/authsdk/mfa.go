package authsdk

import (
	"context"
	"time"
)

// FactorIDTOTP is the only second factor the SDK can resolve.
const FactorIDTOTP = "totp"

// MultiFactorResolver completes a sign-in that stopped at the second factor.
type MultiFactorResolver struct {
	// Hints lists the factors the user has enrolled.
	Hints []MultiFactorInfo

	auth      *Auth
	pending   string
	operation OperationType
}

// TOTPAssertion proves possession of an enrolled TOTP factor.
type TOTPAssertion struct {
	EnrollmentID string
	Code         string
}

func (a *Auth) multiFactorRequired(resp *IDTokenResponse, op OperationType) error {
	hints := make([]MultiFactorInfo, 0, len(resp.MFAInfo))
	for _, m := range resp.MFAInfo {
		hints = append(hints, MultiFactorInfo{
			UID:            m.MFAEnrollmentID,
			DisplayName:    m.DisplayName,
			FactorID:       m.FactorID,
			EnrollmentTime: m.EnrolledAt,
		})
	}
	return &MultiFactorRequiredError{
		AuthError: ErrMFARequired,
		Resolver: &MultiFactorResolver{
			Hints:     hints,
			auth:      a,
			pending:   resp.MFAPendingCredential,
			operation: op,
		},
	}
}

// ResolveSignIn finishes the sign-in with a second factor.
func (r *MultiFactorResolver) ResolveSignIn(ctx context.Context, assertion TOTPAssertion) (*UserCredential, error) {
	if assertion.EnrollmentID == "" && len(r.Hints) == 1 {
		assertion.EnrollmentID = r.Hints[0].UID
	}

	a := r.auth
	return track(a.registry, ctx, func(ctx context.Context) (*UserCredential, error) {
		if err := a.waitReady(ctx); err != nil {
			return nil, err
		}
		resp, err := a.gateway.FinalizeMFASignIn(ctx, &FinalizeMFARequest{
			MFAPendingCredential: r.pending,
			MFAEnrollmentID:      assertion.EnrollmentID,
			TOTPCode:             assertion.Code,
		})
		if err != nil {
			return nil, err
		}
		return a.completeSignIn(ctx, resp, r.operation, nil)
	})
}

// EnrolledAt parses the enrollment time of a factor, or returns the zero
// time.
func (m MultiFactorInfo) EnrolledAt() time.Time {
	t, err := time.Parse(time.RFC3339, m.EnrollmentTime)
	if err != nil {
		return time.Time{}
	}
	return t
}
