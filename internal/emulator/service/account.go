package service

import (
	"context"
	"errors"
	"slices"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
	"github.com/aussiebroadwan/authstate/internal/emulator/store"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/cryptox"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
)

// redactedHash stands in for the password hash in lookups.
const redactedHash = "REDACTED"

// Attributes UpdateProfile can delete.
const (
	AttrDisplayName = "DISPLAY_NAME"
	AttrPhotoURL    = "PHOTO_URL"
)

func accountInfo(a domain.Account) *authsdk.AccountInfo {
	info := &authsdk.AccountInfo{
		LocalID:       a.UID,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		DisplayName:   a.DisplayName,
		PhotoURL:      a.PhotoURL,
		PhoneNumber:   a.PhoneNumber,
		Disabled:      a.Disabled,
		MFAInfo:       mfaInfo(a),
		TenantID:      a.TenantID,
		CreatedAt:     a.CreatedAt.UnixMilli(),
		LastLoginAt:   a.LastLoginAt.UnixMilli(),
	}
	if a.PasswordHash != "" {
		info.PasswordHash = redactedHash
	}

	if a.Email != "" && (a.PasswordHash != "" || a.EmailLinkSignIn) {
		info.ProviderUserInfo = append(info.ProviderUserInfo, authsdk.ProviderUserInfo{
			ProviderID:  jwtx.ProviderPassword,
			RawID:       a.Email,
			Email:       a.Email,
			DisplayName: a.DisplayName,
			PhotoURL:    a.PhotoURL,
		})
	}
	if a.PhoneNumber != "" {
		info.ProviderUserInfo = append(info.ProviderUserInfo, authsdk.ProviderUserInfo{
			ProviderID:  jwtx.ProviderPhone,
			RawID:       a.PhoneNumber,
			PhoneNumber: a.PhoneNumber,
		})
	}
	for _, p := range a.Providers {
		info.ProviderUserInfo = append(info.ProviderUserInfo, authsdk.ProviderUserInfo{
			ProviderID:  p.ProviderID,
			RawID:       p.FederatedID,
			Email:       p.Email,
			DisplayName: p.DisplayName,
			PhotoURL:    p.PhotoURL,
		})
	}
	return info
}

func (s *Service) GetAccountInfo(ctx context.Context, idToken string) (*authsdk.AccountInfo, error) {
	a, _, err := s.accountForIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return accountInfo(a), nil
}

// RefreshToken mints a new ID token. The refresh token itself is long lived
// and returned unchanged.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*authsdk.TokenRefreshResponse, error) {
	invalid := authsdk.ErrInvalidUserToken.WithMessage("INVALID_REFRESH_TOKEN")
	if refreshToken == "" {
		return nil, invalid
	}

	rt, err := s.store.RefreshTokens().GetByHash(ctx, cryptox.FingerprintToken(refreshToken))
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, s.internal(ctx, "load refresh token", err)
	}
	now := s.clock.Now()
	if rt.Revoked {
		return nil, authsdk.ErrTokenExpired
	}
	if !now.Before(rt.ExpiresAt) {
		return nil, invalid
	}

	a, err := s.store.Accounts().Get(ctx, rt.UID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, authsdk.ErrUserDeleted
	}
	if err != nil {
		return nil, s.internal(ctx, "load account", err)
	}
	if a.Disabled {
		return nil, authsdk.ErrUserDisabled
	}

	idToken, err := s.mintIDToken(a, rt.Provider, "", now)
	if err != nil {
		return nil, s.internal(ctx, "sign id token", err)
	}
	s.metrics.Refreshed()

	return &authsdk.TokenRefreshResponse{
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.idTTL.Seconds()),
		UserID:       a.UID,
	}, nil
}

func (s *Service) DeleteAccount(ctx context.Context, idToken string) error {
	a, _, err := s.accountForIDToken(ctx, idToken)
	if err != nil {
		return err
	}
	if err := s.store.Accounts().Delete(ctx, a.UID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return authsdk.ErrUserDeleted
		}
		return s.internal(ctx, "delete account", err)
	}
	s.metrics.AccountDeleted()
	s.logger(ctx).Info("account deleted", "uid", a.UID)
	return nil
}

// UpdateProfile changes the display name and photo URL. Attributes named in
// req.Delete are cleared; empty fields are left alone.
func (s *Service) UpdateProfile(ctx context.Context, req *authsdk.UpdateProfileRequest) (*authsdk.UpdateProfileResponse, error) {
	a, _, err := s.accountForIDToken(ctx, req.IDToken)
	if err != nil {
		return nil, err
	}

	for _, attr := range req.Delete {
		if attr != AttrDisplayName && attr != AttrPhotoURL {
			return nil, authsdk.ErrArgument.WithMessage("unknown deleteAttribute " + attr)
		}
	}

	if req.DisplayName != "" {
		a.DisplayName = req.DisplayName
	}
	if req.PhotoURL != "" {
		a.PhotoURL = req.PhotoURL
	}
	if slices.Contains(req.Delete, AttrDisplayName) {
		a.DisplayName = ""
	}
	if slices.Contains(req.Delete, AttrPhotoURL) {
		a.PhotoURL = ""
	}

	if err := s.store.Accounts().Update(ctx, a); err != nil {
		return nil, s.internal(ctx, "update account", err)
	}

	return &authsdk.UpdateProfileResponse{
		LocalID:     a.UID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		PhotoURL:    a.PhotoURL,
	}, nil
}

// SetDisabled disables or re-enables an account. Disabled accounts cannot
// sign in, refresh or look themselves up.
func (s *Service) SetDisabled(ctx context.Context, uid string, disabled bool) error {
	a, err := s.store.Accounts().Get(ctx, uid)
	if errors.Is(err, store.ErrNotFound) {
		return authsdk.ErrUserDeleted
	}
	if err != nil {
		return s.internal(ctx, "load account", err)
	}

	a.Disabled = disabled
	if err := s.store.Accounts().Update(ctx, a); err != nil {
		return s.internal(ctx, "update account", err)
	}
	s.logger(ctx).Info("account disabled flag changed", "uid", uid, "disabled", disabled)
	return nil
}

// CountAccounts reports how many accounts exist.
func (s *Service) CountAccounts(ctx context.Context) (int, error) {
	n, err := s.store.Accounts().Count(ctx)
	if err != nil {
		return 0, s.internal(ctx, "count accounts", err)
	}
	return n, nil
}
