package authsdk

import (
	"context"
	"errors"
)

// ============================================================================
// Popups
// ============================================================================

// SignInWithPopup signs in through provider in a popup opened with
// Config.PopupOpener. The call blocks until the popup's event is handled
// with HandleAuthEvent, the popup is closed, or the attempt times out.
// Starting another popup fails this one with ErrExpiredPopupRequest.
func (a *Auth) SignInWithPopup(ctx context.Context, provider Provider) (*UserCredential, error) {
	return a.popup(ctx, EventSignInViaPopup, provider)
}

// LinkWithPopup links provider to the current user.
func (a *Auth) LinkWithPopup(ctx context.Context, provider Provider) (*UserCredential, error) {
	return a.popup(ctx, EventLinkViaPopup, provider)
}

// ReauthenticateWithPopup proves the current user still controls provider.
func (a *Auth) ReauthenticateWithPopup(ctx context.Context, provider Provider) (*UserCredential, error) {
	return a.popup(ctx, EventReauthViaPopup, provider)
}

func (a *Auth) popup(ctx context.Context, t EventType, provider Provider) (*UserCredential, error) {
	if a.popupOpener == nil {
		return nil, ErrOperationNotSupported
	}

	return track(a.registry, ctx, func(ctx context.Context) (*UserCredential, error) {
		if err := a.waitReady(ctx); err != nil {
			return nil, err
		}
		if t.Operation() != OperationSignIn && a.CurrentUser() == nil {
			return nil, ErrNullUser
		}

		return a.arbiter.StartPopup(ctx, t, func(eventID string) (Window, error) {
			w, err := a.popupOpener(provider.AuthURL(a.authDomain, a.apiKey, a.appName, t, eventID, ""))
			if err != nil {
				var ae *AuthError
				if errors.As(err, &ae) {
					return nil, ae
				}
				return nil, ErrPopupBlocked.WithMessage(err.Error())
			}
			return w, nil
		})
	})
}

// ============================================================================
// Redirects
// ============================================================================

// SignInWithRedirect starts a redirect sign-in through Config.Redirector.
// The result is delivered to the instance created after the redirect returns
// and read with GetRedirectResult.
func (a *Auth) SignInWithRedirect(ctx context.Context, provider Provider) error {
	return a.startRedirect(ctx, EventSignInViaRedirect, provider)
}

// LinkWithRedirect links provider to the current user by redirect.
func (a *Auth) LinkWithRedirect(ctx context.Context, provider Provider) error {
	return a.startRedirect(ctx, EventLinkViaRedirect, provider)
}

// ReauthenticateWithRedirect reauthenticates the current user by redirect.
func (a *Auth) ReauthenticateWithRedirect(ctx context.Context, provider Provider) error {
	return a.startRedirect(ctx, EventReauthViaRedirect, provider)
}

func (a *Auth) startRedirect(ctx context.Context, t EventType, provider Provider) error {
	if a.redirector == nil {
		return ErrOperationNotSupported
	}

	_, err := track(a.registry, ctx, func(ctx context.Context) (struct{}, error) {
		if err := a.waitReady(ctx); err != nil {
			return struct{}{}, err
		}

		eventID := a.newID()
		if t.Operation() != OperationSignIn {
			cur := a.CurrentUser()
			if cur == nil {
				return struct{}{}, ErrNullUser
			}
			cur.setRedirectEventID(eventID)
			a.persistUser(ctx, cur)
			if err := a.redirects.SetRedirectUser(ctx, cur.Record()); err != nil {
				return struct{}{}, err
			}
		}

		if err := a.users.SavePersistenceForRedirect(ctx); err != nil {
			return struct{}{}, err
		}
		if err := a.pending.SetPending(ctx); err != nil {
			return struct{}{}, err
		}

		a.logger.Debug("starting redirect", "type", t, "event_id", eventID)
		return struct{}{}, a.redirector(provider.AuthURL(a.authDomain, a.apiKey, a.appName, t, eventID, a.redirectURL))
	})
	return err
}

// GetRedirectResult returns the outcome of the redirect this instance was
// loaded from. With no redirect pending the result is an empty
// UserCredential; an unknown event yields nil.
func (a *Auth) GetRedirectResult(ctx context.Context) (*UserCredential, error) {
	return track(a.registry, ctx, func(ctx context.Context) (*UserCredential, error) {
		if err := a.waitReady(ctx); err != nil {
			return nil, err
		}
		cred, err := a.arbiter.RedirectResult(ctx)
		if rerr := a.pending.RemovePending(ctx); rerr != nil {
			a.logger.Warn("failed to clear pending redirect", "error", rerr)
		}
		return cred, err
	})
}

// HandleAuthEvent delivers a popup or redirect completion from the provider
// handler. It reports whether the event was consumed.
func (a *Auth) HandleAuthEvent(ctx context.Context, ev *AuthEvent) (bool, error) {
	if ev == nil {
		return false, ErrInvalidAuthEvent
	}
	return track(a.registry, ctx, func(ctx context.Context) (bool, error) {
		if err := a.waitReady(ctx); err != nil {
			return false, err
		}
		if !a.arbiter.CanHandle(ev.Type, ev.EventID) {
			return false, nil
		}
		return a.arbiter.HandleEvent(ctx, ev), nil
	})
}

// ============================================================================
// Assertion Sink
// ============================================================================

// flowUser returns the user a link or reauthentication event applies to.
func (a *Auth) flowUser(ev *AuthEvent) (*User, error) {
	cur := a.CurrentUser()
	if cur == nil {
		return nil, ErrNullUser
	}
	if ev.Type.Mode() == ModeRedirect && cur.redirectEventID() != ev.EventID {
		return nil, ErrNullUser.WithMessage("no user is waiting for redirect event " + ev.EventID)
	}
	return cur, nil
}

func (a *Auth) prepareAssertion(ctx context.Context, ev *AuthEvent, req *VerifyAssertionRequest) error {
	if req.TenantID == "" {
		req.TenantID = a.tenantID
	}
	if ev.Type.Operation() != OperationLink {
		return nil
	}
	user, err := a.flowUser(ev)
	if err != nil {
		return err
	}
	token, err := user.GetIDToken(ctx, false)
	if err != nil {
		return err
	}
	req.IDToken = token
	return nil
}

func (a *Auth) applyAssertion(ctx context.Context, ev *AuthEvent, resp *IDTokenResponse) (*UserCredential, error) {
	op := ev.Type.Operation()
	cred := credentialFromResponse(resp)

	if op == OperationSignIn {
		return a.completeSignIn(ctx, resp, op, cred)
	}

	user, err := a.flowUser(ev)
	if err != nil {
		return nil, err
	}
	if resp.LocalID != user.UID() {
		if op == OperationReauthenticate {
			return nil, ErrUserMismatch
		}
		return nil, ErrInternal.WithMessage("link response is for another user")
	}
	if ev.Type.Mode() == ModeRedirect {
		user.setRedirectEventID("")
		if err := a.redirects.RemoveRedirectUser(ctx); err != nil {
			a.logger.Warn("failed to clear redirect user", "error", err)
		}
	}
	return a.completeSignIn(ctx, resp, op, cred)
}
