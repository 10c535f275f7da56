// Package session drives sign-in, restart restoration and sign-out around a
// single state store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"boardline/internal/domain"
	"boardline/internal/effects"
	"boardline/internal/identity"
	"boardline/internal/slots"
	"boardline/internal/state"
)

var ErrNoSession = errors.New("not signed in (run: bl login)")

// ProfileSyncer upserts the authenticated identity on the backend and returns
// its canonical user.
type ProfileSyncer interface {
	SyncProfile(ctx context.Context) (domain.User, error)
}

type Session struct {
	Store   *state.Store
	Actions *effects.Actions
	Profile ProfileSyncer
	Slots   slots.Store
	Decoder identity.Decoder
	Logger  *slog.Logger
}

func (s *Session) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Bootstrap signs in with a raw provider token: the claims are decoded, the
// token persisted, the profile synced for its id, and the user installed. The
// role comes from the claims; a token asserting none takes the backend's. A
// persisted impersonation is restored only when it belongs to this identity,
// and otherwise an admin's leftover backend session is closed.
func (s *Session) Bootstrap(ctx context.Context, rawToken string) (state.State, error) {
	claims, err := s.Decoder.Decode(ctx, rawToken)
	if err != nil {
		return s.Store.Snapshot(), fmt.Errorf("decode token: %w", err)
	}
	if err := s.Slots.Set(ctx, slots.KeyAuthToken, rawToken); err != nil {
		return s.Store.Snapshot(), err
	}
	synced, err := s.Profile.SyncProfile(ctx)
	if err != nil {
		return s.Store.Snapshot(), fmt.Errorf("sync profile: %w", err)
	}
	user := claims.User()
	user.ID = synced.ID
	if len(claims.Roles) == 0 && synced.Role != "" {
		user.Role = synced.Role
	}
	s.Store.Dispatch(state.SetUser{User: &user})
	if err := s.Slots.Set(ctx, slots.KeyUserRole, string(user.Role)); err != nil {
		s.logger().Warn("persist role failed", slog.String("error", err.Error()))
	}
	s.logger().Debug("signed in", slog.Int64("user_id", user.ID), slog.String("role", string(user.Role)))

	restored, err := s.restoreImpersonation(ctx, user)
	if err != nil {
		return s.Store.Snapshot(), err
	}
	if !restored && user.Role == domain.RoleAdmin && s.Actions != nil {
		if err := s.Actions.CloseRemoteImpersonation(ctx); err != nil {
			s.logger().Warn("close leftover impersonation session failed", slog.String("error", err.Error()))
		}
	}
	return s.Store.Snapshot(), nil
}

// Resume bootstraps from the token persisted by an earlier sign-in.
func (s *Session) Resume(ctx context.Context) (state.State, error) {
	raw, ok, err := s.Slots.Get(ctx, slots.KeyAuthToken)
	if err != nil {
		return s.Store.Snapshot(), err
	}
	if !ok || raw == "" {
		return s.Store.Snapshot(), ErrNoSession
	}
	return s.Bootstrap(ctx, raw)
}

func (s *Session) restoreImpersonation(ctx context.Context, user domain.User) (bool, error) {
	rec, err := slots.LoadImpersonation(ctx, s.Slots)
	if err != nil || rec == nil {
		return false, err
	}
	if rec.OriginalUser.ID != user.ID || user.Role != domain.RoleAdmin {
		s.logger().Warn("discarding impersonation record from another identity",
			slog.Int64("record_original_id", rec.OriginalUser.ID), slog.Int64("user_id", user.ID))
		return false, slots.ClearImpersonation(ctx, s.Slots)
	}
	original := rec.OriginalUser
	s.Store.Dispatch(state.SetUser{User: &original})
	s.Store.Dispatch(state.StartImpersonation{User: rec.ImpersonatedUser})
	s.logger().Info("impersonation restored", slog.Int64("user_id", rec.ImpersonatedUser.ID))
	return true, nil
}

// SignOut ends any impersonation (best effort), forgets the persisted token,
// role and impersonation record, and resets the store.
func (s *Session) SignOut(ctx context.Context) error {
	if s.Store.Snapshot().IsImpersonating && s.Actions != nil {
		if err := s.Actions.StopImpersonation(ctx); err != nil {
			s.logger().Warn("stop impersonation during sign-out failed", slog.String("error", err.Error()))
		}
	}
	var errs []error
	for _, key := range []string{slots.KeyImpersonation, slots.KeyAuthToken, slots.KeyUserRole} {
		if err := s.Slots.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	s.Store.Dispatch(state.ClearState{})
	return errors.Join(errs...)
}
