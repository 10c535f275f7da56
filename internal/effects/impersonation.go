package effects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"boardline/internal/authz"
	"boardline/internal/slots"
	"boardline/internal/state"
	boardlinesdk "boardline/sdk/go"
)

var (
	ErrNotSignedIn      = errors.New("not signed in")
	ErrImpersonateSelf  = errors.New("cannot impersonate yourself")
	ErrNotPersisted     = errors.New("impersonation will not survive a restart")
	errStartImpersonate = authz.DeniedError{Action: "start impersonation"}
)

// StartImpersonation switches the acting identity to userID. The target is
// fetched and the backend notified before any state changes; a backend without
// impersonation sessions is tolerated. Only an administrator, judged by the
// original identity, may start or re-target. A record that cannot be saved
// leaves the switch in place and returns ErrNotPersisted.
func (a *Actions) StartImpersonation(ctx context.Context, userID int64) error {
	snap := a.Store.Snapshot()
	original := snap.User
	if snap.IsImpersonating {
		original = snap.OriginalUser
	}
	if original == nil {
		return a.fail("start impersonation", ErrNotSignedIn)
	}
	if !authz.For(original).IsAdmin() {
		return a.fail("start impersonation", errStartImpersonate)
	}
	if original.ID == userID {
		return a.fail("start impersonation", ErrImpersonateSelf)
	}

	target, err := a.Remote.UserForImpersonation(ctx, userID)
	if err != nil {
		return a.fail("start impersonation", err)
	}
	if err := a.Remote.StartImpersonationSession(ctx, userID); err != nil {
		if !boardlinesdk.IsNotImplemented(err) {
			return a.fail("start impersonation", err)
		}
		a.logger().Warn("impersonation sessions not supported by backend, continuing client-side", slog.Int64("user_id", userID))
	}

	next := a.Store.Dispatch(state.StartImpersonation{User: target})
	persistErr := a.persistImpersonation(ctx, next)
	a.logger().Info("impersonation started", slog.Int64("original_id", original.ID), slog.Int64("user_id", target.ID))
	a.refreshProjects(ctx)
	if persistErr != nil {
		return a.fail("start impersonation", persistErr)
	}
	return nil
}

// persistImpersonation writes the record for the impersonation active in s.
func (a *Actions) persistImpersonation(ctx context.Context, s state.State) error {
	if a.Slots == nil || !s.IsImpersonating || s.OriginalUser == nil || s.ImpersonatedUser == nil {
		return nil
	}
	rec := slots.ImpersonationRecord{OriginalUser: *s.OriginalUser, ImpersonatedUser: *s.ImpersonatedUser}
	if err := slots.SaveImpersonation(ctx, a.Slots, rec); err != nil {
		a.logger().Warn("persist impersonation failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}

// CloseRemoteImpersonation ends any backend impersonation session held by the
// signed-in identity. State and the persisted record are left alone.
func (a *Actions) CloseRemoteImpersonation(ctx context.Context) error {
	if a.Remote == nil {
		return nil
	}
	if err := a.Remote.StopImpersonationSession(ctx); err != nil && !boardlinesdk.IsNotImplemented(err) {
		return err
	}
	return nil
}

// StopImpersonation restores the original identity. It is a no-op when no
// impersonation is active.
func (a *Actions) StopImpersonation(ctx context.Context) error {
	if !a.Store.Snapshot().IsImpersonating {
		return nil
	}
	if err := a.Remote.StopImpersonationSession(ctx); err != nil {
		if !boardlinesdk.IsNotImplemented(err) {
			return a.fail("stop impersonation", err)
		}
		a.logger().Warn("impersonation sessions not supported by backend, continuing client-side")
	}
	a.Store.Dispatch(state.StopImpersonation{})
	if a.Slots != nil {
		if err := slots.ClearImpersonation(ctx, a.Slots); err != nil {
			a.logger().Warn("clear impersonation record failed", slog.String("error", err.Error()))
		}
	}
	a.logger().Info("impersonation stopped")
	a.refreshProjects(ctx)
	a.refreshUsers(ctx)
	return nil
}

// Post-switch refreshes are best effort: the identity change already
// happened, so a failed reload is logged and left for the next fetch.

func (a *Actions) refreshProjects(ctx context.Context) {
	projects, err := a.Remote.ListProjects(ctx)
	if err != nil {
		a.logger().Warn("refresh projects after identity change failed", slog.String("error", err.Error()))
		return
	}
	a.Store.Dispatch(state.SetProjects{Projects: projects})
}

func (a *Actions) refreshUsers(ctx context.Context) {
	users, err := a.Remote.ListUsers(ctx)
	if err != nil {
		a.logger().Warn("refresh users after identity change failed", slog.String("error", err.Error()))
		return
	}
	a.Store.Dispatch(state.SetUsers{Users: users})
}
