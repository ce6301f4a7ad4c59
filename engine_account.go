package authkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/expressthat/authkit/password"
	"github.com/expressthat/authkit/session"
)

func isSessionMissing(err error) bool {
	return errors.Is(err, session.ErrNotFound)
}

// DeleteConfirmationPhrase must be typed verbatim to delete an account.
const DeleteConfirmationPhrase = "DELETE"

// ChangePassword replaces the account password after verifying the
// current one, then revokes every session except the caller's.
func (e *Engine) ChangePassword(ctx context.Context, principalID, sessionID, currentPassword, newPassword, confirmPassword string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	principal, err := e.loadPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if err := e.verifyCurrentPassword(principal, currentPassword); err != nil {
		e.emitAudit(ctx, auditEventPasswordChanged, false, principalID, sessionID, err, nil)
		return err
	}

	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	if newPassword == currentPassword {
		return ErrPasswordReuse
	}
	if password.Evaluate(newPassword).Score < e.cfg.Password.RequiredScore {
		return ErrWeakPassword
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return ErrWeakPassword
	}
	if err := e.store.UpdatePasswordHash(ctx, principalID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.revokeOtherSessions(ctx, principal, sessionID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventPasswordChanged, true, principalID, sessionID, nil, nil)
	return nil
}

// revokeOtherSessions drops every session but the named one, then
// re-saves the survivor so the caller stays signed in.
func (e *Engine) revokeOtherSessions(ctx context.Context, principal *Principal, keepSessionID string) error {
	ids, err := e.sessions.ActiveSessionIDs(ctx, principal.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, id := range ids {
		if id == keepSessionID {
			continue
		}
		if err := e.sessions.Delete(ctx, id, principal.ID); err != nil && !isSessionMissing(err) {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricSessionRevoked)
	}
	return nil
}

// DeleteAccount permanently removes the account. It requires the
// account password and the literal confirmation phrase, and tears down
// sessions and trusted devices along with the principal record.
func (e *Engine) DeleteAccount(ctx context.Context, principalID, currentPassword, confirmationPhrase string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	if confirmationPhrase != DeleteConfirmationPhrase {
		return ErrConfirmationPhrase
	}

	principal, err := e.loadPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if err := e.verifyCurrentPassword(principal, currentPassword); err != nil {
		e.emitAudit(ctx, auditEventAccountDeleted, false, principalID, "", err, nil)
		return err
	}

	if err := e.store.DeletePrincipal(ctx, principalID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var teardown error
	if _, err := e.sessions.DeleteAllForPrincipal(ctx, principalID); err != nil {
		teardown = errors.Join(teardown, err)
	}
	if _, err := e.devices.RevokeAll(ctx, principalID); err != nil {
		teardown = errors.Join(teardown, err)
	}

	e.emitAudit(ctx, auditEventAccountDeleted, true, principalID, "", nil, nil)
	if teardown != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, teardown)
	}
	return nil
}
