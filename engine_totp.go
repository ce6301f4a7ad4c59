package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expressthat/authkit/password"
)

// verifyCurrentPassword gates sensitive operations on the account
// password. It maps a mismatch to ErrInvalidPassword, distinct from the
// sign-in error so callers can tell the flows apart.
func (e *Engine) verifyCurrentPassword(principal *Principal, current string) error {
	if principal.PasswordHash == "" {
		return ErrInvalidPassword
	}
	if err := e.hasher.Verify(current, principal.PasswordHash); err != nil {
		if errors.Is(err, password.ErrHashMismatch) || errors.Is(err, password.ErrInvalidHash) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// BeginTOTPEnrollment verifies the account password, then generates an
// authenticator secret and a fresh backup code set. The secret stays
// unconfirmed and TwoFactorEnabled stays false until
// ConfirmTOTPEnrollment sees a valid code. A wrong password leaves the
// account untouched.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, principalID, currentPassword string) (*TOTPEnrollment, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	release, err := e.lock.Acquire(ctx, principalID)
	if err != nil {
		return nil, err
	}
	defer release()

	principal, err := e.loadPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if err := e.verifyCurrentPassword(principal, currentPassword); err != nil {
		e.emitAudit(ctx, auditEventEnrollStarted, false, principalID, "", err, nil)
		return nil, err
	}
	// The email-OTP fallback delivers codes to the account address, so
	// the address has to be proven before a second factor can depend on
	// it.
	if !principal.EmailVerified {
		return nil, ErrEmailUnverified
	}
	if principal.TwoFactorEnabled {
		return nil, ErrSecondFactorAlreadyEnabled
	}

	secret, err := e.totp.newSecret()
	if err != nil {
		return nil, err
	}
	if err := e.store.StoreSecondFactor(ctx, principalID, secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	plaintext, records, err := e.newBackupCodeSet()
	if err != nil {
		return nil, err
	}
	if err := e.store.ReplaceBackupCodes(ctx, principalID, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventEnrollStarted, true, principalID, "", nil, nil)
	return &TOTPEnrollment{
		Secret:      e.totp.encodeSecret(secret),
		OTPAuthURI:  e.totp.uri(principal.Email, secret),
		BackupCodes: plaintext,
	}, nil
}

// ConfirmTOTPEnrollment proves possession of the authenticator and
// turns the second factor on.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, principalID, code string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	release, err := e.lock.Acquire(ctx, principalID)
	if err != nil {
		return err
	}
	defer release()

	record, err := e.store.GetSecondFactor(ctx, principalID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record == nil {
		return ErrSecondFactorNotEnabled
	}
	if record.Confirmed {
		return ErrSecondFactorAlreadyEnabled
	}

	if err := e.codeLimiter.Check(ctx, principalID); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return ErrTooManyAttempts
		}
		return err
	}

	counter, ok := e.totp.verify(code, record.Secret, time.Now())
	if !ok {
		_ = e.codeLimiter.RecordFailure(ctx, principalID)
		e.emitAudit(ctx, auditEventEnrollConfirmed, false, principalID, "", ErrInvalidCode, nil)
		return ErrInvalidCode
	}

	if err := e.store.UpdateSecondFactorCounter(ctx, principalID, counter); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.store.ConfirmSecondFactor(ctx, principalID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_ = e.codeLimiter.Reset(ctx, principalID)

	e.emitAudit(ctx, auditEventEnrollConfirmed, true, principalID, "", nil, nil)
	return nil
}

// DisableSecondFactor removes the authenticator, backup codes and
// trusted devices after re-proving the account password, then revokes
// every session.
func (e *Engine) DisableSecondFactor(ctx context.Context, principalID, currentPassword string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	release, err := e.lock.Acquire(ctx, principalID)
	if err != nil {
		return err
	}
	defer release()

	principal, err := e.loadPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if err := e.verifyCurrentPassword(principal, currentPassword); err != nil {
		e.emitAudit(ctx, auditEventSecondFactorOff, false, principalID, "", err, nil)
		return err
	}
	if !principal.TwoFactorEnabled {
		return ErrSecondFactorNotEnabled
	}

	if err := e.store.ClearSecondFactor(ctx, principalID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n, err := e.devices.RevokeAll(ctx, principalID); err == nil && n > 0 {
		e.emitAudit(ctx, auditEventDevicesRevoked, true, principalID, "", nil, nil)
	}
	if _, err := e.SignOutAll(ctx, principalID); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventSecondFactorOff, true, principalID, "", nil, nil)
	return nil
}
