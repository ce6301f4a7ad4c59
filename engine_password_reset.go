package authkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/expressthat/authkit/password"
)

// RequestPasswordReset emails a reset link. Unknown addresses report
// success after a randomized delay, so neither the response nor its
// timing confirms an account exists.
func (e *Engine) RequestPasswordReset(ctx context.Context, email, captchaToken string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	if err := e.checkCaptcha(ctx, e.cfg.Captcha.OnPasswordReset, captchaToken); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if err := e.requests.Allow(ctx, "reset", email, e.cfg.PasswordReset.RequestsPerHour); err != nil {
		return err
	}

	principal, err := e.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal == nil {
		e.sleepEnumerationDelay(ctx)
		return nil
	}

	token, err := e.issueChallengeToken(ctx, purposeResetPassword, principal, e.cfg.PasswordReset.TTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricPasswordResetRequested)
	e.emitAudit(ctx, auditEventResetRequested, true, principal.ID, "", nil, nil)

	// Best effort: the link can be re-requested if delivery fails.
	_ = e.sendMail(ctx, principal.ID, e.resetMail(principal.Email, token))
	return nil
}

// ConfirmPasswordReset redeems a reset token and installs the new
// password. The token is only consumed once the candidate password is
// acceptable, so a weak choice does not burn the link.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword, confirmPassword string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	if password.Evaluate(newPassword).Score < e.cfg.Password.RequiredScore {
		return ErrWeakPassword
	}
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return ErrWeakPassword
	}

	rec, err := e.redeemChallengeToken(ctx, purposeResetPassword, token)
	if err != nil {
		e.emitAudit(ctx, auditEventResetCompleted, false, "", "", err, nil)
		return err
	}

	if err := e.store.UpdatePasswordHash(ctx, rec.PrincipalID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_ = e.signinLimiter.Reset(ctx, rec.Email)

	if e.cfg.PasswordReset.SignOutOnReset {
		if _, err := e.SignOutAll(ctx, rec.PrincipalID); err != nil {
			return errors.Join(ErrStoreUnavailable, err)
		}
	}

	e.metricInc(MetricPasswordResetCompleted)
	e.emitAudit(ctx, auditEventResetCompleted, true, rec.PrincipalID, "", nil, nil)
	return nil
}
