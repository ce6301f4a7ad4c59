package authkit

import (
	"context"
	"fmt"
)

// RequestEmailVerification issues a fresh verification link. Unknown
// addresses and already-verified accounts report success, so the
// endpoint does not reveal which emails have accounts.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if err := e.requests.Allow(ctx, "verify", email, e.cfg.EmailVerification.RequestsPerHour); err != nil {
		return err
	}

	principal, err := e.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal == nil || principal.EmailVerified {
		e.sleepEnumerationDelay(ctx)
		return nil
	}

	token, err := e.issueChallengeToken(ctx, purposeVerifyEmail, principal, e.cfg.EmailVerification.TTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, auditEventVerifyRequested, true, principal.ID, "", nil, nil)

	if e.sendMail(ctx, principal.ID, e.verificationMail(principal.Email, token)) == nil {
		e.metricInc(MetricEmailVerificationSent)
	}
	return nil
}

// VerifyEmail redeems a verification token. With auto sign-in enabled a
// session is established straight away, except for accounts with a
// second factor: those still have to complete a full sign-in.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*VerifyEmailResult, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}

	rec, err := e.redeemChallengeToken(ctx, purposeVerifyEmail, token)
	if err != nil {
		e.emitAudit(ctx, auditEventEmailVerified, false, "", "", err, nil)
		return nil, err
	}

	principal, err := e.loadPrincipal(ctx, rec.PrincipalID)
	if err != nil {
		return nil, err
	}
	if !principal.EmailVerified {
		if err := e.store.MarkEmailVerified(ctx, principal.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		principal.EmailVerified = true
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, true, principal.ID, "", nil, nil)

	result := &VerifyEmailResult{PrincipalID: principal.ID, Email: principal.Email}
	if e.cfg.EmailVerification.AutoSignIn && !principal.TwoFactorEnabled {
		sess, err := e.finishSignIn(ctx, principal, false)
		if err != nil {
			return nil, err
		}
		result.Session = sess
	}
	return result, nil
}
