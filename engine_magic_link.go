package authkit

import (
	"context"
	"fmt"
)

// RequestMagicLink emails a passwordless sign-in link. Unknown
// addresses report success after a randomized delay.
func (e *Engine) RequestMagicLink(ctx context.Context, email, captchaToken, redirect string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	if !e.cfg.MagicLink.Enabled {
		return ErrMagicLinkDisabled
	}
	if err := e.checkCaptcha(ctx, e.cfg.Captcha.OnMagicLink, captchaToken); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if err := e.requests.Allow(ctx, "magic", email, e.cfg.MagicLink.RequestsPerHour); err != nil {
		return err
	}

	principal, err := e.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal == nil || principal.Disabled {
		e.sleepEnumerationDelay(ctx)
		return nil
	}

	token, err := e.issueChallengeToken(ctx, purposeMagicLink, principal, e.cfg.MagicLink.TTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricMagicLinkSent)
	e.emitAudit(ctx, auditEventMagicLinkRequested, true, principal.ID, "", nil, nil)

	_ = e.sendMail(ctx, principal.ID, e.magicLinkMail(principal.Email, token, redirect))
	return nil
}

// CompleteMagicLink redeems a magic-link token. Redemption is the sole
// factor: the link both proves the address and signs the account in,
// with no second-factor hop on top.
func (e *Engine) CompleteMagicLink(ctx context.Context, token, redirect string) (*SignInResult, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	if !e.cfg.MagicLink.Enabled {
		return nil, ErrMagicLinkDisabled
	}

	rec, err := e.redeemChallengeToken(ctx, purposeMagicLink, token)
	if err != nil {
		e.emitAudit(ctx, auditEventMagicLinkCompleted, false, "", "", err, nil)
		return nil, err
	}

	principal, err := e.loadPrincipal(ctx, rec.PrincipalID)
	if err != nil {
		return nil, err
	}
	if principal.Disabled {
		return nil, ErrAccountDisabled
	}

	// Possessing the mailbox also proves the address.
	if !principal.EmailVerified {
		if err := e.store.MarkEmailVerified(ctx, principal.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		principal.EmailVerified = true
	}

	result, err := e.finishSignIn(ctx, principal, false)
	if err != nil {
		return nil, err
	}
	result.Redirect = redirect

	e.metricInc(MetricMagicLinkCompleted)
	e.emitAudit(ctx, auditEventMagicLinkCompleted, true, principal.ID, result.SessionID, nil, nil)
	return result, nil
}
