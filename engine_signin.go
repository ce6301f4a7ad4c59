package authkit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/expressthat/authkit/internal"
	"github.com/expressthat/authkit/password"
)

// SignInWithPassword runs the password first factor. Accounts with a
// confirmed second factor get StatusAwaitingSecondFactor and a pending
// ID for CompleteSecondFactor, unless the request carries a trusted
// device fingerprint.
func (e *Engine) SignInWithPassword(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observeLatency(HistSignIn, start)

	if err := e.checkCaptcha(ctx, e.cfg.Captcha.OnSignIn, req.CaptchaToken); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)
	if err := e.signinLimiter.Check(ctx, email); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricSignInRateLimited)
			e.emitAudit(ctx, auditEventSignInRateLimited, false, "", "", err, func() map[string]string {
				return map[string]string{"email": email}
			})
		}
		return nil, err
	}

	if req.Password == "" {
		return nil, e.signInFailure(ctx, email, "", ErrInvalidCredentials)
	}

	principal, err := e.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal == nil || principal.PasswordHash == "" {
		e.sleepEnumerationDelay(ctx)
		return nil, e.signInFailure(ctx, email, "", ErrInvalidCredentials)
	}

	if err := e.hasher.Verify(req.Password, principal.PasswordHash); err != nil {
		if errors.Is(err, password.ErrHashMismatch) {
			return nil, e.signInFailure(ctx, email, principal.ID, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if principal.Disabled {
		return nil, e.signInFailure(ctx, email, principal.ID, ErrAccountDisabled)
	}
	if e.cfg.SignIn.RequireVerifiedEmail && !principal.EmailVerified {
		return nil, e.signInFailure(ctx, email, principal.ID, ErrEmailUnverified)
	}

	if e.cfg.Password.UpgradeOnSignIn && e.hasher.NeedsUpgrade(principal.PasswordHash) {
		// Best effort; the old hash keeps working if the write fails.
		if newHash, err := e.hasher.Hash(req.Password); err == nil {
			if err := e.store.UpdatePasswordHash(ctx, principal.ID, newHash); err != nil {
				log.Printf("authkit: password rehash for %s failed: %v", principal.ID, err)
			}
		}
	}

	_ = e.signinLimiter.Reset(ctx, email)

	if principal.TwoFactorEnabled {
		trusted, err := e.isTrustedDevice(ctx, principal.ID, req.DeviceFingerprint)
		if err != nil {
			return nil, err
		}
		if !trusted {
			return e.beginSecondFactor(ctx, principal, req.Redirect)
		}
		e.metricInc(MetricTrustedDeviceHit)
		result, err := e.finishSignIn(ctx, principal, true)
		if err != nil {
			return nil, err
		}
		result.Redirect = req.Redirect
		return result, nil
	}

	result, err := e.finishSignIn(ctx, principal, false)
	if err != nil {
		return nil, err
	}
	result.Redirect = req.Redirect
	return result, nil
}

func (e *Engine) isTrustedDevice(ctx context.Context, principalID, fingerprint string) (bool, error) {
	if !e.cfg.TrustedDevice.Enabled || fingerprint == "" {
		return false, nil
	}
	trusted, err := e.devices.IsTrusted(ctx, principalID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return trusted, nil
}

func (e *Engine) signInFailure(ctx context.Context, email, principalID string, cause error) error {
	_ = e.signinLimiter.RecordFailure(ctx, email)
	e.metricInc(MetricSignInFailure)
	e.emitAudit(ctx, auditEventSignIn, false, principalID, "", cause, func() map[string]string {
		return map[string]string{"email": email}
	})
	return cause
}

func (e *Engine) finishSignIn(ctx context.Context, principal *Principal, trusted bool) (*SignInResult, error) {
	result, err := e.issueSession(ctx, principal, trusted)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignIn, true, principal.ID, result.SessionID, nil, nil)
	return result, nil
}

// beginSecondFactor parks a first-factor success as a pending sign-in
// and reports which second factors can complete it.
func (e *Engine) beginSecondFactor(ctx context.Context, principal *Principal, redirect string) (*SignInResult, error) {
	id, err := internal.NewID()
	if err != nil {
		return nil, err
	}
	rec := &pendingSignIn{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		Redirect:    redirect,
		ExpiresAt:   time.Now().Add(e.cfg.SecondFactor.PendingTTL).Unix(),
	}
	if err := e.pending.Save(ctx, id.String(), rec, e.cfg.SecondFactor.PendingTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	methods := []string{MethodTOTP, MethodEmailOTP}
	if n, err := e.store.CountBackupCodes(ctx, principal.ID); err == nil && n > 0 {
		methods = append(methods, MethodBackupCode)
	}

	e.metricInc(MetricSecondFactorRequired)
	e.emitAudit(ctx, auditEventSecondFactorStart, true, principal.ID, "", nil, nil)

	return &SignInResult{
		Status:      StatusAwaitingSecondFactor,
		PrincipalID: principal.ID,
		Email:       principal.Email,
		PendingID:   id.String(),
		Methods:     methods,
		Redirect:    redirect,
	}, nil
}
