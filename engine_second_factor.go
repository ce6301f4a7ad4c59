package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expressthat/authkit/internal"
)

// RequestSecondFactorEmailOTP emails a one-time code for a pending
// sign-in. Unlike link flows the caller is mid sign-in, so delivery
// failures are returned.
func (e *Engine) RequestSecondFactorEmailOTP(ctx context.Context, pendingID string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	rec, err := e.pending.Get(ctx, pendingID)
	if err != nil {
		return err
	}

	code, err := internal.NewOTP(e.cfg.SecondFactor.EmailOTPDigits)
	if err != nil {
		return err
	}
	challenge := &challengeRecord{
		PrincipalID: rec.PrincipalID,
		Email:       rec.Email,
		SecretHash:  internal.HashString(code),
		ExpiresAt:   time.Now().Add(e.cfg.SecondFactor.EmailOTPTTL).Unix(),
	}
	// Keyed by the pending sign-in: re-requesting replaces the previous
	// code, and the code is bound to this sign-in only.
	if err := e.challenges.Create(ctx, purposeEmailOTP, pendingID, challenge, e.cfg.SecondFactor.EmailOTPTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return e.sendMail(ctx, rec.PrincipalID, e.otpMail(rec.Email, code))
}

// CompleteSecondFactor finishes a pending sign-in with a TOTP code, an
// emailed one-time code or a backup code. Each pending sign-in can
// complete at most once.
func (e *Engine) CompleteSecondFactor(ctx context.Context, req SecondFactorRequest) (*SignInResult, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observeLatency(HistSecondFactor, start)

	rec, err := e.pending.Get(ctx, req.PendingID)
	if err != nil {
		return nil, err
	}

	principal, err := e.loadPrincipal(ctx, rec.PrincipalID)
	if err != nil {
		return nil, err
	}

	switch req.Method {
	case MethodTOTP:
		err = e.verifyTOTPForPrincipal(ctx, principal, req.Code)
	case MethodEmailOTP:
		_, err = e.challenges.Consume(ctx, purposeEmailOTP, req.PendingID, internal.HashString(req.Code))
	case MethodBackupCode:
		err = e.consumeBackupCode(ctx, principal.ID, req.Code)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
	if err != nil {
		return nil, e.secondFactorFailure(ctx, req.PendingID, principal.ID, err)
	}

	// The delete is the completion race: whichever caller removes the
	// record gets to establish the session.
	deleted, err := e.pending.Delete(ctx, req.PendingID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !deleted {
		return nil, ErrChallengeConsumed
	}

	trusted := false
	if req.TrustDevice && e.cfg.TrustedDevice.Enabled && req.DeviceFingerprint != "" {
		if err := e.devices.Trust(ctx, principal.ID, req.DeviceFingerprint); err == nil {
			trusted = true
			e.emitAudit(ctx, auditEventDeviceTrusted, true, principal.ID, "", nil, nil)
		}
	}

	result, err := e.issueSession(ctx, principal, trusted)
	if err != nil {
		return nil, err
	}
	result.Redirect = rec.Redirect

	e.metricInc(MetricSignInSuccess)
	e.metricInc(MetricSecondFactorSuccess)
	e.emitAudit(ctx, auditEventSecondFactor, true, principal.ID, result.SessionID, nil, func() map[string]string {
		return map[string]string{"method": req.Method}
	})
	return result, nil
}

// secondFactorFailure counts the failed attempt against the pending
// sign-in. Spending the allowance cancels the sign-in entirely.
func (e *Engine) secondFactorFailure(ctx context.Context, pendingID, principalID string, cause error) error {
	e.metricInc(MetricSecondFactorFailure)
	e.emitAudit(ctx, auditEventSecondFactor, false, principalID, "", cause, nil)

	// Backend-side failures are not the caller's attempts.
	if errors.Is(cause, errBackendUnavailable) || errors.Is(cause, ErrStoreUnavailable) {
		return cause
	}

	if err := e.pending.RecordFailure(ctx, pendingID); errors.Is(err, ErrTooManyAttempts) {
		return ErrTooManyAttempts
	}
	return cause
}

// verifyTOTPForPrincipal checks a TOTP code against the confirmed
// authenticator, with per-principal attempt limiting and replay
// protection inside the skew window.
func (e *Engine) verifyTOTPForPrincipal(ctx context.Context, principal *Principal, code string) error {
	record, err := e.store.GetSecondFactor(ctx, principal.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record == nil || !record.Confirmed {
		return ErrSecondFactorNotEnabled
	}

	if err := e.codeLimiter.Check(ctx, principal.ID); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return ErrTooManyAttempts
		}
		return err
	}

	counter, ok := e.totp.verify(code, record.Secret, time.Now())
	if !ok {
		_ = e.codeLimiter.RecordFailure(ctx, principal.ID)
		return ErrInvalidCode
	}
	if counter <= record.LastUsedCounter {
		_ = e.codeLimiter.RecordFailure(ctx, principal.ID)
		return ErrCodeReplayed
	}

	if err := e.store.UpdateSecondFactorCounter(ctx, principal.ID, counter); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_ = e.codeLimiter.Reset(ctx, principal.ID)
	return nil
}
