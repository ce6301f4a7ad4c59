package authkit

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSignUp             = "sign_up"
	auditEventSignIn             = "sign_in"
	auditEventSignInRateLimited  = "sign_in_rate_limited"
	auditEventSignOut            = "sign_out"
	auditEventSignOutAll         = "sign_out_all"
	auditEventValidate           = "token_validate"
	auditEventSecondFactorStart  = "second_factor_required"
	auditEventSecondFactor       = "second_factor_complete"
	auditEventEnrollStarted      = "second_factor_enroll_started"
	auditEventEnrollConfirmed    = "second_factor_confirmed"
	auditEventSecondFactorOff    = "second_factor_disabled"
	auditEventBackupCodeUsed     = "backup_code_used"
	auditEventBackupCodesRenewed = "backup_codes_regenerated"
	auditEventVerifyRequested    = "email_verification_requested"
	auditEventEmailVerified      = "email_verified"
	auditEventResetRequested     = "password_reset_requested"
	auditEventResetCompleted     = "password_reset_completed"
	auditEventMagicLinkRequested = "magic_link_requested"
	auditEventMagicLinkCompleted = "magic_link_completed"
	auditEventPasswordChanged    = "password_changed"
	auditEventAccountDeleted     = "account_deleted"
	auditEventDeviceTrusted      = "trusted_device_added"
	auditEventDevicesRevoked     = "trusted_devices_revoked"
	auditEventMailFailed         = "mail_delivery_failed"
	auditEventCaptchaFailed      = "captcha_failed"
)

// Audit error codes carried in AuditEvent.ErrorCode.
const (
	AuditErrInvalidCredentials = "invalid_credentials"
	AuditErrInvalidPassword    = "invalid_password"
	AuditErrAccountExists      = "account_exists"
	AuditErrAccountDisabled    = "account_disabled"
	AuditErrEmailUnverified    = "email_unverified"
	AuditErrWeakPassword       = "weak_password"
	AuditErrRateLimited        = "rate_limited"
	AuditErrCaptcha            = "captcha"
	AuditErrChallengeNotFound  = "challenge_not_found"
	AuditErrChallengeExpired   = "challenge_expired"
	AuditErrChallengeConsumed  = "challenge_consumed"
	AuditErrTooManyAttempts    = "too_many_attempts"
	AuditErrInvalidCode        = "invalid_code"
	AuditErrCodeReplayed       = "code_replayed"
	AuditErrBackupCode         = "invalid_backup_code"
	AuditErrBackend            = "backend_unavailable"
	AuditErrOther              = "other"
)

// emitAudit records one event through the dispatcher. metadataBuilder
// is only invoked when auditing is enabled, so callers can defer map
// allocation.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, principalID, sessionID string, opErr error, metadataBuilder func() map[string]string) {
	if e.audit == nil {
		return
	}
	ev := AuditEvent{
		Timestamp:   time.Now(),
		EventType:   eventType,
		PrincipalID: principalID,
		SessionID:   sessionID,
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Success:     success,
	}
	if opErr != nil {
		ev.ErrorCode = auditErrorCode(opErr)
	}
	if metadataBuilder != nil {
		ev.Metadata = metadataBuilder()
	}
	e.audit.emit(ev)
}

func auditErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return AuditErrInvalidCredentials
	case errors.Is(err, ErrInvalidPassword):
		return AuditErrInvalidPassword
	case errors.Is(err, ErrAccountExists):
		return AuditErrAccountExists
	case errors.Is(err, ErrAccountDisabled):
		return AuditErrAccountDisabled
	case errors.Is(err, ErrEmailUnverified):
		return AuditErrEmailUnverified
	case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrPasswordMismatch), errors.Is(err, ErrPasswordReuse):
		return AuditErrWeakPassword
	case errors.Is(err, ErrRateLimited):
		return AuditErrRateLimited
	case errors.Is(err, ErrCaptchaRequired), errors.Is(err, ErrCaptchaInvalid), errors.Is(err, ErrCaptchaUnavailable):
		return AuditErrCaptcha
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrUnknownMethod):
		return AuditErrChallengeNotFound
	case errors.Is(err, ErrChallengeExpired):
		return AuditErrChallengeExpired
	case errors.Is(err, ErrChallengeConsumed):
		return AuditErrChallengeConsumed
	case errors.Is(err, ErrTooManyAttempts):
		return AuditErrTooManyAttempts
	case errors.Is(err, ErrCodeReplayed):
		return AuditErrCodeReplayed
	case errors.Is(err, ErrBackupCodeInvalid):
		return AuditErrBackupCode
	case errors.Is(err, ErrInvalidCode):
		return AuditErrInvalidCode
	case errors.Is(err, errBackendUnavailable), errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrMailUnavailable):
		return AuditErrBackend
	default:
		return AuditErrOther
	}
}
