// Package internaldefs maps engine metric IDs to stable exported
// metric names shared by the exporters.
package internaldefs

import "github.com/expressthat/authkit"

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   authkit.HistogramID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{authkit.MetricSignUp, "authkit_sign_up_total", "Accounts created."},
	{authkit.MetricSignUpRejected, "authkit_sign_up_rejected_total", "Sign-up attempts rejected before account creation."},
	{authkit.MetricSignInSuccess, "authkit_sign_in_success_total", "Completed sign-ins, all methods."},
	{authkit.MetricSignInFailure, "authkit_sign_in_failure_total", "Failed first-factor attempts."},
	{authkit.MetricSignInRateLimited, "authkit_sign_in_rate_limited_total", "Sign-in attempts refused by the rate limiter."},
	{authkit.MetricCaptchaFailure, "authkit_captcha_failure_total", "Captcha tokens that failed verification."},
	{authkit.MetricSecondFactorRequired, "authkit_second_factor_required_total", "Sign-ins paused on a second factor."},
	{authkit.MetricSecondFactorSuccess, "authkit_second_factor_success_total", "Second factors completed."},
	{authkit.MetricSecondFactorFailure, "authkit_second_factor_failure_total", "Second factor attempts that failed."},
	{authkit.MetricBackupCodeUsed, "authkit_backup_code_used_total", "Backup codes spent."},
	{authkit.MetricBackupCodesRegenerated, "authkit_backup_codes_regenerated_total", "Backup code set regenerations."},
	{authkit.MetricEmailVerificationSent, "authkit_email_verification_sent_total", "Verification emails delivered."},
	{authkit.MetricEmailVerified, "authkit_email_verified_total", "Email addresses confirmed."},
	{authkit.MetricPasswordResetRequested, "authkit_password_reset_requested_total", "Password reset links issued."},
	{authkit.MetricPasswordResetCompleted, "authkit_password_reset_completed_total", "Password resets completed."},
	{authkit.MetricMagicLinkSent, "authkit_magic_link_sent_total", "Magic links issued."},
	{authkit.MetricMagicLinkCompleted, "authkit_magic_link_completed_total", "Magic links redeemed."},
	{authkit.MetricSessionIssued, "authkit_session_issued_total", "Sessions established."},
	{authkit.MetricSessionRevoked, "authkit_session_revoked_total", "Session revocation operations."},
	{authkit.MetricTrustedDeviceHit, "authkit_trusted_device_hit_total", "Sign-ins that skipped the second factor on a trusted device."},
	{authkit.MetricValidateSuccess, "authkit_validate_success_total", "Access tokens validated."},
	{authkit.MetricValidateFailure, "authkit_validate_failure_total", "Access tokens rejected."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{authkit.HistSignIn, "authkit_sign_in_duration_seconds", "Password sign-in latency."},
	{authkit.HistSecondFactor, "authkit_second_factor_duration_seconds", "Second factor completion latency."},
	{authkit.HistValidate, "authkit_validate_duration_seconds", "Token validation latency."},
}

// AuditDroppedName is the exported name of the dropped audit event
// counter.
const AuditDroppedName = "authkit_audit_dropped_total"

// BucketBoundsSeconds are the histogram bucket upper bounds rendered in
// seconds, matching authkit.HistogramBucketBounds.
var BucketBoundsSeconds = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5"}
