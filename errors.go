package authkit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned for a wrong password or an
	// unknown email during sign-in. The two cases are deliberately
	// indistinguishable.
	ErrInvalidCredentials = errors.New("authkit: invalid credentials")

	// ErrInvalidPassword is returned when a sensitive operation (second
	// factor enrollment, account deletion, password change) is given a
	// wrong current password.
	ErrInvalidPassword = errors.New("authkit: invalid password")

	// ErrAccountExists is returned by SignUp for an email that already
	// has an account.
	ErrAccountExists = errors.New("authkit: account already exists")

	// ErrAccountNotFound is returned when a principal lookup by ID
	// fails.
	ErrAccountNotFound = errors.New("authkit: account not found")

	// ErrAccountDisabled is returned for principals the credential
	// store reports as disabled.
	ErrAccountDisabled = errors.New("authkit: account disabled")

	// ErrEmailUnverified blocks sign-in when verification is required
	// and the address has not been confirmed.
	ErrEmailUnverified = errors.New("authkit: email not verified")

	// ErrWeakPassword is returned when a candidate password scores
	// below the configured strength requirement.
	ErrWeakPassword = errors.New("authkit: password too weak")

	// ErrPasswordMismatch is returned when password and confirmation
	// differ.
	ErrPasswordMismatch = errors.New("authkit: password confirmation mismatch")

	// ErrPasswordReuse rejects a new password equal to the current one.
	ErrPasswordReuse = errors.New("authkit: new password matches current password")

	// ErrConfirmationPhrase is returned by DeleteAccount when the
	// literal confirmation phrase is wrong.
	ErrConfirmationPhrase = errors.New("authkit: confirmation phrase mismatch")

	// ErrCaptchaRequired is returned when a captcha token is expected
	// but missing.
	ErrCaptchaRequired = errors.New("authkit: captcha token required")

	// ErrCaptchaInvalid is returned when the captcha provider rejects
	// the token.
	ErrCaptchaInvalid = errors.New("authkit: captcha verification failed")

	// ErrCaptchaUnavailable wraps captcha provider transport failures.
	ErrCaptchaUnavailable = errors.New("authkit: captcha provider unavailable")

	// ErrChallengeNotFound is returned for a challenge or pending
	// sign-in ID that does not exist.
	ErrChallengeNotFound = errors.New("authkit: challenge not found")

	// ErrChallengeExpired is returned when a challenge exists but its
	// lifetime has elapsed.
	ErrChallengeExpired = errors.New("authkit: challenge expired")

	// ErrChallengeConsumed is returned when a challenge was already
	// redeemed once.
	ErrChallengeConsumed = errors.New("authkit: challenge already used")

	// ErrTooManyAttempts is returned when a challenge or pending
	// sign-in burned through its attempt allowance.
	ErrTooManyAttempts = errors.New("authkit: too many attempts")

	// ErrInvalidCode is returned for a wrong TOTP, email OTP or
	// challenge secret.
	ErrInvalidCode = errors.New("authkit: invalid code")

	// ErrCodeReplayed rejects a TOTP code presented twice inside its
	// validity window.
	ErrCodeReplayed = errors.New("authkit: code already used")

	// ErrSecondFactorNotEnabled is returned for second-factor
	// operations on accounts without a confirmed authenticator.
	ErrSecondFactorNotEnabled = errors.New("authkit: second factor not enabled")

	// ErrSecondFactorAlreadyEnabled blocks re-enrollment while an
	// authenticator is active.
	ErrSecondFactorAlreadyEnabled = errors.New("authkit: second factor already enabled")

	// ErrSecondFactorBusy means another enrollment or disable for the
	// same account is in flight.
	ErrSecondFactorBusy = errors.New("authkit: second factor operation in progress")

	// ErrBackupCodeInvalid is returned for an unknown or already-spent
	// backup code. It wraps ErrInvalidCode so callers can treat all
	// wrong-code outcomes uniformly.
	ErrBackupCodeInvalid = fmt.Errorf("%w: unknown or spent backup code", ErrInvalidCode)

	// ErrRateLimited is returned when a sign-in or email-sending flow
	// hits its rate limit.
	ErrRateLimited = errors.New("authkit: rate limited")

	// ErrSessionNotFound is returned for tokens whose server-side
	// session no longer exists.
	ErrSessionNotFound = errors.New("authkit: session not found")

	// ErrTokenInvalid is returned for unusable access tokens.
	ErrTokenInvalid = errors.New("authkit: token invalid")

	// ErrMagicLinkDisabled is returned when magic-link sign-in is off.
	ErrMagicLinkDisabled = errors.New("authkit: magic link sign-in disabled")

	// ErrUnknownMethod is returned for a sign-in method name that was
	// never registered.
	ErrUnknownMethod = errors.New("authkit: unknown sign-in method")

	// ErrEngineClosed is returned for operations after Close.
	ErrEngineClosed = errors.New("authkit: engine closed")

	// ErrConfigInvalid is returned by Build for unusable configs.
	ErrConfigInvalid = errors.New("authkit: invalid config")

	// errBackendUnavailable wraps Redis failures in the internal
	// stores. It surfaces through the exported unavailability errors.
	errBackendUnavailable = errors.New("authkit: backend unavailable")

	// ErrStoreUnavailable is returned when the credential store or the
	// Redis backend fails.
	ErrStoreUnavailable = errors.New("authkit: store unavailable")

	// ErrMailUnavailable wraps mailer failures on flows where delivery
	// is required.
	ErrMailUnavailable = errors.New("authkit: mail delivery failed")
)
