package authkit

import (
	"fmt"
	"time"

	"github.com/expressthat/authkit/jwt"
	"github.com/expressthat/authkit/password"
)

// ValidationMode selects how Engine.Validate treats the server-side
// session.
type ValidationMode uint8

const (
	// ModeStrict checks the JWT and requires the session to exist in
	// Redis. Sign-out takes effect immediately.
	ModeStrict ValidationMode = iota
	// ModeJWTOnly accepts any valid token without a Redis round trip.
	// Revocation then only takes effect at token expiry.
	ModeJWTOnly
)

// Config is the full engine configuration. The zero value is not
// usable; start from DefaultConfig and override.
type Config struct {
	// AppName appears in authenticator URIs and outbound email
	// subjects.
	AppName string
	// BaseURL is the public origin links in email point at, e.g.
	// "https://app.example.com".
	BaseURL string

	// ProductionMode tightens Validate: hs256 secrets under 48 bytes,
	// captcha disabled on sign-up and sliding sessions without jitter
	// become errors.
	ProductionMode bool

	ValidationMode ValidationMode

	JWT      jwt.Config
	Password PasswordConfig
	Session  SessionConfig
	SignIn   SignInConfig
	Captcha  CaptchaConfig

	EmailVerification EmailVerificationConfig
	PasswordReset     PasswordResetConfig
	MagicLink         MagicLinkConfig

	SecondFactor  SecondFactorConfig
	TrustedDevice TrustedDeviceConfig

	Audit   AuditConfig
	Metrics MetricsConfig
}

// PasswordConfig controls hashing and strength requirements.
type PasswordConfig struct {
	Argon2 password.Argon2Params
	// RequiredScore is the minimum strength score (0-4) accepted for
	// new passwords. The top score requires length, upper, lower,
	// digit and special checks to all pass.
	RequiredScore int
	// UpgradeOnSignIn rehashes passwords stored with cheaper argon2
	// parameters after a successful sign-in.
	UpgradeOnSignIn bool
}

// SessionConfig controls server-side session storage.
type SessionConfig struct {
	KeyPrefix     string
	TTL           time.Duration
	Sliding       bool
	SlidingJitter time.Duration
}

// SignInConfig controls the password sign-in flow.
type SignInConfig struct {
	// MaxAttempts failed attempts per email lock the limiter for
	// Cooldown.
	MaxAttempts int
	Cooldown    time.Duration
	// RequireVerifiedEmail blocks sign-in until the address is
	// confirmed.
	RequireVerifiedEmail bool
	// EnumerationDelayMin/Max bound the random pause inserted before
	// answering requests for unknown emails.
	EnumerationDelayMin time.Duration
	EnumerationDelayMax time.Duration
}

// CaptchaConfig gates flows behind a captcha check. A verifier must be
// supplied via the builder when Enabled is true.
type CaptchaConfig struct {
	Enabled         bool
	OnSignUp        bool
	OnSignIn        bool
	OnPasswordReset bool
	OnMagicLink     bool
}

// EmailVerificationConfig controls the verify-email challenge.
type EmailVerificationConfig struct {
	TTL time.Duration
	// AutoSignIn establishes a session straight after verification,
	// except for accounts with a second factor enabled.
	AutoSignIn bool
	// RequestsPerHour throttles how often one address can ask for a
	// fresh link.
	RequestsPerHour int
}

// PasswordResetConfig controls the reset challenge.
type PasswordResetConfig struct {
	TTL             time.Duration
	RequestsPerHour int
	// SignOutOnReset revokes every session after a successful reset.
	SignOutOnReset bool
}

// MagicLinkConfig controls passwordless email sign-in.
type MagicLinkConfig struct {
	Enabled         bool
	TTL             time.Duration
	RequestsPerHour int
}

// SecondFactorConfig controls TOTP, email OTP and backup codes.
type SecondFactorConfig struct {
	// Issuer is the label in otpauth:// URIs; empty falls back to
	// AppName.
	Issuer    string
	Digits    int
	Period    time.Duration
	Skew      int
	Algorithm string

	// PendingTTL bounds how long a first-factor success waits for its
	// second factor.
	PendingTTL time.Duration
	// MaxAttempts wrong codes cancel the pending sign-in.
	MaxAttempts int

	EmailOTPTTL    time.Duration
	EmailOTPDigits int

	BackupCodeCount  int
	BackupCodeLength int
}

// TrustedDeviceConfig controls remember-device behaviour.
type TrustedDeviceConfig struct {
	Enabled bool
	TTL     time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events when the buffer is full instead of
	// blocking request paths.
	DropIfFull bool
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled           bool
	LatencyHistograms bool
}

// DefaultConfig returns the documented defaults. JWT signing material
// must still be supplied.
func DefaultConfig() Config {
	return Config{
		AppName: "authkit",
		JWT: jwt.Config{
			AccessTTL:     15 * time.Minute,
			SigningMethod: jwt.MethodHS256,
		},
		Password: PasswordConfig{
			Argon2:          password.DefaultParams(),
			RequiredScore:   4,
			UpgradeOnSignIn: true,
		},
		Session: SessionConfig{
			KeyPrefix:     "as",
			TTL:           7 * 24 * time.Hour,
			Sliding:       true,
			SlidingJitter: 30 * time.Second,
		},
		SignIn: SignInConfig{
			MaxAttempts:         5,
			Cooldown:            15 * time.Minute,
			EnumerationDelayMin: 20 * time.Millisecond,
			EnumerationDelayMax: 40 * time.Millisecond,
		},
		EmailVerification: EmailVerificationConfig{
			TTL:             time.Hour,
			AutoSignIn:      true,
			RequestsPerHour: 5,
		},
		PasswordReset: PasswordResetConfig{
			TTL:             time.Hour,
			RequestsPerHour: 5,
			SignOutOnReset:  true,
		},
		MagicLink: MagicLinkConfig{
			TTL:             5 * time.Minute,
			RequestsPerHour: 5,
		},
		SecondFactor: SecondFactorConfig{
			Digits:           6,
			Period:           30 * time.Second,
			Skew:             1,
			Algorithm:        "SHA1",
			PendingTTL:       5 * time.Minute,
			MaxAttempts:      5,
			EmailOTPTTL:      10 * time.Minute,
			EmailOTPDigits:   6,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
		},
		TrustedDevice: TrustedDeviceConfig{
			Enabled: true,
			TTL:     30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate reports the first problem with the config.
func (c *Config) Validate() error {
	if c.AppName == "" {
		return fmt.Errorf("%w: AppName is required", ErrConfigInvalid)
	}
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("%w: JWT.AccessTTL must be positive", ErrConfigInvalid)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("%w: Session.TTL must be positive", ErrConfigInvalid)
	}
	if c.Session.TTL < c.JWT.AccessTTL {
		return fmt.Errorf("%w: Session.TTL must not be shorter than JWT.AccessTTL", ErrConfigInvalid)
	}
	if c.Password.RequiredScore < 0 || c.Password.RequiredScore > 4 {
		return fmt.Errorf("%w: Password.RequiredScore must be in [0, 4]", ErrConfigInvalid)
	}
	if c.SignIn.MaxAttempts <= 0 {
		return fmt.Errorf("%w: SignIn.MaxAttempts must be positive", ErrConfigInvalid)
	}
	if c.SignIn.Cooldown <= 0 {
		return fmt.Errorf("%w: SignIn.Cooldown must be positive", ErrConfigInvalid)
	}
	if c.SignIn.EnumerationDelayMin < 0 || c.SignIn.EnumerationDelayMax < c.SignIn.EnumerationDelayMin {
		return fmt.Errorf("%w: enumeration delay bounds are inverted", ErrConfigInvalid)
	}
	if c.EmailVerification.TTL <= 0 {
		return fmt.Errorf("%w: EmailVerification.TTL must be positive", ErrConfigInvalid)
	}
	if c.PasswordReset.TTL <= 0 {
		return fmt.Errorf("%w: PasswordReset.TTL must be positive", ErrConfigInvalid)
	}
	if c.MagicLink.Enabled && c.MagicLink.TTL <= 0 {
		return fmt.Errorf("%w: MagicLink.TTL must be positive", ErrConfigInvalid)
	}
	if c.SecondFactor.Digits < 6 || c.SecondFactor.Digits > 8 {
		return fmt.Errorf("%w: SecondFactor.Digits must be in [6, 8]", ErrConfigInvalid)
	}
	if c.SecondFactor.Period <= 0 {
		return fmt.Errorf("%w: SecondFactor.Period must be positive", ErrConfigInvalid)
	}
	if c.SecondFactor.Skew < 0 || c.SecondFactor.Skew > 2 {
		return fmt.Errorf("%w: SecondFactor.Skew must be in [0, 2]", ErrConfigInvalid)
	}
	switch c.SecondFactor.Algorithm {
	case "SHA1", "SHA256", "SHA512":
	default:
		return fmt.Errorf("%w: SecondFactor.Algorithm must be SHA1, SHA256 or SHA512", ErrConfigInvalid)
	}
	if c.SecondFactor.PendingTTL <= 0 {
		return fmt.Errorf("%w: SecondFactor.PendingTTL must be positive", ErrConfigInvalid)
	}
	if c.SecondFactor.MaxAttempts <= 0 {
		return fmt.Errorf("%w: SecondFactor.MaxAttempts must be positive", ErrConfigInvalid)
	}
	if c.SecondFactor.EmailOTPDigits < 6 || c.SecondFactor.EmailOTPDigits > 10 {
		return fmt.Errorf("%w: SecondFactor.EmailOTPDigits must be in [6, 10]", ErrConfigInvalid)
	}
	if c.SecondFactor.BackupCodeCount <= 0 || c.SecondFactor.BackupCodeCount > 50 {
		return fmt.Errorf("%w: SecondFactor.BackupCodeCount must be in [1, 50]", ErrConfigInvalid)
	}
	if c.SecondFactor.BackupCodeLength < 8 || c.SecondFactor.BackupCodeLength > 32 {
		return fmt.Errorf("%w: SecondFactor.BackupCodeLength must be in [8, 32]", ErrConfigInvalid)
	}
	if c.TrustedDevice.Enabled && c.TrustedDevice.TTL <= 0 {
		return fmt.Errorf("%w: TrustedDevice.TTL must be positive", ErrConfigInvalid)
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: Audit.BufferSize must be positive", ErrConfigInvalid)
	}

	if c.ProductionMode {
		if c.JWT.SigningMethod == jwt.MethodHS256 && len(c.JWT.HMACSecret) < 48 {
			return fmt.Errorf("%w: production requires an HMAC secret of at least 48 bytes", ErrConfigInvalid)
		}
		if !c.Captcha.Enabled || !c.Captcha.OnSignUp {
			return fmt.Errorf("%w: production requires captcha on sign-up", ErrConfigInvalid)
		}
		if c.Session.Sliding && c.Session.SlidingJitter <= 0 {
			return fmt.Errorf("%w: production requires jitter on sliding sessions", ErrConfigInvalid)
		}
	}
	return nil
}

func (c *SecondFactorConfig) issuer(appName string) string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return appName
}
