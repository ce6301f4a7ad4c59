package authkit

import "context"

// Principal is the engine's view of an account. The credential store
// owns the authoritative record; the engine never persists principals
// itself.
type Principal struct {
	ID            string
	Email         string
	PasswordHash  string
	EmailVerified bool
	// TwoFactorEnabled is true only after an enrollment has been
	// confirmed with a valid authenticator code.
	TwoFactorEnabled bool
	Disabled         bool
}

// SecondFactorRecord holds a principal's authenticator state. Confirmed
// stays false between enrollment start and the first valid code.
type SecondFactorRecord struct {
	Secret          []byte
	Confirmed       bool
	LastUsedCounter int64
}

// BackupCodeRecord stores the hash of one recovery code.
type BackupCodeRecord struct {
	Hash [32]byte
}

// CreatePrincipalInput is the payload for CredentialStore.CreatePrincipal.
type CreatePrincipalInput struct {
	Email         string
	PasswordHash  string
	EmailVerified bool
}

// CredentialStore is implemented by the host application and backs all
// principal persistence. Implementations must be safe for concurrent
// use. CreatePrincipal must fail for an email that already has an
// account; the engine maps that failure to ErrAccountExists when the
// returned error wraps ErrAccountExists, and treats any other error as
// a store failure.
type CredentialStore interface {
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	GetPrincipalByID(ctx context.Context, id string) (*Principal, error)
	CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (*Principal, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	MarkEmailVerified(ctx context.Context, id string) error
	DeletePrincipal(ctx context.Context, id string) error

	// GetSecondFactor returns nil with no error when the principal has
	// no authenticator record.
	GetSecondFactor(ctx context.Context, id string) (*SecondFactorRecord, error)
	// StoreSecondFactor writes an unconfirmed authenticator secret,
	// replacing any previous record.
	StoreSecondFactor(ctx context.Context, id string, secret []byte) error
	// ConfirmSecondFactor flips the record to confirmed and sets the
	// principal's TwoFactorEnabled flag.
	ConfirmSecondFactor(ctx context.Context, id string) error
	// ClearSecondFactor removes the authenticator record and backup
	// codes and clears TwoFactorEnabled.
	ClearSecondFactor(ctx context.Context, id string) error
	UpdateSecondFactorCounter(ctx context.Context, id string, counter int64) error

	// ReplaceBackupCodes atomically swaps the full backup code set.
	ReplaceBackupCodes(ctx context.Context, id string, codes []BackupCodeRecord) error
	// ConsumeBackupCode removes the code with the given hash and
	// reports whether it existed. Each code can succeed at most once.
	ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error)
	CountBackupCodes(ctx context.Context, id string) (int, error)
}

// Mail is an outbound message handed to the Mailer.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers challenge emails. Implementations should return
// quickly; the engine treats delivery failures on request flows as
// non-fatal and records them in the audit stream.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// CaptchaVerifier checks a client-supplied captcha token.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// SignInStatus distinguishes a completed sign-in from one paused on a
// second factor.
type SignInStatus uint8

const (
	// StatusSignedIn means a session was established.
	StatusSignedIn SignInStatus = iota
	// StatusAwaitingSecondFactor means the first factor succeeded and a
	// pending sign-in is waiting for CompleteSecondFactor.
	StatusAwaitingSecondFactor
)

// SignUpRequest is the payload for SignUp.
type SignUpRequest struct {
	Email           string
	Password        string
	ConfirmPassword string
	CaptchaToken    string
}

// SignUpResult reports the outcome of account creation. When email
// verification is not required the account is signed in immediately and
// Session carries the tokens.
type SignUpResult struct {
	PrincipalID      string
	VerificationSent bool
	Session          *SignInResult
}

// SignInRequest is the payload for password sign-in.
type SignInRequest struct {
	Email        string
	Password     string
	CaptchaToken string
	// Redirect is an opaque post-sign-in destination carried through
	// the second-factor hop unchanged.
	Redirect string
	// DeviceFingerprint identifies the client for trusted-device
	// checks. Empty disables the check for this request.
	DeviceFingerprint string
}

// SignInResult is returned by every flow that can establish a session.
type SignInResult struct {
	Status      SignInStatus
	PrincipalID string
	Email       string

	// Set when Status is StatusSignedIn.
	SessionID   string
	AccessToken string

	// Set when Status is StatusAwaitingSecondFactor.
	PendingID string
	// Methods lists the second factors the account can complete:
	// "totp", "email-otp", "backup-code".
	Methods []string

	Redirect string
}

// Second factor method names accepted by SecondFactorRequest.Method.
const (
	MethodTOTP       = "totp"
	MethodEmailOTP   = "email-otp"
	MethodBackupCode = "backup-code"
)

// SecondFactorRequest completes a pending sign-in.
type SecondFactorRequest struct {
	PendingID string
	Method    string
	Code      string
	// TrustDevice marks the fingerprint as trusted after success, so
	// later sign-ins from it skip the second factor.
	TrustDevice       bool
	DeviceFingerprint string
}

// TOTPEnrollment is returned once at enrollment start. The secret and
// backup codes are never recoverable afterwards.
type TOTPEnrollment struct {
	Secret      string
	OTPAuthURI  string
	BackupCodes []string
}

// VerifyEmailResult reports a completed email verification. Session is
// set when auto sign-in applies; it stays nil for accounts with a
// second factor enabled.
type VerifyEmailResult struct {
	PrincipalID string
	Email       string
	Session     *SignInResult
}

// AuthResult is the validated identity attached to a request by
// Engine.Validate and the route guard.
type AuthResult struct {
	PrincipalID   string
	Email         string
	SessionID     string
	EmailVerified bool
	TwoFactor     bool
	TrustedDevice bool
}
