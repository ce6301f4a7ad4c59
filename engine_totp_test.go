package authkit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBeginTOTPEnrollment(t *testing.T) {
	env := newTestEngine(t, nil)
	id := signUpTestAccount(t, env)
	verifyTestEmail(t, env, id)
	ctx := context.Background()

	enrollment, err := env.engine.BeginTOTPEnrollment(ctx, id, testPassword)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment: %v", err)
	}
	if enrollment.Secret == "" {
		t.Fatal("no secret")
	}
	if !strings.HasPrefix(enrollment.OTPAuthURI, "otpauth://totp/") {
		t.Fatalf("URI = %q", enrollment.OTPAuthURI)
	}
	if !strings.Contains(enrollment.OTPAuthURI, "issuer=authkit-test") {
		t.Fatalf("URI missing issuer: %q", enrollment.OTPAuthURI)
	}
	if len(enrollment.BackupCodes) != env.engine.cfg.SecondFactor.BackupCodeCount {
		t.Fatalf("got %d backup codes, want %d", len(enrollment.BackupCodes), env.engine.cfg.SecondFactor.BackupCodeCount)
	}

	// Enrollment has started but the flag stays off until confirmation.
	p, err := env.store.GetPrincipalByID(ctx, id)
	if err != nil {
		t.Fatalf("GetPrincipalByID: %v", err)
	}
	if p.TwoFactorEnabled {
		t.Fatal("TwoFactorEnabled flipped before confirmation")
	}
}

func TestBeginTOTPEnrollmentWrongPassword(t *testing.T) {
	env := newTestEngine(t, nil)
	id := signUpTestAccount(t, env)
	ctx := context.Background()

	_, err := env.engine.BeginTOTPEnrollment(ctx, id, "Ab1!abce")
	if !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("got %v, want ErrInvalidPassword", err)
	}

	// Nothing was written: no secret, no backup codes.
	rec, err := env.store.GetSecondFactor(ctx, id)
	if err != nil {
		t.Fatalf("GetSecondFactor: %v", err)
	}
	if rec != nil {
		t.Fatal("secret stored despite wrong password")
	}
	n, err := env.store.CountBackupCodes(ctx, id)
	if err != nil {
		t.Fatalf("CountBackupCodes: %v", err)
	}
	if n != 0 {
		t.Fatalf("%d backup codes stored despite wrong password", n)
	}
}

func TestConfirmTOTPEnrollment(t *testing.T) {
	env := newTestEngine(t, nil)
	id := signUpTestAccount(t, env)
	verifyTestEmail(t, env, id)
	ctx := context.Background()

	enrollment, err := env.engine.BeginTOTPEnrollment(ctx, id, testPassword)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment: %v", err)
	}
	secret, err := totpEncoding.DecodeString(enrollment.Secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}

	// A wrong code does not confirm.
	if err := env.engine.ConfirmTOTPEnrollment(ctx, id, "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong code: got %v, want ErrInvalidCode", err)
	}
	p, _ := env.store.GetPrincipalByID(ctx, id)
	if p.TwoFactorEnabled {
		t.Fatal("enabled after wrong code")
	}

	code := totpCodeAt(env.engine.cfg.SecondFactor, secret, 0)
	if err := env.engine.ConfirmTOTPEnrollment(ctx, id, code); err != nil {
		t.Fatalf("ConfirmTOTPEnrollment: %v", err)
	}
	p, _ = env.store.GetPrincipalByID(ctx, id)
	if !p.TwoFactorEnabled {
		t.Fatal("not enabled after valid code")
	}

	// Confirming again is rejected.
	if err := env.engine.ConfirmTOTPEnrollment(ctx, id, code); !errors.Is(err, ErrSecondFactorAlreadyEnabled) {
		t.Fatalf("double confirm: got %v, want ErrSecondFactorAlreadyEnabled", err)
	}
}

func TestConfirmTOTPEnrollmentWithoutBegin(t *testing.T) {
	env := newTestEngine(t, nil)
	id := signUpTestAccount(t, env)

	err := env.engine.ConfirmTOTPEnrollment(context.Background(), id, "123456")
	if !errors.Is(err, ErrSecondFactorNotEnabled) {
		t.Fatalf("got %v, want ErrSecondFactorNotEnabled", err)
	}
}

func TestBeginTOTPEnrollmentRequiresVerifiedEmail(t *testing.T) {
	env := newTestEngine(t, nil)
	id := signUpTestAccount(t, env)

	_, err := env.engine.BeginTOTPEnrollment(context.Background(), id, testPassword)
	if !errors.Is(err, ErrEmailUnverified) {
		t.Fatalf("got %v, want ErrEmailUnverified", err)
	}
}

func TestBeginTOTPEnrollmentAlreadyEnabled(t *testing.T) {
	env := newTestEngine(t, nil)
	id := signUpTestAccount(t, env)
	enableTwoFactor(t, env, id)

	_, err := env.engine.BeginTOTPEnrollment(context.Background(), id, testPassword)
	if !errors.Is(err, ErrSecondFactorAlreadyEnabled) {
		t.Fatalf("got %v, want ErrSecondFactorAlreadyEnabled", err)
	}
}

func TestDisableSecondFactor(t *testing.T) {
	env := newTestEngine(t, nil)
	id := signUpTestAccount(t, env)
	enableTwoFactor(t, env, id)
	ctx := context.Background()

	if err := env.engine.DisableSecondFactor(ctx, id, "Ab1!abce"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("wrong password: got %v, want ErrInvalidPassword", err)
	}

	if err := env.engine.DisableSecondFactor(ctx, id, testPassword); err != nil {
		t.Fatalf("DisableSecondFactor: %v", err)
	}

	p, _ := env.store.GetPrincipalByID(ctx, id)
	if p.TwoFactorEnabled {
		t.Fatal("still enabled after disable")
	}
	n, _ := env.store.CountBackupCodes(ctx, id)
	if n != 0 {
		t.Fatalf("%d backup codes survived disable", n)
	}

	// Sign-in no longer pauses on a second factor.
	out, err := env.engine.SignInWithPassword(ctx, SignInRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if out.Status != StatusSignedIn {
		t.Fatalf("status = %v", out.Status)
	}

	if err := env.engine.DisableSecondFactor(ctx, id, testPassword); !errors.Is(err, ErrSecondFactorNotEnabled) {
		t.Fatalf("double disable: got %v, want ErrSecondFactorNotEnabled", err)
	}
}

func TestDisableSecondFactorRevokesSessionsAndDevices(t *testing.T) {
	env := newTestEngine(t, nil)
	id := signUpTestAccount(t, env)
	secret, _ := enableTwoFactor(t, env, id)
	ctx := context.Background()

	pending, err := env.engine.SignInWithPassword(ctx, SignInRequest{
		Email: testEmail, Password: testPassword, DeviceFingerprint: "dev-1",
	})
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	done, err := env.engine.CompleteSecondFactor(ctx, SecondFactorRequest{
		PendingID:         pending.PendingID,
		Method:            MethodTOTP,
		Code:              totpCodeAt(env.engine.cfg.SecondFactor, secret, 1),
		TrustDevice:       true,
		DeviceFingerprint: "dev-1",
	})
	if err != nil {
		t.Fatalf("CompleteSecondFactor: %v", err)
	}

	if err := env.engine.DisableSecondFactor(ctx, id, testPassword); err != nil {
		t.Fatalf("DisableSecondFactor: %v", err)
	}

	if _, err := env.engine.Validate(ctx, done.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session survived disable: %v", err)
	}
	trusted, err := env.engine.devices.IsTrusted(ctx, id, "dev-1")
	if err != nil {
		t.Fatalf("IsTrusted: %v", err)
	}
	if trusted {
		t.Fatal("device trust survived disable")
	}
}

func TestTOTPManagerVerifyWindow(t *testing.T) {
	env := newTestEngine(t, nil)
	mgr := env.engine.totp
	secret := []byte("12345678901234567890")

	for _, offset := range []int{-1, 0, 1} {
		code := totpCodeAt(env.engine.cfg.SecondFactor, secret, offset)
		if _, ok := mgr.verify(code, secret, time.Now()); !ok {
			t.Errorf("code at offset %d rejected", offset)
		}
	}
	// Outside the skew window.
	code := totpCodeAt(env.engine.cfg.SecondFactor, secret, 3)
	if _, ok := mgr.verify(code, secret, time.Now()); ok {
		t.Error("code at offset 3 accepted")
	}

	if _, ok := mgr.verify("12345a", secret, time.Now()); ok {
		t.Error("non-numeric code accepted")
	}
	if _, ok := mgr.verify("123", secret, time.Now()); ok {
		t.Error("short code accepted")
	}
}
