package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/expressthat/authkit/password"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n") && strings.IndexByte(email[at+1:], '.') > 0
}

// SignUp creates an account from an email and password. A verification
// link is emailed best effort; when verified email is not required for
// sign-in, the new account is signed in immediately.
func (e *Engine) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}

	if err := e.checkCaptcha(ctx, e.cfg.Captcha.OnSignUp, req.CaptchaToken); err != nil {
		e.metricInc(MetricSignUpRejected)
		return nil, err
	}

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		e.metricInc(MetricSignUpRejected)
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidCredentials)
	}
	if req.Password != req.ConfirmPassword {
		e.metricInc(MetricSignUpRejected)
		return nil, ErrPasswordMismatch
	}
	if password.Evaluate(req.Password).Score < e.cfg.Password.RequiredScore {
		e.metricInc(MetricSignUpRejected)
		e.emitAudit(ctx, auditEventSignUp, false, "", "", ErrWeakPassword, nil)
		return nil, ErrWeakPassword
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		e.metricInc(MetricSignUpRejected)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	principal, err := e.store.CreatePrincipal(ctx, CreatePrincipalInput{
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		e.metricInc(MetricSignUpRejected)
		if errors.Is(err, ErrAccountExists) {
			e.emitAudit(ctx, auditEventSignUp, false, "", "", ErrAccountExists, func() map[string]string {
				return map[string]string{"email": email}
			})
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricSignUp)
	e.emitAudit(ctx, auditEventSignUp, true, principal.ID, "", nil, nil)

	result := &SignUpResult{PrincipalID: principal.ID}

	// Delivery failures do not fail the sign-up; the link can be
	// re-requested.
	if token, err := e.issueChallengeToken(ctx, purposeVerifyEmail, principal, e.cfg.EmailVerification.TTL); err == nil {
		if e.sendMail(ctx, principal.ID, e.verificationMail(principal.Email, token)) == nil {
			result.VerificationSent = true
			e.metricInc(MetricEmailVerificationSent)
		}
	}

	if !e.cfg.SignIn.RequireVerifiedEmail {
		sess, err := e.issueSession(ctx, principal, false)
		if err != nil {
			return nil, err
		}
		result.Session = sess
	}
	return result, nil
}
