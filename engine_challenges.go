package authkit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/expressthat/authkit/internal"
)

// issueChallengeToken mints a single-use challenge for the principal
// and returns the opaque token to embed in an email link. Only the
// secret's hash is stored.
func (e *Engine) issueChallengeToken(ctx context.Context, p challengePurpose, principal *Principal, ttl time.Duration) (string, error) {
	id, err := internal.NewID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", err
	}
	rec := &challengeRecord{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		SecretHash:  internal.HashSecret(secret),
		ExpiresAt:   time.Now().Add(ttl).Unix(),
	}
	if err := e.challenges.Create(ctx, p, id.String(), rec, ttl); err != nil {
		return "", err
	}
	return internal.EncodeChallengeToken(id, secret), nil
}

// redeemChallengeToken parses and consumes a challenge token exactly
// once. Malformed tokens are indistinguishable from unknown ones.
func (e *Engine) redeemChallengeToken(ctx context.Context, p challengePurpose, token string) (*challengeRecord, error) {
	id, secret, err := internal.DecodeChallengeToken(token)
	if err != nil {
		return nil, ErrChallengeNotFound
	}
	return e.challenges.Consume(ctx, p, id.String(), internal.HashSecret(secret))
}

func (e *Engine) emailLink(path, token string) string {
	base := strings.TrimSuffix(e.cfg.BaseURL, "/")
	return base + path + "?token=" + token
}

func (e *Engine) verificationMail(to, token string) Mail {
	return Mail{
		To:      to,
		Subject: fmt.Sprintf("[%s] Verify your email address", e.cfg.AppName),
		Body:    "Confirm your email address by opening this link: " + e.emailLink("/verify-email", token),
	}
}

func (e *Engine) resetMail(to, token string) Mail {
	return Mail{
		To:      to,
		Subject: fmt.Sprintf("[%s] Reset your password", e.cfg.AppName),
		Body:    "Reset your password by opening this link: " + e.emailLink("/reset-password", token),
	}
}

func (e *Engine) magicLinkMail(to, token, redirect string) Mail {
	link := e.emailLink("/magic-link", token)
	if redirect != "" {
		link += "&redirect=" + url.QueryEscape(redirect)
	}
	return Mail{
		To:      to,
		Subject: fmt.Sprintf("[%s] Your sign-in link", e.cfg.AppName),
		Body:    "Sign in by opening this link: " + link,
	}
}

func (e *Engine) otpMail(to, code string) Mail {
	return Mail{
		To:      to,
		Subject: fmt.Sprintf("[%s] Your verification code", e.cfg.AppName),
		Body:    "Your verification code is " + code + ". It expires in " + e.cfg.SecondFactor.EmailOTPTTL.String() + ".",
	}
}
