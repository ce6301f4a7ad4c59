package authkit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func magicLinkConfig(cfg *Config) { cfg.MagicLink.Enabled = true }

func TestMagicLinkFlow(t *testing.T) {
	env := newTestEngine(t, magicLinkConfig)
	id := signUpTestAccount(t, env)
	ctx := context.Background()

	if err := env.engine.RequestMagicLink(ctx, testEmail, "", "/app/home"); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	body := env.mailer.last(t).Body
	if !strings.Contains(body, "redirect=%2Fapp%2Fhome") {
		t.Fatalf("link does not carry the redirect: %q", body)
	}
	token := extractToken(t, body)

	out, err := env.engine.CompleteMagicLink(ctx, token, "/app/home")
	if err != nil {
		t.Fatalf("CompleteMagicLink: %v", err)
	}
	if out.Status != StatusSignedIn {
		t.Fatalf("status = %v", out.Status)
	}
	if out.PrincipalID != id {
		t.Fatalf("principal = %q, want %q", out.PrincipalID, id)
	}
	if out.Redirect != "/app/home" {
		t.Fatalf("redirect = %q", out.Redirect)
	}

	// Clicking the link also proves the address.
	p, _ := env.store.GetPrincipalByID(ctx, id)
	if !p.EmailVerified {
		t.Fatal("EmailVerified still false after magic link")
	}

	if _, err := env.engine.Validate(ctx, out.AccessToken); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestMagicLinkWithSecondFactor(t *testing.T) {
	env := newTestEngine(t, magicLinkConfig)
	id := signUpTestAccount(t, env)
	enableTwoFactor(t, env, id)
	ctx := context.Background()

	if err := env.engine.RequestMagicLink(ctx, testEmail, "", "/app/settings"); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := extractToken(t, env.mailer.last(t).Body)

	// The link is the sole factor: redemption signs in directly even
	// with an authenticator enrolled.
	out, err := env.engine.CompleteMagicLink(ctx, token, "/app/settings")
	if err != nil {
		t.Fatalf("CompleteMagicLink: %v", err)
	}
	if out.Status != StatusSignedIn {
		t.Fatalf("status = %v, want StatusSignedIn", out.Status)
	}
	if out.AccessToken == "" {
		t.Fatal("no access token issued")
	}
	if out.Redirect != "/app/settings" {
		t.Fatalf("redirect = %q", out.Redirect)
	}
	if _, err := env.engine.Validate(ctx, out.AccessToken); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestMagicLinkDisabled(t *testing.T) {
	env := newTestEngine(t, nil)
	signUpTestAccount(t, env)
	ctx := context.Background()

	if err := env.engine.RequestMagicLink(ctx, testEmail, "", ""); !errors.Is(err, ErrMagicLinkDisabled) {
		t.Fatalf("request: got %v, want ErrMagicLinkDisabled", err)
	}
	if _, err := env.engine.CompleteMagicLink(ctx, "whatever", ""); !errors.Is(err, ErrMagicLinkDisabled) {
		t.Fatalf("complete: got %v, want ErrMagicLinkDisabled", err)
	}
}

func TestMagicLinkUnknownEmailReportsSuccess(t *testing.T) {
	env := newTestEngine(t, magicLinkConfig)
	sent := env.mailer.count()

	if err := env.engine.RequestMagicLink(context.Background(), "nobody@x.com", "", ""); err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if env.mailer.count() != sent {
		t.Fatal("mail sent for an unknown address")
	}
}

func TestMagicLinkTokenExpires(t *testing.T) {
	env := newTestEngine(t, magicLinkConfig)
	signUpTestAccount(t, env)
	ctx := context.Background()

	if err := env.engine.RequestMagicLink(ctx, testEmail, "", ""); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := extractToken(t, env.mailer.last(t).Body)

	env.redis.FastForward(env.engine.cfg.MagicLink.TTL + time.Second)
	if _, err := env.engine.CompleteMagicLink(ctx, token, ""); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("got %v, want ErrChallengeNotFound", err)
	}
}

func TestMagicLinkTokenSingleUse(t *testing.T) {
	env := newTestEngine(t, magicLinkConfig)
	signUpTestAccount(t, env)
	ctx := context.Background()

	if err := env.engine.RequestMagicLink(ctx, testEmail, "", ""); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := extractToken(t, env.mailer.last(t).Body)

	if _, err := env.engine.CompleteMagicLink(ctx, token, ""); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := env.engine.CompleteMagicLink(ctx, token, ""); !errors.Is(err, ErrChallengeConsumed) {
		t.Fatalf("second redeem: got %v, want ErrChallengeConsumed", err)
	}
}

func TestMagicLinkTokenNotValidForVerification(t *testing.T) {
	env := newTestEngine(t, magicLinkConfig)
	signUpTestAccount(t, env)
	ctx := context.Background()

	if err := env.engine.RequestMagicLink(ctx, testEmail, "", ""); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := extractToken(t, env.mailer.last(t).Body)

	// A token minted for one purpose cannot be redeemed for another.
	if _, err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("got %v, want ErrChallengeNotFound", err)
	}
	if _, err := env.engine.CompleteMagicLink(ctx, token, ""); err != nil {
		t.Fatalf("token was burned by the cross-purpose attempt: %v", err)
	}
}
