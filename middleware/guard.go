// Package middleware provides net/http middleware that guards routes
// behind the authentication engine.
package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/expressthat/authkit"
)

// Validator is the slice of the engine the guard needs.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*authkit.AuthResult, error)
}

// GuardConfig controls where unauthenticated browsers are sent.
type GuardConfig struct {
	// SignInPath is the redirect target, default "/sign-in".
	SignInPath string
	// RedirectParam carries the originally requested URL, default
	// "redirect".
	RedirectParam string
	// CookieName is checked when no bearer token is present, default
	// "authkit_token".
	CookieName string
}

type contextKey struct{}

var authResultKey contextKey

// Guard validates each request's token before passing it on. Browsers
// are redirected to the sign-in page with the original URL preserved in
// the redirect parameter; API clients get a plain 401.
func Guard(v Validator, cfg GuardConfig) func(http.Handler) http.Handler {
	if cfg.SignInPath == "" {
		cfg.SignInPath = "/sign-in"
	}
	if cfg.RedirectParam == "" {
		cfg.RedirectParam = "redirect"
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "authkit_token"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			fromHeader := token != ""
			if token == "" {
				if c, err := r.Cookie(cfg.CookieName); err == nil {
					token = c.Value
				}
			}

			if token != "" {
				result, err := v.Validate(r.Context(), token)
				if err == nil {
					ctx := context.WithValue(r.Context(), authResultKey, result)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			if fromHeader || wantsJSON(r) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}

			target := cfg.SignInPath + "?" + cfg.RedirectParam + "=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusFound)
		})
	}
}

// SecondFactorRedirect sends the browser to the second-factor page
// after a sign-in paused on StatusAwaitingSecondFactor. The pending
// sign-in ID and the original destination ride along as query
// parameters. An empty path defaults to "/second-factor".
func SecondFactorRedirect(w http.ResponseWriter, r *http.Request, path string, result *authkit.SignInResult) {
	if path == "" {
		path = "/second-factor"
	}
	q := url.Values{}
	q.Set("pending", result.PendingID)
	if result.Redirect != "" {
		q.Set("redirect", result.Redirect)
	}
	http.Redirect(w, r, path+"?"+q.Encode(), http.StatusFound)
}

// AuthResultFromContext returns the identity the guard attached.
func AuthResultFromContext(ctx context.Context) (*authkit.AuthResult, bool) {
	result, ok := ctx.Value(authResultKey).(*authkit.AuthResult)
	return result, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
