// Package jwt issues and validates the short-lived access tokens that
// accompany server-side sessions.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid covers any token that fails signature or claim
	// validation.
	ErrTokenInvalid = errors.New("jwt: token invalid")
	// ErrTokenExpired is returned for structurally valid but expired
	// tokens.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrConfigInvalid is returned by NewManager for unusable configs.
	ErrConfigInvalid = errors.New("jwt: invalid config")
)

// Signing method names accepted by Config.SigningMethod.
const (
	MethodHS256   = "hs256"
	MethodEd25519 = "ed25519"
)

const (
	maxLeeway           = 2 * time.Minute
	defaultMaxFutureIAT = 10 * time.Minute
)

// Config controls token issuance and validation.
type Config struct {
	// AccessTTL is the token lifetime.
	AccessTTL time.Duration
	// SigningMethod is MethodHS256 or MethodEd25519.
	SigningMethod string

	// HMACSecret is required for hs256 and must be at least 32 bytes.
	HMACSecret []byte
	// Ed25519Private is required for ed25519 signing.
	Ed25519Private ed25519.PrivateKey
	// Ed25519Public is required for ed25519 verification.
	Ed25519Public ed25519.PublicKey

	// Issuer and Audience are stamped on issued tokens and enforced on
	// parse when non-empty.
	Issuer   string
	Audience string

	// Leeway tolerates clock skew during validation, capped at two
	// minutes.
	Leeway time.Duration
	// RequireIAT rejects tokens without an issued-at claim.
	RequireIAT bool
	// MaxFutureIAT rejects tokens issued further in the future than
	// this. Zero means the ten minute default.
	MaxFutureIAT time.Duration

	// KeyID, when set, is stamped in the token header and verified
	// against VerifyKeys on parse, enabling key rotation.
	KeyID string
	// VerifyKeys maps key IDs to verification keys. Tokens without a
	// kid header fall back to the primary key.
	VerifyKeys map[string]any
}

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	UID           string `json:"uid"`
	SID           string `json:"sid"`
	EmailVerified bool   `json:"emv,omitempty"`
	TwoFactor     bool   `json:"tfa,omitempty"`
	jwtlib.RegisteredClaims
}

// Manager signs and parses access tokens.
type Manager struct {
	cfg          Config
	method       jwtlib.SigningMethod
	signKey      any
	verifyKey    any
	parser       *jwtlib.Parser
	maxFutureIAT time.Duration
}

// NewManager validates the config and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("%w: AccessTTL must be positive", ErrConfigInvalid)
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("%w: Leeway must be in [0, %s]", ErrConfigInvalid, maxLeeway)
	}

	m := &Manager{cfg: cfg, maxFutureIAT: cfg.MaxFutureIAT}
	if m.maxFutureIAT <= 0 {
		m.maxFutureIAT = defaultMaxFutureIAT
	}

	switch cfg.SigningMethod {
	case MethodHS256, "":
		if len(cfg.HMACSecret) < 32 {
			return nil, fmt.Errorf("%w: HMACSecret must be at least 32 bytes", ErrConfigInvalid)
		}
		m.method = jwtlib.SigningMethodHS256
		m.signKey = cfg.HMACSecret
		m.verifyKey = cfg.HMACSecret
	case MethodEd25519:
		if len(cfg.Ed25519Private) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%w: Ed25519Private has wrong size", ErrConfigInvalid)
		}
		if len(cfg.Ed25519Public) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: Ed25519Public has wrong size", ErrConfigInvalid)
		}
		m.method = jwtlib.SigningMethodEdDSA
		m.signKey = cfg.Ed25519Private
		m.verifyKey = cfg.Ed25519Public
	default:
		return nil, fmt.Errorf("%w: unknown signing method %q", ErrConfigInvalid, cfg.SigningMethod)
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{m.method.Alg()}),
		jwtlib.WithLeeway(cfg.Leeway),
		jwtlib.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	if cfg.RequireIAT {
		opts = append(opts, jwtlib.WithIssuedAt())
	}
	m.parser = jwtlib.NewParser(opts...)

	return m, nil
}

// CreateAccess issues a signed access token for the given principal and
// session.
func (m *Manager) CreateAccess(principalID, sessionID string, emailVerified, twoFactor bool) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UID:           principalID,
		SID:           sessionID,
		EmailVerified: emailVerified,
		TwoFactor:     twoFactor,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(m.cfg.AccessTTL)),
		},
	}
	if m.cfg.Issuer != "" {
		claims.Issuer = m.cfg.Issuer
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwtlib.ClaimStrings{m.cfg.Audience}
	}

	token := jwtlib.NewWithClaims(m.method, claims)
	if m.cfg.KeyID != "" {
		token.Header["kid"] = m.cfg.KeyID
	}
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", fmt.Errorf("jwt: sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccess validates a token string and returns its claims.
func (m *Manager) ParseAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.UID == "" || claims.SID == "" {
		return nil, fmt.Errorf("%w: missing uid or sid", ErrTokenInvalid)
	}
	if claims.IssuedAt != nil {
		if until := time.Until(claims.IssuedAt.Time); until > m.maxFutureIAT {
			return nil, fmt.Errorf("%w: issued too far in the future", ErrTokenInvalid)
		}
	}
	return claims, nil
}

func (m *Manager) keyFunc(token *jwtlib.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return m.verifyKey, nil
	}
	if key, ok := m.cfg.VerifyKeys[kid]; ok {
		return key, nil
	}
	if kid == m.cfg.KeyID {
		return m.verifyKey, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}
