package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func hs256Config() Config {
	return Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		HMACSecret:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authkit-test",
		Audience:      "authkit-app",
	}
}

func TestCreateAndParseHS256(t *testing.T) {
	m, err := NewManager(hs256Config())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, err := m.CreateAccess("p-1", "s-1", true, false)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if claims.UID != "p-1" || claims.SID != "s-1" {
		t.Fatalf("claims uid=%q sid=%q", claims.UID, claims.SID)
	}
	if !claims.EmailVerified || claims.TwoFactor {
		t.Fatalf("claims flags emv=%v tfa=%v", claims.EmailVerified, claims.TwoFactor)
	}
}

func TestCreateAndParseEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	m, err := NewManager(Config{
		AccessTTL:      time.Minute,
		SigningMethod:  MethodEd25519,
		Ed25519Private: priv,
		Ed25519Public:  pub,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, err := m.CreateAccess("p-2", "s-2", false, true)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if !claims.TwoFactor {
		t.Fatal("two-factor flag lost")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	cfg := hs256Config()
	cfg.AccessTTL = time.Nanosecond
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, err := m.CreateAccess("p-1", "s-1", false, false)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := m.ParseAccess(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired token: got %v, want ErrTokenExpired", err)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	m1, err := NewManager(hs256Config())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := hs256Config()
	cfg.HMACSecret = []byte("ffffffffffffffffffffffffffffffff")
	m2, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, err := m1.CreateAccess("p-1", "s-1", false, false)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	if _, err := m2.ParseAccess(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong key: got %v, want ErrTokenInvalid", err)
	}
}

func TestParseRejectsWrongAudience(t *testing.T) {
	issuer, err := NewManager(hs256Config())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := hs256Config()
	cfg.Audience = "other-app"
	verifier, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, err := issuer.CreateAccess("p-1", "s-1", false, false)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	if _, err := verifier.ParseAccess(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong audience: got %v, want ErrTokenInvalid", err)
	}
}

func TestKeyRotationViaVerifyKeys(t *testing.T) {
	oldCfg := hs256Config()
	oldCfg.KeyID = "k1"
	oldMgr, err := NewManager(oldCfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	token, err := oldMgr.CreateAccess("p-1", "s-1", false, false)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	newCfg := hs256Config()
	newCfg.HMACSecret = []byte("ffffffffffffffffffffffffffffffff")
	newCfg.KeyID = "k2"
	newCfg.VerifyKeys = map[string]any{"k1": oldCfg.HMACSecret}
	newMgr, err := NewManager(newCfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := newMgr.ParseAccess(token); err != nil {
		t.Fatalf("ParseAccess with rotated keys: %v", err)
	}
}

func TestNewManagerConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero ttl", Config{SigningMethod: MethodHS256, HMACSecret: make([]byte, 32)}},
		{"short secret", Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, HMACSecret: []byte("short")}},
		{"bad method", Config{AccessTTL: time.Minute, SigningMethod: "rs256"}},
		{"excess leeway", Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, HMACSecret: make([]byte, 32), Leeway: 5 * time.Minute}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(tc.cfg); !errors.Is(err, ErrConfigInvalid) {
				t.Fatalf("got %v, want ErrConfigInvalid", err)
			}
		})
	}
}
