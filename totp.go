package authkit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash"
	"net/url"
	"strings"
	"time"
)

// totpSecretBytes is the RFC 4226 recommended secret length.
const totpSecretBytes = 20

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type totpManager struct {
	issuer    string
	digits    int
	period    time.Duration
	skew      int
	algorithm string
}

func newTOTPManager(issuer string, cfg SecondFactorConfig) *totpManager {
	return &totpManager{
		issuer:    issuer,
		digits:    cfg.Digits,
		period:    cfg.Period,
		skew:      cfg.Skew,
		algorithm: cfg.Algorithm,
	}
}

func (m *totpManager) newSecret() ([]byte, error) {
	secret := make([]byte, totpSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("authkit: generate totp secret: %w", err)
	}
	return secret, nil
}

func (m *totpManager) encodeSecret(secret []byte) string {
	return totpEncoding.EncodeToString(secret)
}

// uri builds the otpauth:// provisioning URI encoded in enrollment QR
// codes.
func (m *totpManager) uri(account string, secret []byte) string {
	q := url.Values{}
	q.Set("secret", m.encodeSecret(secret))
	q.Set("issuer", m.issuer)
	q.Set("algorithm", m.algorithm)
	q.Set("digits", fmt.Sprintf("%d", m.digits))
	q.Set("period", fmt.Sprintf("%d", int(m.period.Seconds())))

	label := url.PathEscape(m.issuer + ":" + account)
	return "otpauth://totp/" + label + "?" + q.Encode()
}

// verify checks the code inside the configured skew window and returns
// the matched counter for replay tracking. A false result means no
// counter in the window produced the code.
func (m *totpManager) verify(code string, secret []byte, at time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != m.digits || !isNumericString(code) {
		return 0, false
	}
	counter := at.Unix() / int64(m.period.Seconds())
	for offset := -m.skew; offset <= m.skew; offset++ {
		c := counter + int64(offset)
		if c < 0 {
			continue
		}
		expected := hotpCode(secret, uint64(c), m.digits, m.algorithm)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return c, true
		}
	}
	return 0, false
}

// hotpCode implements RFC 4226 dynamic truncation.
func hotpCode(secret []byte, counter uint64, digits int, algorithm string) string {
	var newHash func() hash.Hash
	switch algorithm {
	case "SHA256":
		newHash = sha256.New
	case "SHA512":
		newHash = sha512.New
	default:
		newHash = sha1.New
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(newHash, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, value%mod)
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
