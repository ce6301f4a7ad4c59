package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// ID is a 128-bit random identifier used for sessions, pending sign-ins
// and challenges.
type ID [16]byte

// NewID returns a cryptographically random ID.
func NewID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, fmt.Errorf("internal: read random id: %w", err)
	}
	return id, nil
}

// String encodes the ID as unpadded URL-safe base64.
func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID decodes an ID previously produced by String.
func ParseID(s string) (ID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("internal: decode id: %w", err)
	}
	if len(raw) != len(ID{}) {
		return ID{}, errors.New("internal: id has wrong length")
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// NewSecret returns 32 bytes of cryptographically random material for
// single-use challenge tokens.
func NewSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("internal: read random secret: %w", err)
	}
	return secret, nil
}

// EncodeChallengeToken packs a challenge ID and its secret into one
// opaque string suitable for embedding in an email link.
func EncodeChallengeToken(id ID, secret []byte) string {
	raw := make([]byte, 0, len(id)+len(secret))
	raw = append(raw, id[:]...)
	raw = append(raw, secret...)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeChallengeToken reverses EncodeChallengeToken. The token must
// carry exactly a 16-byte ID followed by a 32-byte secret.
func DecodeChallengeToken(token string) (ID, []byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ID{}, nil, fmt.Errorf("internal: decode challenge token: %w", err)
	}
	if len(raw) != 48 {
		return ID{}, nil, errors.New("internal: challenge token has wrong length")
	}
	var id ID
	copy(id[:], raw[:16])
	secret := make([]byte, 32)
	copy(secret, raw[16:])
	return id, secret, nil
}

// HashSecret returns the SHA-256 digest of the secret. Only the digest
// is stored server side.
func HashSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// HashString hashes an arbitrary string the same way. Used for numeric
// one-time codes and device fingerprints.
func HashString(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

// NewOTP generates a numeric one-time code of the given length. Each
// digit is drawn independently so the code is uniform over 10^digits.
func NewOTP(digits int) (string, error) {
	if digits <= 0 {
		return "", errors.New("internal: otp digits must be positive")
	}
	max := big.NewInt(10)
	buf := make([]byte, digits)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("internal: read random digit: %w", err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}
