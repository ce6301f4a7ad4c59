package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrHashMismatch is returned by Verify when the password does not
	// match the stored hash.
	ErrHashMismatch = errors.New("password: hash mismatch")
	// ErrInvalidHash is returned when a stored hash cannot be parsed.
	ErrInvalidHash = errors.New("password: invalid hash encoding")
	// ErrPasswordTooShort is returned by Hash for passwords below the
	// minimum byte length.
	ErrPasswordTooShort = errors.New("password: too short")
	// ErrPasswordTooLong is returned by Hash for absurdly long inputs.
	ErrPasswordTooLong = errors.New("password: too long")
)

const (
	minPassBytes = 8
	maxPassBytes = 1024
)

// Argon2Params controls the cost of the argon2id hash.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams are interactive-login costs per the RFC 9106 low-memory
// recommendation.
func DefaultParams() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies passwords using argon2id with a PHC string
// encoding, so parameters can be upgraded without invalidating stored
// hashes.
type Hasher struct {
	params Argon2Params
}

// NewHasher returns a Hasher with the given cost parameters. Zero-value
// fields fall back to DefaultParams.
func NewHasher(p Argon2Params) *Hasher {
	def := DefaultParams()
	if p.Memory == 0 {
		p.Memory = def.Memory
	}
	if p.Iterations == 0 {
		p.Iterations = def.Iterations
	}
	if p.Parallelism == 0 {
		p.Parallelism = def.Parallelism
	}
	if p.SaltLength == 0 {
		p.SaltLength = def.SaltLength
	}
	if p.KeyLength == 0 {
		p.KeyLength = def.KeyLength
	}
	return &Hasher{params: p}
}

// Hash derives an argon2id hash of the password and returns it in PHC
// string format.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", ErrPasswordTooShort
	}
	if len(password) > maxPassBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks the password against an encoded hash. It returns
// ErrHashMismatch on a wrong password and ErrInvalidHash when the
// encoded form is malformed.
func (h *Hasher) Verify(password, encoded string) error {
	params, salt, key, err := parsePHC(encoded)
	if err != nil {
		return err
	}
	derived := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(key)))
	if subtle.ConstantTimeCompare(derived, key) != 1 {
		return ErrHashMismatch
	}
	return nil
}

// NeedsUpgrade reports whether the encoded hash was produced with
// cheaper parameters than the Hasher is configured with.
func (h *Hasher) NeedsUpgrade(encoded string) bool {
	params, _, key, err := parsePHC(encoded)
	if err != nil {
		return false
	}
	return params.Memory < h.params.Memory ||
		params.Iterations < h.params.Iterations ||
		params.Parallelism < h.params.Parallelism ||
		uint32(len(key)) < h.params.KeyLength
}

func parsePHC(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return Argon2Params{}, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	if len(salt) == 0 || len(key) == 0 {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	return params, salt, key, nil
}

func parseParams(s string) (Argon2Params, error) {
	var p Argon2Params
	for _, field := range strings.Split(s, ",") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return Argon2Params{}, ErrInvalidHash
		}
		n, err := strconv.ParseUint(kv[1], 10, 32)
		if err != nil {
			return Argon2Params{}, ErrInvalidHash
		}
		switch kv[0] {
		case "m":
			p.Memory = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return Argon2Params{}, ErrInvalidHash
			}
			p.Parallelism = uint8(n)
		default:
			return Argon2Params{}, ErrInvalidHash
		}
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return Argon2Params{}, ErrInvalidHash
	}
	return p, nil
}
