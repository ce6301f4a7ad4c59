package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const recordVersion = 1

const (
	flagEmailVerified = 1 << 0
	flagTwoFactor     = 1 << 1
	flagTrustedDevice = 1 << 2
)

var errMalformedRecord = errors.New("session: malformed record")

// encode serializes a session into the compact binary record stored in
// Redis: version byte, flag byte, three length-prefixed strings, then
// created-at and expires-at as big-endian int64.
func encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion)

	var flags byte
	if s.EmailVerified {
		flags |= flagEmailVerified
	}
	if s.TwoFactor {
		flags |= flagTwoFactor
	}
	if s.TrustedDevice {
		flags |= flagTrustedDevice
	}
	buf.WriteByte(flags)

	for _, field := range []string{s.SessionID, s.PrincipalID, s.Email} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	var ts [16]byte
	binary.BigEndian.PutUint64(ts[:8], uint64(s.CreatedAt))
	binary.BigEndian.PutUint64(ts[8:], uint64(s.ExpiresAt))
	buf.Write(ts[:])

	return buf.Bytes(), nil
}

func decode(raw []byte) (*Session, error) {
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil {
		return nil, errMalformedRecord
	}
	if version != recordVersion {
		return nil, fmt.Errorf("session: unsupported record version %d", version)
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, errMalformedRecord
	}

	s := &Session{
		EmailVerified: flags&flagEmailVerified != 0,
		TwoFactor:     flags&flagTwoFactor != 0,
		TrustedDevice: flags&flagTrustedDevice != 0,
	}

	if s.SessionID, err = readString(r); err != nil {
		return nil, err
	}
	if s.PrincipalID, err = readString(r); err != nil {
		return nil, err
	}
	if s.Email, err = readString(r); err != nil {
		return nil, err
	}

	var ts [16]byte
	if _, err := io.ReadFull(r, ts[:]); err != nil {
		return nil, errMalformedRecord
	}
	s.CreatedAt = int64(binary.BigEndian.Uint64(ts[:8]))
	s.ExpiresAt = int64(binary.BigEndian.Uint64(ts[8:]))

	if r.Len() != 0 {
		return nil, errMalformedRecord
	}
	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("session: field too long (%d bytes)", len(s))
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n [2]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", errMalformedRecord
	}
	length := int(binary.BigEndian.Uint16(n[:]))
	if length == 0 {
		return "", nil
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", errMalformedRecord
	}
	return string(raw), nil
}
