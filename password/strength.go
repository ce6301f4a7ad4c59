package password

import "strings"

const specialRunes = `!@#$%^&*(),.?":{}|<>`

// Checks records which individual strength requirements a candidate
// password satisfied.
type Checks struct {
	MinLength bool
	Upper     bool
	Lower     bool
	Digit     bool
	Special   bool
}

// Strength is the result of evaluating a candidate password. Score is
// bucketed 0 (weakest) to 4 (strongest); the top bucket is only reached
// when every check passes.
type Strength struct {
	Score  int
	Checks Checks
}

// MinLength is the minimum password length counted by the length check.
const MinLength = 8

// Evaluate scores a candidate password against five checks: minimum
// length, an uppercase letter, a lowercase letter, a digit and a
// special character.
func Evaluate(candidate string) Strength {
	var c Checks
	c.MinLength = len(candidate) >= MinLength
	for _, r := range candidate {
		switch {
		case r >= 'A' && r <= 'Z':
			c.Upper = true
		case r >= 'a' && r <= 'z':
			c.Lower = true
		case r >= '0' && r <= '9':
			c.Digit = true
		case strings.ContainsRune(specialRunes, r):
			c.Special = true
		}
	}

	passed := 0
	for _, ok := range []bool{c.MinLength, c.Upper, c.Lower, c.Digit, c.Special} {
		if ok {
			passed++
		}
	}

	// Buckets: 0 nothing, 1 weak (one or two checks), then one bucket
	// per additional check up to 4.
	var score int
	switch {
	case passed == 0:
		score = 0
	case passed <= 2:
		score = 1
	default:
		score = passed - 1
	}
	return Strength{Score: score, Checks: c}
}
