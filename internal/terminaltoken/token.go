// ABOUTME: Terminal capability token verification for the forward-auth gateway
// ABOUTME: HMAC-SHA256 over "instanceID:hexTimestamp" with truncatable hex signatures

package terminaltoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultTTLSeconds is how long a token stays valid after issuance.
const DefaultTTLSeconds = 24 * 60 * 60

// DigestLength is the length of a full hex-encoded signature.
const DigestLength = sha256.Size * 2

// Token errors. They exist for logging and metrics; callers must not expose
// them to clients.
var (
	ErrEmptySecret       = errors.New("token secret is empty")
	ErrMalformedToken    = errors.New("malformed token")
	ErrExpiredToken      = errors.New("token expired")
	ErrSignatureTooShort = errors.New("signature shorter than minimum length")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Options configures a Validator.
type Options struct {
	// TTLSeconds is the maximum token age. Zero means tokens are only valid
	// in the second they were issued.
	TTLSeconds int64

	// MinSignatureLength rejects signatures with fewer hex characters.
	// Zero keeps the baseline behavior of accepting any non-empty length.
	MinSignatureLength int
}

// Validator verifies tokens against a shared secret. It holds no mutable state
// and is safe for concurrent use.
type Validator struct {
	secret             []byte
	ttlSeconds         int64
	minSignatureLength int
}

// NewValidator creates a validator for the given secret.
func NewValidator(secret []byte, opts Options) (*Validator, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if opts.MinSignatureLength < 0 || opts.MinSignatureLength > DigestLength {
		return nil, fmt.Errorf("min signature length must be between 0 and %d, got %d", DigestLength, opts.MinSignatureLength)
	}

	// copy: the caller may reuse secret
	key := make([]byte, len(secret))
	copy(key, secret)

	return &Validator{
		secret:             key,
		ttlSeconds:         opts.TTLSeconds,
		minSignatureLength: opts.MinSignatureLength,
	}, nil
}

// TTLSeconds returns the configured token lifetime.
func (v *Validator) TTLSeconds() int64 {
	return v.ttlSeconds
}

// Check verifies token for instanceID at now (seconds since epoch).
// It returns nil when the token is accepted, or an error describing why not.
func (v *Validator) Check(instanceID, token string, now int64) error {
	return check(instanceID, token, v.secret, v.ttlSeconds, v.minSignatureLength, now)
}

// Validate is the boolean form of Check.
func (v *Validator) Validate(instanceID, token string, now int64) bool {
	return v.Check(instanceID, token, now) == nil
}

// Validate reports whether token is an authentic, fresh token for instanceID.
// It has no side effects and never panics on malformed input.
func Validate(instanceID, token string, secret []byte, ttlSeconds, now int64) bool {
	return check(instanceID, token, secret, ttlSeconds, 0, now) == nil
}

// Digest returns the full hex-encoded HMAC-SHA256 of instanceID + ":" + hexTimestamp.
func Digest(secret []byte, instanceID, hexTimestamp string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(instanceID + ":" + hexTimestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

func check(instanceID, token string, secret []byte, ttlSeconds int64, minSignatureLength int, now int64) error {
	timestamp, signature, found := strings.Cut(token, ".")
	if !found {
		return fmt.Errorf("%w: missing separator", ErrMalformedToken)
	}

	issuedAt, err := parseHexTimestamp(timestamp)
	if err != nil {
		return err
	}

	// One-sided: a timestamp ahead of now is not rejected here.
	if now-issuedAt > ttlSeconds {
		return ErrExpiredToken
	}

	if signature == "" {
		return fmt.Errorf("%w: empty signature", ErrMalformedToken)
	}
	if len(signature) < minSignatureLength {
		return ErrSignatureTooShort
	}

	expected := Digest(secret, instanceID, timestamp)
	if len(signature) > len(expected) {
		return fmt.Errorf("%w: signature longer than digest", ErrSignatureMismatch)
	}
	expected = expected[:len(signature)]

	if !constantTimeEqual(expected, signature) {
		return ErrSignatureMismatch
	}
	return nil
}

// parseHexTimestamp parses a strictly hexadecimal, non-empty timestamp segment.
func parseHexTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty timestamp", ErrMalformedToken)
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return 0, fmt.Errorf("%w: non-hex timestamp", ErrMalformedToken)
		}
	}
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp out of range", ErrMalformedToken)
	}
	return n, nil
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// constantTimeEqual compares a and b without exiting early on the first
// differing byte. Unequal lengths are rejected before any byte is read.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := 0; i < len(a); i++ {
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}
