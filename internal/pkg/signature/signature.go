// Package signature verifies HMAC-signed webhook deliveries.
//
// A delivery carries a unix timestamp header and a signature header holding
// space separated key=value pairs, for example "v1=<hex> v1=<hex>". Each
// value is HMAC-SHA256 over "{timestamp}.{body}". Any value that matches the
// current or the next signing key is accepted, which allows key rotation
// without downtime.
package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verification errors.
var (
	ErrMissingHeader     = errors.New("missing signature header")
	ErrInvalidTimestamp  = errors.New("invalid signature timestamp")
	ErrTimestampExpired  = errors.New("signature timestamp outside tolerance")
	ErrNoSigningKeys     = errors.New("no signing keys configured")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// DefaultMaxSkew is the accepted clock difference between sender and receiver.
const DefaultMaxSkew = 300 * time.Second

// Scheme is the key accepted in the signature header.
const Scheme = "v1"

// Keys holds the signing secrets in rotation order.
type Keys struct {
	Current string
	Next    string
}

// KeyProvider returns the active signing keys.
type KeyProvider interface {
	SigningKeys(ctx context.Context) (Keys, error)
}

// StaticKeys is a KeyProvider with fixed keys.
type StaticKeys Keys

// SigningKeys returns the fixed keys.
func (k StaticKeys) SigningKeys(context.Context) (Keys, error) {
	return Keys(k), nil
}

// Verifier checks delivery signatures.
type Verifier struct {
	keys    KeyProvider
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a verifier. A non-positive maxSkew uses DefaultMaxSkew.
func NewVerifier(keys KeyProvider, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Verifier{keys: keys, maxSkew: maxSkew, now: time.Now}
}

// Verify returns nil if the signature is valid for body and timestamp.
func (v *Verifier) Verify(ctx context.Context, body []byte, signatureHeader, timestampHeader string) error {
	if signatureHeader == "" || timestampHeader == "" {
		return ErrMissingHeader
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(timestampHeader), 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return ErrTimestampExpired
	}

	keys, err := v.keys.SigningKeys(ctx)
	if err != nil {
		return fmt.Errorf("load signing keys: %w", err)
	}

	secrets := make([][]byte, 0, 2)
	for _, k := range []string{keys.Current, keys.Next} {
		if k != "" {
			secrets = append(secrets, []byte(k))
		}
	}
	if len(secrets) == 0 {
		return ErrNoSigningKeys
	}

	candidates := parseHeader(signatureHeader)
	if len(candidates) == 0 {
		return ErrSignatureMismatch
	}

	for _, secret := range secrets {
		expected := compute(secret, timestampHeader, body)
		for _, c := range candidates {
			if hmac.Equal(expected, c) {
				return nil
			}
		}
	}
	return ErrSignatureMismatch
}

// Sign returns the signature header value for body at ts.
func Sign(secret string, ts time.Time, body []byte) (header, timestamp string) {
	timestamp = strconv.FormatInt(ts.Unix(), 10)
	mac := compute([]byte(secret), timestamp, body)
	return Scheme + "=" + hex.EncodeToString(mac), timestamp
}

func compute(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.TrimSpace(timestamp)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// parseHeader decodes every v1=<hex> pair; unknown keys and bad hex are skipped.
func parseHeader(header string) [][]byte {
	var out [][]byte
	for _, field := range strings.Fields(header) {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key != Scheme {
			continue
		}
		raw, err := hex.DecodeString(value)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}
