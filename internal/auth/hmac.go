package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidState indicates a malformed or forged state value.
	ErrInvalidState = errors.New("invalid state")
	// ErrStateExpired indicates a correctly signed but stale state value.
	ErrStateExpired = errors.New("state expired")
)

// Sign returns the hex HMAC-SHA256 of data under secret.
func Sign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the HMAC of data, in constant time.
func Verify(secret, data, sig string) bool {
	return hmac.Equal([]byte(Sign(secret, data)), []byte(sig))
}

// SignState builds an OAuth state value binding subject until now+ttl.
// Format: base64url(subject|expiry|nonce).hexsig
func SignState(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	payload := strings.Join([]string{
		subject,
		strconv.FormatInt(now.Add(ttl).Unix(), 10),
		hex.EncodeToString(nonce),
	}, "|")
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + Sign(secret, encoded), nil
}

// VerifyState checks a value from SignState and returns its subject.
func VerifyState(secret, state string, now time.Time) (string, error) {
	encoded, sig, ok := strings.Cut(state, ".")
	if !ok || !Verify(secret, encoded, sig) {
		return "", ErrInvalidState
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidState
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 || parts[0] == "" {
		return "", ErrInvalidState
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrInvalidState
	}
	if now.Unix() >= exp {
		return "", ErrStateExpired
	}
	return parts[0], nil
}
