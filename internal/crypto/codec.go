// Package crypto implements the token codec: keyed digests, canonical timestamps and random token values.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// CanonicalLayout renders UTC instants with millisecond precision, e.g. 2024-01-01T00:00:00.000Z.
const CanonicalLayout = "2006-01-02T15:04:05.000Z"

const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ErrBadTimestamp is returned when a client timestamp cannot be parsed.
var ErrBadTimestamp = errors.New("invalid timestamp")

// accepted client layouts, most specific first. Zone-less forms are read as UTC.
var clientLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// KeyedHash returns base64(HMAC-SHA256(secret, message)).
func KeyedHash(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// CanonicalTime formats t in UTC with millisecond precision.
func CanonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(CanonicalLayout)
}

// ParseClientTime parses a client-supplied timestamp and truncates it to milliseconds.
func ParseClientTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrBadTimestamp
	}
	for _, layout := range clientLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC().Truncate(time.Millisecond), nil
		}
	}
	return time.Time{}, ErrBadTimestamp
}

// ChallengeMessage is the message a client signs to prove knowledge of its secret.
func ChallengeMessage(identifier string, issuedAt time.Time) string {
	return identifier + CanonicalTime(issuedAt)
}

// AccessTokenMessage is the message an access token value is derived from.
func AccessTokenMessage(identifier string, createdAt time.Time, ttlMillis int64) string {
	return identifier + CanonicalTime(createdAt) + strconv.FormatInt(ttlMillis, 10)
}

// ChallengeDigest computes the digest a client presents for (identifier, issuedAt).
func ChallengeDigest(secret, identifier string, issuedAt time.Time) string {
	return KeyedHash(secret, ChallengeMessage(identifier, issuedAt))
}

// AccessTokenValue derives the access token value for a freshly issued token.
func AccessTokenValue(secret, identifier string, createdAt time.Time, ttlMillis int64) string {
	return KeyedHash(secret, AccessTokenMessage(identifier, createdAt, ttlMillis))
}

// RandLetters returns n characters drawn uniformly from the 52 ASCII letters.
func RandLetters(n int) (string, error) {
	max := big.NewInt(int64(len(letters)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = letters[idx.Int64()]
	}
	return string(b), nil
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
