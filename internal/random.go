package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/big"
	"strings"
)

const (
	// SessionAlphabet is mixed case letters, digits and URL-safe symbols.
	SessionAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_.~!*"
	// UserIDAlphabet is the fixed alphabet of generated user IDs.
	UserIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	// TempCodeAlphabet is the URL-safe alphabet of temporary codes.
	TempCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	// RecoveryCodeAlphabet is uppercase alphanumerics without look-alike characters.
	RecoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	MinSessionTokenLength = 128
)

// RandomString draws length characters uniformly from alphabet using
// crypto/rand.
func RandomString(alphabet string, length int) (string, error) {
	if length <= 0 {
		return "", errors.New("random string length must be positive")
	}
	if len(alphabet) < 2 {
		return "", errors.New("random string alphabet too small")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// NewSessionToken returns a bearer token of at least MinSessionTokenLength characters.
func NewSessionToken(length int) (string, error) {
	if length < MinSessionTokenLength {
		length = MinSessionTokenLength
	}
	return RandomString(SessionAlphabet, length)
}

// SessionRef is the one-way storage reference of a session token.
func SessionRef(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewSalt returns n bytes from crypto/rand.
func NewSalt(n int) ([]byte, error) {
	if n < 16 {
		return nil, errors.New("salt must be at least 16 bytes")
	}
	salt := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// CanonicalRecoveryCode uppercases a submitted recovery code and strips
// separators so "abcd-efgh" and "ABCDEFGH" match.
func CanonicalRecoveryCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// RecoveryCodeHash binds a canonical recovery code to its owner.
func RecoveryCodeHash(userID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}
