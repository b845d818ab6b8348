package goIdentity

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"time"
)

// Purpose scopes a temporary code to one sensitive account operation.
type Purpose uint8

const (
	// PurposeChangePassword authorizes a password reset.
	PurposeChangePassword Purpose = iota + 1
	// PurposeChangeEmail authorizes replacing the account email.
	PurposeChangeEmail
	// PurposeVerifyEmail confirms ownership of the account email.
	PurposeVerifyEmail
	// PurposeDeleteAccount authorizes account deletion.
	PurposeDeleteAccount
)

// AllPurposes lists every declared Purpose.
func AllPurposes() []Purpose {
	return []Purpose{
		PurposeChangePassword,
		PurposeChangeEmail,
		PurposeVerifyEmail,
		PurposeDeleteAccount,
	}
}

// ParsePurpose converts the wire name of a purpose back to a Purpose.
func ParsePurpose(s string) (Purpose, error) {
	for _, p := range AllPurposes() {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPurpose, s)
}

func (p Purpose) String() string {
	switch p {
	case PurposeChangePassword:
		return "change_password"
	case PurposeChangeEmail:
		return "change_email"
	case PurposeVerifyEmail:
		return "verify_email"
	case PurposeDeleteAccount:
		return "delete_account"
	}
	return fmt.Sprintf("purpose(%d)", uint8(p))
}

// MailSubject returns the subject line of the email carrying a code for p.
// Every declared purpose must have a case; unknown values are an error
// rather than a generic subject.
func (p Purpose) MailSubject() (string, error) {
	switch p {
	case PurposeChangePassword:
		return "Reset your password", nil
	case PurposeChangeEmail:
		return "Confirm your email change", nil
	case PurposeVerifyEmail:
		return "Verify your email address", nil
	case PurposeDeleteAccount:
		return "Confirm account deletion", nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownPurpose, uint8(p))
}

// Valid reports whether p is one of the declared purposes.
func (p Purpose) Valid() bool {
	_, err := p.MailSubject()
	return err == nil
}

// TempCode is the persisted record of an issued temporary code. The
// plaintext is never stored; Hash is SHA-256(code || salt).
type TempCode struct {
	Purpose   Purpose
	ForID     string
	Hash      [32]byte
	Salt      []byte
	ExpiresAt time.Time
}

// ValidateTempCode reports whether code is the plaintext of record. It is a
// pure function of the code, the stored salt and the stored hash, and
// compares in constant time. Expiry is not considered here.
func ValidateTempCode(code string, record *TempCode) bool {
	if record == nil || code == "" || len(record.Salt) == 0 {
		return false
	}
	computed := hashTempCode(code, record.Salt)
	return subtle.ConstantTimeCompare(computed[:], record.Hash[:]) == 1
}

func hashTempCode(code string, salt []byte) [32]byte {
	buf := make([]byte, 0, len(code)+len(salt))
	buf = append(buf, code...)
	buf = append(buf, salt...)
	return sha256.Sum256(buf)
}
