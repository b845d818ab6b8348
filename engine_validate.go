package goIdentity

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	maxEmailLength     = 254
	maxEmailLocalPart  = 64
	minUsernameLength  = 3
	maxUsernameLength  = 30
	maxSessionIDLength = 512
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// normalizeEmail lowercases and validates a bare address. Display names and
// angle brackets are rejected.
func normalizeEmail(op, raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", validationError(op, "email", "email is required")
	}
	if len(email) > maxEmailLength {
		return "", validationError(op, "email", "email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return "", validationError(op, "email", "email is not a valid address")
	}
	at := strings.LastIndexByte(email, '@')
	if at < 1 || at > maxEmailLocalPart {
		return "", validationError(op, "email", "email local part is invalid")
	}
	return email, nil
}

func normalizeUsername(op, raw string) (string, error) {
	username := strings.ToLower(strings.TrimSpace(raw))
	n := len(username)
	if n < minUsernameLength || n > maxUsernameLength {
		return "", validationError(op, "username", "username must be 3 to 30 characters")
	}
	if !usernamePattern.MatchString(username) {
		return "", validationError(op, "username", "username may contain only a-z, 0-9 and underscore")
	}
	return username, nil
}

// normalizeBio trims raw and bounds it by SignUp.MaxBioLength characters.
func (e *Engine) normalizeBio(op, raw string) (string, error) {
	bio := strings.TrimSpace(raw)
	if utf8.RuneCountInString(bio) > e.config.SignUp.MaxBioLength {
		return "", validationError(op, "bio", "bio must be at most "+strconv.Itoa(e.config.SignUp.MaxBioLength)+" characters")
	}
	return bio, nil
}

// validateNewPassword applies the length policy to a password about to be
// hashed. Strength scoring is separate.
func (e *Engine) validateNewPassword(op, pw string) error {
	if strings.TrimSpace(pw) == "" {
		return validationError(op, "password", "password is required")
	}
	if utf8.RuneCountInString(pw) < e.config.SignUp.MinPasswordLength {
		return validationError(op, "password", "password is too short")
	}
	if len(pw) > e.config.Password.MaxBytes {
		return validationError(op, "password", "password is too long")
	}
	return nil
}

func validateSessionID(op, sessionID string) error {
	if sessionID == "" {
		return validationError(op, "session_id", "session id is required")
	}
	if len(sessionID) > maxSessionIDLength {
		return validationError(op, "session_id", "session id is too long")
	}
	return nil
}

// checkStrength scores pw against the account attributes and rejects it
// below the configured minimum. Scorer feedback becomes the error details.
func (e *Engine) checkStrength(op, pw string, userInputs ...string) error {
	inputs := make([]string, 0, len(userInputs))
	for _, in := range userInputs {
		if in != "" {
			inputs = append(inputs, in)
		}
	}
	result := e.scorer.Score(pw, inputs)
	if result.Score < e.config.SignUp.MinStrengthScore {
		e.metricInc(MetricSignUpWeakPassword)
		return &Error{
			Kind:    KindPolicy,
			Op:      op,
			Field:   "password",
			Details: append([]string(nil), result.Feedback...),
			Err:     ErrWeakPassword,
		}
	}
	return nil
}
