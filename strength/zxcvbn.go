// Package strength scores passwords for goIdentity with zxcvbn.
package strength

import (
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/nbutton23/zxcvbn-go"
)

// maxScoredLength bounds the input handed to zxcvbn, whose matching cost
// grows quickly with length. Characters past it do not lower the score.
const maxScoredLength = 100

// Zxcvbn rates passwords 0..4 and explains low scores.
type Zxcvbn struct{}

var _ goIdentity.StrengthScorer = Zxcvbn{}

func (Zxcvbn) Score(password string, userInputs []string) goIdentity.StrengthResult {
	scored := password
	if len(scored) > maxScoredLength {
		scored = scored[:maxScoredLength]
	}
	match := zxcvbn.PasswordStrength(scored, userInputs)

	result := goIdentity.StrengthResult{Score: match.Score}
	if match.Score >= 3 {
		return result
	}

	if match.CrackTimeDisplay != "" {
		result.Feedback = append(result.Feedback, "This password could be guessed in "+match.CrackTimeDisplay+".")
	}
	if containsUserInput(password, userInputs) {
		result.Feedback = append(result.Feedback, "Avoid using your email address or username in your password.")
	}
	if len(password) < 12 {
		result.Feedback = append(result.Feedback, "Add more words or characters; longer passwords are harder to guess.")
	}
	result.Feedback = append(result.Feedback, "Avoid common words, sequences and repeated characters.")
	return result
}

func containsUserInput(password string, userInputs []string) bool {
	lower := strings.ToLower(password)
	for _, in := range userInputs {
		in = strings.ToLower(in)
		if at := strings.IndexByte(in, '@'); at > 0 {
			in = in[:at]
		}
		if len(in) >= 3 && strings.Contains(lower, in) {
			return true
		}
	}
	return false
}
