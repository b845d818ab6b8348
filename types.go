package goIdentity

import (
	"context"
	"time"
)

// User is the identity record. PasswordHash never leaves the engine through
// the transport layer; callers must not serialise it.
type User struct {
	ID              string
	Email           string
	Username        string
	PasswordHash    string `json:"-"`
	IsEmailVerified bool
	Bio             string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserSettings holds the default privacy and preference sub-records created
// alongside a user at sign-up.
type UserSettings struct {
	ProfilePublic      bool
	ShowEmail          bool
	EmailNotifications bool
}

// DefaultUserSettings returns the settings persisted for every new user.
func DefaultUserSettings() UserSettings {
	return UserSettings{
		ProfilePublic:      true,
		ShowEmail:          false,
		EmailNotifications: true,
	}
}

// Session is an authorization credential. ID is the bearer token and is only
// populated on the value returned from CreateSession/SignIn and on lookups by
// token; listings expose Ref, a one-way reference that cannot be replayed.
type Session struct {
	ID        string `json:"id,omitempty"`
	Ref       string `json:"ref"`
	UserID    string `json:"user_id"`
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now. Expiry is
// derived, never stored as a transition.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// TwoFactorState is the optional second-factor state of a user: exactly one
// of TwoFactorNone or TwoFactorEnabled.
type TwoFactorState interface {
	twoFactorState()
}

// TwoFactorNone means the user has no second factor enrolled.
type TwoFactorNone struct{}

// TwoFactorEnabled carries the enrolled TOTP secret (base32, unpadded) and
// the SHA-256 hashes of the remaining recovery codes.
type TwoFactorEnabled struct {
	Secret             string
	RecoveryCodeHashes [][32]byte
}

func (TwoFactorNone) twoFactorState()    {}
func (TwoFactorEnabled) twoFactorState() {}

// TwoFactorEnrollment is returned exactly once by EnableTwoFactor. Neither
// the secret nor the recovery codes can be retrieved again.
type TwoFactorEnrollment struct {
	Secret          string
	ProvisioningURI string
	RecoveryCodes   []string
}

// SecondFactorOutcome is the result of VerifySecondFactor.
type SecondFactorOutcome uint8

const (
	// SecondFactorRejected means neither TOTP nor a recovery code matched.
	SecondFactorRejected SecondFactorOutcome = iota
	// SecondFactorAccepted means the TOTP matched, or the user has no second factor.
	SecondFactorAccepted
	// SecondFactorRecoveryCodeConsumed means a recovery code matched and was removed.
	SecondFactorRecoveryCodeConsumed
)

func (o SecondFactorOutcome) String() string {
	switch o {
	case SecondFactorAccepted:
		return "accepted"
	case SecondFactorRecoveryCodeConsumed:
		return "recovery_code_consumed"
	default:
		return "rejected"
	}
}

// SignUpRequest is the input of Engine.SignUp.
type SignUpRequest struct {
	Email    string
	Password string
	Username string
	Bio      string
}

// SignInRequest is the input of Engine.SignIn. TwoFactorCode may hold a TOTP
// value or a recovery code.
type SignInRequest struct {
	Email         string
	Password      string
	TwoFactorCode string
	ExpiresAt     time.Time
}

// StrengthResult is the outcome of a password strength scorer.
type StrengthResult struct {
	Score    int
	Feedback []string
}

// Message is an outbound email.
type Message struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
}

// UserStore is the persistence contract of the identity core. Implementations
// must enforce uniqueness of User.ID, User.Email and User.Username at the
// storage boundary and map violations to ErrUserIDTaken, ErrEmailTaken and
// ErrUsernameTaken. CreateTwoFactor must map a second enrollment to
// ErrTwoFactorAlreadyEnabled, and ConsumeRecoveryCode must report true for a
// given hash at most once.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	UserIDExists(ctx context.Context, id string) (bool, error)
	CreateUser(ctx context.Context, user *User, settings UserSettings) error
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id string) error

	GetTwoFactor(ctx context.Context, userID string) (TwoFactorState, error)
	CreateTwoFactor(ctx context.Context, userID, secret string, codeHashes [][32]byte) error
	DeleteTwoFactor(ctx context.Context, userID string) (bool, error)
	ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes [][32]byte) error
	ConsumeRecoveryCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error)
}

// StrengthScorer rates a password from 0 (guessable) to 4 (strong).
// userInputs are account attributes the scorer should penalise.
type StrengthScorer interface {
	Score(password string, userInputs []string) StrengthResult
}

// Mailer delivers a Message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Clock returns the current UTC time. Inject a fixed clock in tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces candidate user IDs. Collisions are checked against
// the UserStore by the engine.
type IDGenerator interface {
	NewID() (string, error)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
