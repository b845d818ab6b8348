package goIdentity

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by goIdentity APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Password  PasswordConfig  `envPrefix:"PASSWORD_"`
	Session   SessionConfig   `envPrefix:"SESSION_"`
	TOTP      TOTPConfig      `envPrefix:"TOTP_"`
	TwoFactor TwoFactorConfig `envPrefix:"TWO_FACTOR_"`
	TempCode  TempCodeConfig  `envPrefix:"TEMP_CODE_"`
	SignUp    SignUpConfig    `envPrefix:"SIGNUP_"`
	SignIn    SignInConfig    `envPrefix:"SIGNIN_"`
	Mail      MailConfig      `envPrefix:"MAIL_"`
	Audit     AuditConfig     `envPrefix:"AUDIT_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost parameters. Memory is in KB.
type PasswordConfig struct {
	Memory      uint32 `env:"MEMORY_KB"`
	Time        uint32 `env:"TIME"`
	Parallelism uint8  `env:"PARALLELISM"`
	SaltLength  uint32 `env:"SALT_LENGTH"`
	KeyLength   uint32 `env:"KEY_LENGTH"`
	// MaxBytes caps password input. Must stay at or above 1000.
	MaxBytes        int  `env:"MAX_BYTES"`
	UpgradeOnSignIn bool `env:"UPGRADE_ON_SIGNIN"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by goIdentity APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	RedisPrefix string `env:"REDIS_PREFIX"`
	// MaxPerUser is the session cap. The MaxPerUser-th session is allowed.
	MaxPerUser int `env:"MAX_PER_USER"`
	// MinLifetime and MaxLifetime bound expiresAt relative to now, inclusive.
	MinLifetime time.Duration `env:"MIN_LIFETIME"`
	MaxLifetime time.Duration `env:"MAX_LIFETIME"`
	TokenLength int           `env:"TOKEN_LENGTH"`
}

/*
====================================
TWO FACTOR CONFIG
====================================
*/

// TOTPConfig defines a public type used by goIdentity APIs.
//
// TOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPConfig struct {
	Issuer    string `env:"ISSUER"`
	Digits    int    `env:"DIGITS"`
	Period    int    `env:"PERIOD"`
	Algorithm string `env:"ALGORITHM"`
	Skew      int    `env:"SKEW"`
}

// TwoFactorConfig controls recovery code batches.
type TwoFactorConfig struct {
	RecoveryCodeCount  int `env:"RECOVERY_CODE_COUNT"`
	RecoveryCodeLength int `env:"RECOVERY_CODE_LENGTH"`
}

/*
====================================
TEMP CODE CONFIG
====================================
*/

// TempCodeConfig defines a public type used by goIdentity APIs.
//
// TempCodeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TempCodeConfig struct {
	RedisPrefix string        `env:"REDIS_PREFIX"`
	TTL         time.Duration `env:"TTL"`
	Length      int           `env:"LENGTH"`
	SaltLength  int           `env:"SALT_LENGTH"`
}

/*
====================================
ORCHESTRATOR CONFIG
====================================
*/

// SignUpConfig defines a public type used by goIdentity APIs.
//
// SignUpConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SignUpConfig struct {
	UsernamesEnabled  bool `env:"USERNAMES_ENABLED"`
	MinPasswordLength int  `env:"MIN_PASSWORD_LENGTH"`
	MinStrengthScore  int  `env:"MIN_STRENGTH_SCORE"`
	MaxIDAttempts     int  `env:"MAX_ID_ATTEMPTS"`
	IDLength          int  `env:"ID_LENGTH"`
	MaxBioLength      int  `env:"MAX_BIO_LENGTH"`
}

// SignInConfig defines a public type used by goIdentity APIs.
//
// SignInConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SignInConfig struct {
	// DistinguishUnknownUser surfaces ErrUserNotFound for an unknown email
	// instead of ErrInvalidCredentials. Off by default.
	DistinguishUnknownUser bool `env:"DISTINGUISH_UNKNOWN_USER"`
	// MaxFailedAttempts failed sign-ins per email within FailureWindow
	// trigger ErrTooManyAttempts. Zero disables the limiter.
	MaxFailedAttempts int           `env:"MAX_FAILED_ATTEMPTS"`
	FailureWindow     time.Duration `env:"FAILURE_WINDOW"`
	// ThrottleByIP also counts failures per client IP (see WithClientIP).
	ThrottleByIP bool `env:"THROTTLE_BY_IP"`
}

// MailConfig defines a public type used by goIdentity APIs.
type MailConfig struct {
	From    string `env:"FROM"`
	BaseURL string `env:"BASE_URL"`
}

// AuditConfig defines a public type used by goIdentity APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig defines a public type used by goIdentity APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Mail.From must still be set.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Memory:          65536,
			Time:            3,
			Parallelism:     2,
			SaltLength:      16,
			KeyLength:       32,
			MaxBytes:        4096,
			UpgradeOnSignIn: true,
		},
		Session: SessionConfig{
			RedisPrefix: "ids",
			MaxPerUser:  10,
			MinLifetime: time.Hour,
			MaxLifetime: 365 * 24 * time.Hour,
			TokenLength: 128,
		},
		TOTP: TOTPConfig{
			Issuer:    "goIdentity",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		TwoFactor: TwoFactorConfig{
			RecoveryCodeCount:  10,
			RecoveryCodeLength: 10,
		},
		TempCode: TempCodeConfig{
			RedisPrefix: "idt",
			TTL:         2 * time.Hour,
			Length:      24,
			SaltLength:  16,
		},
		SignUp: SignUpConfig{
			UsernamesEnabled:  true,
			MinPasswordLength: 8,
			MinStrengthScore:  3,
			MaxIDAttempts:     5,
			IDLength:          16,
			MaxBioLength:      500,
		},
		SignIn: SignInConfig{
			MaxFailedAttempts: 10,
			FailureWindow:     15 * time.Minute,
		},
		Mail: MailConfig{
			From: "no-reply@localhost",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxBytes < 1000 {
		return errors.New("Password MaxBytes must be >= 1000")
	}

	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.MaxPerUser < 1 {
		return errors.New("Session MaxPerUser must be >= 1")
	}
	if c.Session.MinLifetime <= 0 {
		return errors.New("Session MinLifetime must be > 0")
	}
	if c.Session.MaxLifetime < c.Session.MinLifetime {
		return errors.New("Session MaxLifetime must be >= MinLifetime")
	}
	if c.Session.TokenLength < 128 {
		return errors.New("Session TokenLength must be >= 128")
	}

	// TOTP
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be between 0 and 3")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must not be empty")
	}

	// Two factor
	if c.TwoFactor.RecoveryCodeCount < 1 || c.TwoFactor.RecoveryCodeCount > 20 {
		return errors.New("TwoFactor RecoveryCodeCount must be between 1 and 20")
	}
	if c.TwoFactor.RecoveryCodeLength < 8 || c.TwoFactor.RecoveryCodeLength > 32 {
		return errors.New("TwoFactor RecoveryCodeLength must be between 8 and 32")
	}

	// Temp codes
	if strings.TrimSpace(c.TempCode.RedisPrefix) == "" {
		return errors.New("TempCode RedisPrefix must not be empty")
	}
	if c.TempCode.RedisPrefix == c.Session.RedisPrefix {
		return errors.New("TempCode RedisPrefix must differ from Session RedisPrefix")
	}
	if c.TempCode.TTL <= 0 {
		return errors.New("TempCode TTL must be > 0")
	}
	if c.TempCode.Length < 16 {
		return errors.New("TempCode Length must be >= 16")
	}
	if c.TempCode.SaltLength < 16 {
		return errors.New("TempCode SaltLength must be >= 16")
	}

	// Sign up
	if c.SignUp.MinPasswordLength < 1 {
		return errors.New("SignUp MinPasswordLength must be >= 1")
	}
	if c.SignUp.MinPasswordLength > c.Password.MaxBytes {
		return errors.New("SignUp MinPasswordLength must be <= Password MaxBytes")
	}
	if c.SignUp.MinStrengthScore < 0 || c.SignUp.MinStrengthScore > 4 {
		return errors.New("SignUp MinStrengthScore must be between 0 and 4")
	}
	if c.SignUp.MaxIDAttempts < 1 {
		return errors.New("SignUp MaxIDAttempts must be >= 1")
	}
	if c.SignUp.IDLength < 8 {
		return errors.New("SignUp IDLength must be >= 8")
	}
	if c.SignUp.MaxBioLength < 0 {
		return errors.New("SignUp MaxBioLength must be >= 0")
	}

	// Sign in
	if c.SignIn.MaxFailedAttempts < 0 {
		return errors.New("SignIn MaxFailedAttempts must be >= 0")
	}
	if c.SignIn.MaxFailedAttempts > 0 && c.SignIn.FailureWindow <= 0 {
		return errors.New("SignIn FailureWindow must be > 0 when MaxFailedAttempts is set")
	}

	// Mail
	if strings.TrimSpace(c.Mail.From) == "" {
		return errors.New("Mail From must not be empty")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
