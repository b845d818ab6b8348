package goIdentity

import "time"

// SecurityReport summarises the security-relevant settings an Engine runs
// with. It contains no secrets and is meant for startup logs and health
// endpoints.
type SecurityReport struct {
	Argon2                 PasswordConfigReport
	RehashOnSignIn         bool
	MaxSessionsPerUser     int
	MinSessionLifetime     time.Duration
	MaxSessionLifetime     time.Duration
	SessionTokenLength     int
	TOTPAlgorithm          string
	TOTPDigits             int
	RecoveryCodeCount      int
	TempCodeTTL            time.Duration
	TempCodeLength         int
	MinStrengthScore       int
	UnknownUserHidden      bool
	RateLimitingActive     bool
	RateLimitingPerIP      bool
	ActivityRecordsEnabled bool
}

// PasswordConfigReport mirrors the Argon2id cost parameters.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	rateLimiting := e.config.SignIn.MaxFailedAttempts > 0 &&
		e.config.SignIn.FailureWindow > 0

	return SecurityReport{
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		RehashOnSignIn:         e.config.Password.UpgradeOnSignIn,
		MaxSessionsPerUser:     e.config.Session.MaxPerUser,
		MinSessionLifetime:     e.config.Session.MinLifetime,
		MaxSessionLifetime:     e.config.Session.MaxLifetime,
		SessionTokenLength:     e.config.Session.TokenLength,
		TOTPAlgorithm:          e.config.TOTP.Algorithm,
		TOTPDigits:             e.config.TOTP.Digits,
		RecoveryCodeCount:      e.config.TwoFactor.RecoveryCodeCount,
		TempCodeTTL:            e.config.TempCode.TTL,
		TempCodeLength:         e.config.TempCode.Length,
		MinStrengthScore:       e.config.SignUp.MinStrengthScore,
		UnknownUserHidden:      !e.config.SignIn.DistinguishUnknownUser,
		RateLimitingActive:     rateLimiting,
		RateLimitingPerIP:      rateLimiting && e.config.SignIn.ThrottleByIP,
		ActivityRecordsEnabled: e.config.Audit.Enabled,
	}
}
