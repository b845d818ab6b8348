package goIdentity

import (
	"context"
	"errors"
)

const (
	auditEventSignUpSuccess            = "signup_success"
	auditEventSignUpFailure            = "signup_failure"
	auditEventSignInSuccess            = "signin_success"
	auditEventSignInFailure            = "signin_failure"
	auditEventSecondFactorRequired     = "second_factor_required"
	auditEventSecondFactorFailure      = "second_factor_failure"
	auditEventRecoveryCodeUsed         = "recovery_code_used"
	auditEventRecoveryCodesRegenerated = "recovery_codes_regenerated"
	auditEventTwoFactorEnabled         = "two_factor_enabled"
	auditEventTwoFactorDisabled        = "two_factor_disabled"
	auditEventTwoFactorDisableFailure  = "two_factor_disable_failure"
	auditEventSessionCreated           = "session_created"
	auditEventSessionLimitExceeded     = "session_limit_exceeded"
	auditEventSessionDeleted           = "session_deleted"
	auditEventSignOutAll               = "signout_all"
	auditEventTempCodeIssued           = "temp_code_issued"
	auditEventTempCodeDeliveryFailure  = "temp_code_delivery_failure"
	auditEventTempCodeRedeemed         = "temp_code_redeemed"
	auditEventTempCodeRejected         = "temp_code_rejected"
	auditEventEmailVerified            = "email_verified"
	auditEventPasswordReset            = "password_reset"
	auditEventEmailChanged             = "email_changed"
	auditEventPasswordRehashed         = "password_rehashed"
	auditEventAccountDeleted           = "account_deleted"
)

// AuditErrorCode is the stable error label written to activity records.
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation_failed"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidPassword    AuditErrorCode = "invalid_password"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrWeakPassword       AuditErrorCode = "weak_password"
	auditErrSessionLimit       AuditErrorCode = "session_limit_exceeded"
	auditErrTooManyAttempts    AuditErrorCode = "too_many_attempts"
	auditErrExpirationRange    AuditErrorCode = "expiration_out_of_range"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrTwoFactorRequired  AuditErrorCode = "two_factor_required"
	auditErrTwoFactorInvalid   AuditErrorCode = "two_factor_invalid"
	auditErrTwoFactorState     AuditErrorCode = "two_factor_state"
	auditErrTempCodeInvalid    AuditErrorCode = "temp_code_invalid"
	auditErrTempCodeNotFound   AuditErrorCode = "temp_code_not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionRef string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  e.now(),
		EventType:  eventType,
		UserID:     userID,
		SessionRef: sessionRef,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidPassword):
		return auditErrInvalidPassword
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrTempCodeExists):
		return auditErrDuplicate
	case errors.Is(err, ErrWeakPassword):
		return auditErrWeakPassword
	case errors.Is(err, ErrSessionLimitExceeded):
		return auditErrSessionLimit
	case errors.Is(err, ErrTooManyAttempts):
		return auditErrTooManyAttempts
	case errors.Is(err, ErrExpirationOutOfRange):
		return auditErrExpirationRange
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrTwoFactorRequired):
		return auditErrTwoFactorRequired
	case errors.Is(err, ErrTwoFactorInvalid):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorNotEnabled):
		return auditErrTwoFactorState
	case errors.Is(err, ErrTempCodeInvalid):
		return auditErrTempCodeInvalid
	case errors.Is(err, ErrTempCodeNotFound):
		return auditErrTempCodeNotFound
	case errors.Is(err, KindValidation):
		return auditErrValidation
	case errors.Is(err, KindDependency):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
