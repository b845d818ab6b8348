package internaldefs

import (
	goIdentity "github.com/MrEthical07/goIdentity"
)

// CounterDef binds a counter ID to its exported name.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram ID to its exported name.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricSignUpSuccess, Name: "goidentity_signup_success_total", Help: "Accounts created by SignUp."},
	{ID: goIdentity.MetricSignUpConflict, Name: "goidentity_signup_conflict_total", Help: "Sign-ups rejected for a taken email or username."},
	{ID: goIdentity.MetricSignUpWeakPassword, Name: "goidentity_signup_weak_password_total", Help: "Sign-ups rejected by the strength scorer."},
	{ID: goIdentity.MetricSignInSuccess, Name: "goidentity_signin_success_total", Help: "Sessions minted by SignIn."},
	{ID: goIdentity.MetricSignInFailure, Name: "goidentity_signin_failure_total", Help: "Failed SignIn calls."},
	{ID: goIdentity.MetricSignInThrottled, Name: "goidentity_signin_throttled_total", Help: "Sign-ins refused by the failed-attempt limiter."},
	{ID: goIdentity.MetricSecondFactorRequired, Name: "goidentity_second_factor_required_total", Help: "Sign-ins stopped for a missing second factor."},
	{ID: goIdentity.MetricSecondFactorFailure, Name: "goidentity_second_factor_failure_total", Help: "Rejected TOTP or recovery codes."},
	{ID: goIdentity.MetricSecondFactorSuccess, Name: "goidentity_second_factor_success_total", Help: "Accepted TOTP codes."},
	{ID: goIdentity.MetricRecoveryCodeUsed, Name: "goidentity_recovery_code_used_total", Help: "Consumed recovery codes."},
	{ID: goIdentity.MetricRecoveryCodesRegenerated, Name: "goidentity_recovery_codes_regenerated_total", Help: "Recovery code regenerations."},
	{ID: goIdentity.MetricTwoFactorEnabled, Name: "goidentity_two_factor_enabled_total", Help: "Two-factor enrollments."},
	{ID: goIdentity.MetricTwoFactorDisabled, Name: "goidentity_two_factor_disabled_total", Help: "Two-factor removals."},
	{ID: goIdentity.MetricSessionCreated, Name: "goidentity_session_created_total", Help: "Created sessions."},
	{ID: goIdentity.MetricSessionLimitExceeded, Name: "goidentity_session_limit_exceeded_total", Help: "Session creations rejected by the per-user cap."},
	{ID: goIdentity.MetricSessionDeleted, Name: "goidentity_session_deleted_total", Help: "Explicit single-session deletions."},
	{ID: goIdentity.MetricSignOutAll, Name: "goidentity_signout_all_total", Help: "All-session revocations."},
	{ID: goIdentity.MetricTempCodeIssued, Name: "goidentity_temp_code_issued_total", Help: "Issued temporary codes."},
	{ID: goIdentity.MetricTempCodeConflict, Name: "goidentity_temp_code_conflict_total", Help: "Temporary code requests rejected by an outstanding code."},
	{ID: goIdentity.MetricTempCodeRedeemed, Name: "goidentity_temp_code_redeemed_total", Help: "Consumed temporary codes."},
	{ID: goIdentity.MetricTempCodeInvalid, Name: "goidentity_temp_code_invalid_total", Help: "Submitted temporary codes that did not match."},
	{ID: goIdentity.MetricTempCodeRestored, Name: "goidentity_temp_code_restored_total", Help: "Redeemed temporary codes restored after a failed account change."},
	{ID: goIdentity.MetricMailFailure, Name: "goidentity_mail_failure_total", Help: "Failed mail deliveries."},
	{ID: goIdentity.MetricPasswordRehashed, Name: "goidentity_password_rehashed_total", Help: "Password hashes upgraded on sign-in."},
	{ID: goIdentity.MetricAccountDeleted, Name: "goidentity_account_deleted_total", Help: "Deleted accounts."},
}

// AuditDropped is the counter fed by Engine.AuditDropped rather than the
// metrics snapshot.
var AuditDropped = CounterDef{
	Name: "goidentity_audit_dropped_total",
	Help: "Activity events dropped because the dispatcher buffer was full.",
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricSignInLatency, Name: "goidentity_signin_latency_seconds", Help: "SignIn latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.15",
	"0.25",
	"0.4",
	"0.6",
	"1",
	"+Inf",
}

// HistogramBoundSuffix are HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_15",
	"0_25",
	"0_4",
	"0_6",
	"1",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
