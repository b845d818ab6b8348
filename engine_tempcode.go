package goIdentity

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net/url"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/stores"
)

const tempCodeMailHTML = `<!DOCTYPE html>
<html>
<body>
<p>{{.Subject}}</p>
<p>Your code is:</p>
<p style="font-family:monospace;font-size:18px"><strong>{{.Code}}</strong></p>
{{- if .Link}}
<p>Or open this link: <a href="{{.Link}}">{{.Link}}</a></p>
{{- end}}
<p>The code expires at {{.ExpiresAt}} and can be used once.</p>
<p>If you did not ask for this, you can ignore this email.</p>
</body>
</html>
`

type tempCodeMail struct {
	Subject   string
	Code      string
	Link      string
	ExpiresAt string
}

func newMailTemplate() (*template.Template, error) {
	return template.New("temp_code").Parse(tempCodeMailHTML)
}

// IssueTempCode generates and stores a code for (purpose, subjectID) and
// returns the plaintext once, with the stored record. The store keeps only
// SHA-256(code || salt). While an unexpired code is outstanding for the
// same pair, issuance fails with ErrTempCodeExists.
func (e *Engine) IssueTempCode(ctx context.Context, purpose Purpose, subjectID string) (string, *TempCode, error) {
	const op = "IssueTempCode"
	if err := e.ready(op); err != nil {
		return "", nil, err
	}
	return e.issueTempCode(ctx, op, purpose, subjectID)
}

func (e *Engine) issueTempCode(ctx context.Context, op string, purpose Purpose, subjectID string) (string, *TempCode, error) {
	if !purpose.Valid() {
		return "", nil, &Error{Kind: KindValidation, Op: op, Field: "purpose", Err: ErrUnknownPurpose}
	}
	if subjectID == "" {
		return "", nil, validationError(op, "for_id", "subject id is required")
	}

	code, err := internal.RandomString(internal.TempCodeAlphabet, e.config.TempCode.Length)
	if err != nil {
		return "", nil, &Error{Kind: KindDependency, Op: op, Err: err}
	}
	salt, err := internal.NewSalt(e.config.TempCode.SaltLength)
	if err != nil {
		return "", nil, &Error{Kind: KindDependency, Op: op, Err: err}
	}

	now := e.now()
	record := &TempCode{
		Purpose:   purpose,
		ForID:     subjectID,
		Hash:      hashTempCode(code, salt),
		Salt:      salt,
		ExpiresAt: now.Add(e.config.TempCode.TTL).Truncate(time.Millisecond),
	}

	err = e.tempCodes.Create(ctx, &stores.TempCodeRecord{
		Purpose:   uint8(record.Purpose),
		ForID:     record.ForID,
		Hash:      record.Hash,
		Salt:      record.Salt,
		ExpiresAt: record.ExpiresAt.UnixMilli(),
	}, now)
	if err != nil {
		mapped := e.tempCodeStoreError(ctx, op, err)
		if KindOf(mapped) == KindConflict {
			e.metricInc(MetricTempCodeConflict)
		}
		return "", nil, mapped
	}

	e.metricInc(MetricTempCodeIssued)
	return code, record, nil
}

// RequestTempCode issues a code for subjectID and mails it to the user's
// current address. If delivery fails the issued code is deleted again, so a
// retry is not blocked by ErrTempCodeExists, and ErrMailerUnavailable is
// returned.
func (e *Engine) RequestTempCode(ctx context.Context, purpose Purpose, subjectID string) error {
	const op = "RequestTempCode"
	if err := e.ready(op); err != nil {
		return err
	}
	if e.mailer == nil || e.mailBody == nil {
		return &Error{Kind: KindDependency, Op: op, Err: ErrMailerUnavailable}
	}

	subject, err := purpose.MailSubject()
	if err != nil {
		return &Error{Kind: KindValidation, Op: op, Field: "purpose", Err: err}
	}
	user, err := e.loadUser(ctx, op, subjectID)
	if err != nil {
		return err
	}

	code, record, err := e.issueTempCode(ctx, op, purpose, user.ID)
	if err != nil {
		return err
	}

	msg, err := e.renderTempCodeMail(user.Email, subject, code, record)
	if err == nil {
		err = e.mailer.Send(ctx, msg)
	}
	if err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.ErrorContext(ctx, "temp code delivery failed",
			slog.String("op", op),
			slog.String("purpose", purpose.String()),
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		if delErr := e.tempCodes.Delete(ctx, uint8(purpose), user.ID); delErr != nil {
			e.logger.ErrorContext(ctx, "undelivered temp code not withdrawn",
				slog.String("purpose", purpose.String()),
				slog.String("user_id", user.ID),
				slog.Any("error", delErr),
			)
		}
		e.emitAudit(ctx, auditEventTempCodeDeliveryFailure, false, user.ID, "", ErrMailerUnavailable, func() map[string]string {
			return map[string]string{"purpose": purpose.String()}
		})
		return &Error{Kind: KindDependency, Op: op, Err: ErrMailerUnavailable, Details: []string{"the code could not be delivered"}}
	}

	e.emitAudit(ctx, auditEventTempCodeIssued, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"purpose": purpose.String()}
	})
	return nil
}

func (e *Engine) renderTempCodeMail(to, subject, code string, record *TempCode) (Message, error) {
	data := tempCodeMail{
		Subject:   subject,
		Code:      code,
		ExpiresAt: record.ExpiresAt.Format(time.RFC1123),
	}
	if e.config.Mail.BaseURL != "" {
		link, err := url.Parse(e.config.Mail.BaseURL)
		if err != nil {
			return Message{}, err
		}
		q := link.Query()
		q.Set("purpose", record.Purpose.String())
		q.Set("for", record.ForID)
		q.Set("code", code)
		link.RawQuery = q.Encode()
		data.Link = link.String()
	}

	var body bytes.Buffer
	if err := e.mailBody.Execute(&body, data); err != nil {
		return Message{}, err
	}
	return Message{
		From:     e.config.Mail.From,
		To:       to,
		Subject:  subject,
		HTMLBody: body.String(),
	}, nil
}

// ConsumeTempCode redeems the outstanding code for (purpose, subjectID).
// A matching, unexpired code is deleted atomically so it cannot be used
// twice. A wrong code leaves the stored one in place and yields
// ErrTempCodeInvalid; a missing, expired or already redeemed code yields
// ErrTempCodeNotFound.
func (e *Engine) ConsumeTempCode(ctx context.Context, purpose Purpose, subjectID, code string) error {
	const op = "ConsumeTempCode"
	if err := e.ready(op); err != nil {
		return err
	}
	_, err := e.redeemTempCode(ctx, op, purpose, subjectID, code)
	return err
}

// redeemTempCode consumes the code and returns the removed record, so a
// caller whose own write fails afterwards can hand it to restoreTempCode.
func (e *Engine) redeemTempCode(ctx context.Context, op string, purpose Purpose, subjectID, code string) (*stores.TempCodeRecord, error) {
	if !purpose.Valid() {
		return nil, &Error{Kind: KindValidation, Op: op, Field: "purpose", Err: ErrUnknownPurpose}
	}
	if subjectID == "" {
		return nil, validationError(op, "for_id", "subject id is required")
	}
	if code == "" {
		return nil, validationError(op, "code", "code is required")
	}

	stored, err := e.tempCodes.Get(ctx, uint8(purpose), subjectID)
	if err != nil {
		return nil, e.tempCodeStoreError(ctx, op, err)
	}
	if stored.Expired(e.now()) {
		if err := e.tempCodes.Delete(ctx, uint8(purpose), subjectID); err != nil {
			e.logger.WarnContext(ctx, "expired temp code not deleted", slog.Any("error", err))
		}
		return nil, newError(op, ErrTempCodeNotFound)
	}

	record := &TempCode{
		Purpose:   purpose,
		ForID:     stored.ForID,
		Hash:      stored.Hash,
		Salt:      stored.Salt,
		ExpiresAt: time.UnixMilli(stored.ExpiresAt).UTC(),
	}
	if !ValidateTempCode(code, record) {
		e.metricInc(MetricTempCodeInvalid)
		e.emitAudit(ctx, auditEventTempCodeRejected, false, subjectID, "", ErrTempCodeInvalid, func() map[string]string {
			return map[string]string{"purpose": purpose.String()}
		})
		return nil, &Error{Kind: KindUnauthorized, Op: op, Field: "code", Err: ErrTempCodeInvalid}
	}

	consumed, err := e.tempCodes.Consume(ctx, stored)
	if err != nil {
		return nil, e.tempCodeStoreError(ctx, op, err)
	}
	if !consumed {
		return nil, newError(op, ErrTempCodeNotFound)
	}

	e.metricInc(MetricTempCodeRedeemed)
	e.emitAudit(ctx, auditEventTempCodeRedeemed, true, subjectID, "", nil, func() map[string]string {
		return map[string]string{"purpose": purpose.String()}
	})
	return stored, nil
}

// restoreTempCode puts a redeemed code back after the change it authorized
// failed to persist. The code keeps its original expiry.
func (e *Engine) restoreTempCode(ctx context.Context, op string, record *stores.TempCodeRecord) {
	if err := e.tempCodes.Restore(ctx, record, e.now()); err != nil {
		e.logger.ErrorContext(ctx, "redeemed temp code not restored",
			slog.String("op", op),
			slog.String("purpose", Purpose(record.Purpose).String()),
			slog.String("user_id", record.ForID),
			slog.Any("error", err),
		)
		return
	}
	e.metricInc(MetricTempCodeRestored)
}
