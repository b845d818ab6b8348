package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ActivitySink persists activity records into the activity table. Insert
// failures are logged and dropped; an activity record never fails the
// operation that produced it.
type ActivitySink struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ goIdentity.AuditSink = (*ActivitySink)(nil)

func NewActivitySink(db *sqlx.DB, logger *slog.Logger) *ActivitySink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivitySink{db: db, logger: logger}
}

func (s *ActivitySink) Emit(ctx context.Context, event goIdentity.AuditEvent) {
	if err := s.insert(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "activity record dropped",
			slog.String("event", event.EventType),
			slog.Any("error", err),
		)
	}
}

func (s *ActivitySink) insert(ctx context.Context, event goIdentity.AuditEvent) error {
	metadata := []byte("{}")
	if len(event.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(event.Metadata); err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO activity
		(id, occurred_at, event_type, user_id, session_ref, ip, user_agent, success, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(),
		toMillis(event.Timestamp),
		event.EventType,
		event.UserID,
		event.SessionRef,
		event.IP,
		event.UserAgent,
		event.Success,
		event.Error,
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Activity is one stored activity row.
type Activity struct {
	ID         string            `db:"id"`
	OccurredAt int64             `db:"occurred_at"`
	EventType  string            `db:"event_type"`
	UserID     string            `db:"user_id"`
	SessionRef string            `db:"session_ref"`
	IP         string            `db:"ip"`
	UserAgent  string            `db:"user_agent"`
	Success    bool              `db:"success"`
	Error      string            `db:"error"`
	RawMeta    string            `db:"metadata"`
	Metadata   map[string]string `db:"-"`
}

// RecentActivity returns up to limit records for userID, newest first.
func (s *ActivitySink) RecentActivity(ctx context.Context, userID string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Activity
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT
		id, occurred_at, event_type, user_id, session_ref, ip, user_agent, success, error, metadata
		FROM activity WHERE user_id = ? ORDER BY occurred_at DESC, id LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	for i := range rows {
		if rows[i].RawMeta != "" && rows[i].RawMeta != "{}" {
			_ = json.Unmarshal([]byte(rows[i].RawMeta), &rows[i].Metadata)
		}
	}
	return rows, nil
}
