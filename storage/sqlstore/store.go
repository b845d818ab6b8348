package sqlstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/jmoiron/sqlx"
)

// Store implements goIdentity.UserStore. It is safe for concurrent use.
type Store struct {
	db *sqlx.DB
}

var _ goIdentity.UserStore = (*Store)(nil)

// New wraps an open, migrated database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers sharing the connection pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

type userRow struct {
	ID            string         `db:"id"`
	Email         string         `db:"email"`
	Username      sql.NullString `db:"username"`
	PasswordHash  string         `db:"password_hash"`
	EmailVerified bool           `db:"email_verified"`
	Bio           string         `db:"bio"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

func (r *userRow) toUser() *goIdentity.User {
	return &goIdentity.User{
		ID:              r.ID,
		Email:           r.Email,
		Username:        r.Username.String,
		PasswordHash:    r.PasswordHash,
		IsEmailVerified: r.EmailVerified,
		Bio:             r.Bio,
		CreatedAt:       fromMillis(r.CreatedAt),
		UpdatedAt:       fromMillis(r.UpdatedAt),
	}
}

const selectUser = `SELECT id, email, username, password_hash, email_verified, bio, created_at, updated_at FROM users`

func (s *Store) GetUserByID(ctx context.Context, id string) (*goIdentity.User, error) {
	return s.getUser(ctx, selectUser+` WHERE id = ?`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*goIdentity.User, error) {
	return s.getUser(ctx, selectUser+` WHERE email = ?`, email)
}

func (s *Store) getUser(ctx context.Context, query string, arg string) (*goIdentity.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goIdentity.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return row.toUser(), nil
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(1) FROM users WHERE email = ?`, email)
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(1) FROM users WHERE username = ?`, username)
}

func (s *Store) UserIDExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(1) FROM users WHERE id = ?`, id)
}

func (s *Store) exists(ctx context.Context, query string, arg string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), arg); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// CreateUser inserts the user and its settings in one transaction. Unique
// violations surface as ErrUserIDTaken, ErrEmailTaken or ErrUsernameTaken.
func (s *Store) CreateUser(ctx context.Context, user *goIdentity.User, settings goIdentity.UserSettings) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO users
			(id, email, username, password_hash, email_verified, bio, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			user.ID,
			user.Email,
			nullString(user.Username),
			user.PasswordHash,
			user.IsEmailVerified,
			user.Bio,
			toMillis(user.CreatedAt),
			toMillis(user.UpdatedAt),
		)
		if err != nil {
			return mapUserConflict(err)
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO user_settings
			(user_id, profile_public, show_email, email_notifications)
			VALUES (?, ?, ?, ?)`),
			user.ID,
			settings.ProfilePublic,
			settings.ShowEmail,
			settings.EmailNotifications,
		)
		return err
	})
}

// UpdateUser overwrites every mutable column of user.
func (s *Store) UpdateUser(ctx context.Context, user *goIdentity.User) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET
		email = ?, username = ?, password_hash = ?, email_verified = ?, bio = ?, updated_at = ?
		WHERE id = ?`),
		user.Email,
		nullString(user.Username),
		user.PasswordHash,
		user.IsEmailVerified,
		user.Bio,
		toMillis(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		if mapped := mapUserConflict(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res, goIdentity.ErrUserNotFound)
}

// DeleteUser removes the user with its settings, second factor and recovery
// codes. Children are deleted explicitly so the result does not depend on
// foreign key enforcement being enabled.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, q := range []string{
			`DELETE FROM recovery_codes WHERE user_id = ?`,
			`DELETE FROM two_factor WHERE user_id = ?`,
			`DELETE FROM user_settings WHERE user_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(q), id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM users WHERE id = ?`), id)
		if err != nil {
			return err
		}
		return requireRow(res, goIdentity.ErrUserNotFound)
	})
}

// GetSettings returns the preference record created with the user.
func (s *Store) GetSettings(ctx context.Context, userID string) (goIdentity.UserSettings, error) {
	var row struct {
		ProfilePublic      bool `db:"profile_public"`
		ShowEmail          bool `db:"show_email"`
		EmailNotifications bool `db:"email_notifications"`
	}
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT profile_public, show_email, email_notifications FROM user_settings WHERE user_id = ?`), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return goIdentity.UserSettings{}, goIdentity.ErrUserNotFound
		}
		return goIdentity.UserSettings{}, fmt.Errorf("db error: %w", err)
	}
	return goIdentity.UserSettings{
		ProfilePublic:      row.ProfilePublic,
		ShowEmail:          row.ShowEmail,
		EmailNotifications: row.EmailNotifications,
	}, nil
}

/*
====================================
TWO FACTOR
====================================
*/

// GetTwoFactor returns TwoFactorNone when no record exists.
func (s *Store) GetTwoFactor(ctx context.Context, userID string) (goIdentity.TwoFactorState, error) {
	var secret string
	err := s.db.GetContext(ctx, &secret, s.db.Rebind(`SELECT secret FROM two_factor WHERE user_id = ?`), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return goIdentity.TwoFactorNone{}, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	var encoded []string
	err = s.db.SelectContext(ctx, &encoded, s.db.Rebind(
		`SELECT code_hash FROM recovery_codes WHERE user_id = ? ORDER BY position`), userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	hashes := make([][32]byte, 0, len(encoded))
	for _, h := range encoded {
		decoded, err := decodeHash(h)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, decoded)
	}

	return goIdentity.TwoFactorEnabled{Secret: secret, RecoveryCodeHashes: hashes}, nil
}

// CreateTwoFactor stores the secret and recovery code hashes. A second
// enrollment violates two_factor_pkey and yields ErrTwoFactorAlreadyEnabled.
func (s *Store) CreateTwoFactor(ctx context.Context, userID, secret string, codeHashes [][32]byte) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO two_factor (user_id, secret, created_at) VALUES (?, ?, ?)`),
			userID, secret, toMillis(time.Now()),
		)
		if err != nil {
			return mapUserConflict(err)
		}
		return insertCodes(ctx, tx, userID, codeHashes)
	})
}

func (s *Store) DeleteTwoFactor(ctx context.Context, userID string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM recovery_codes WHERE user_id = ?`), userID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM two_factor WHERE user_id = ?`), userID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// ReplaceRecoveryCodes swaps the whole set in one transaction.
func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes [][32]byte) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(1) FROM two_factor WHERE user_id = ?`), userID); err != nil {
			return err
		}
		if n == 0 {
			return goIdentity.ErrTwoFactorNotEnabled
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM recovery_codes WHERE user_id = ?`), userID); err != nil {
			return err
		}
		return insertCodes(ctx, tx, userID, codeHashes)
	})
}

// ConsumeRecoveryCode deletes one code. The row count makes the delete the
// single arbiter between concurrent submissions of the same code.
func (s *Store) ConsumeRecoveryCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM recovery_codes WHERE user_id = ? AND code_hash = ?`),
		userID, hex.EncodeToString(codeHash[:]),
	)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func insertCodes(ctx context.Context, tx *sqlx.Tx, userID string, codeHashes [][32]byte) error {
	query := tx.Rebind(`INSERT INTO recovery_codes (user_id, code_hash, position) VALUES (?, ?, ?)`)
	for i, h := range codeHashes {
		if _, err := tx.ExecContext(ctx, query, userID, hex.EncodeToString(h[:]), i); err != nil {
			return err
		}
	}
	return nil
}

/*
====================================
HELPERS
====================================
*/

// withTx runs fn in a transaction. Errors that are goIdentity sentinels pass
// through unchanged; anything else is wrapped as a db error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if goIdentity.KindOf(err) != goIdentity.KindUnknown {
			return err
		}
		return fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if mapped := mapUserConflict(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(out) {
		return out, fmt.Errorf("db error: malformed recovery code hash")
	}
	copy(out[:], b)
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
