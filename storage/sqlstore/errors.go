package sqlstore

import (
	"errors"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const pgUniqueViolation = "23505"

// uniqueViolation reports whether err is a unique or primary key violation
// and returns the constraint (postgres) or error text (sqlite) naming it.
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return "", false
		}
		return pgErr.ConstraintName, true
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return liteErr.Error(), true
		}
	}
	return "", false
}

// mapUserConflict translates a violated users constraint into the
// goIdentity sentinel. Other errors are returned unchanged.
func mapUserConflict(err error) error {
	name, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	switch {
	case strings.Contains(name, "users_email_key"), strings.Contains(name, "users.email"):
		return goIdentity.ErrEmailTaken
	case strings.Contains(name, "users_username_key"), strings.Contains(name, "users.username"):
		return goIdentity.ErrUsernameTaken
	case strings.Contains(name, "users_pkey"), strings.Contains(name, "users.id"):
		return goIdentity.ErrUserIDTaken
	case strings.Contains(name, "two_factor_pkey"), strings.Contains(name, "two_factor.user_id"):
		return goIdentity.ErrTwoFactorAlreadyEnabled
	}
	return err
}
