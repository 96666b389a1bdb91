package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/solvein/authcore"
)

// MySQLSchema is the expected table layout. Apply it through your own
// migration tooling.
const MySQLSchema = `
CREATE TABLE IF NOT EXISTS users (
    id               CHAR(36)     NOT NULL PRIMARY KEY,
    email            VARCHAR(255) NOT NULL UNIQUE,
    credential_digest VARCHAR(255) NOT NULL,
    is_active        TINYINT(1)   NOT NULL DEFAULT 1,
    failed_attempts  INT          NOT NULL DEFAULT 0,
    locked_until     DATETIME(6)  NULL,
    last_attempt_at  DATETIME(6)  NULL
);`

const mysqlDuplicateEntry = 1062

// MySQL is an [authcore.UserStore] on database/sql. The security swap is a
// single UPDATE guarded by the expected counter and lock values; the
// NULL-safe <=> comparison makes an unlocked record (NULL locked_until)
// participate in the guard.
type MySQL struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{
		db:  db,
		now: time.Now,
	}
}

const userColumns = "id, email, credential_digest, is_active, failed_attempts, locked_until, last_attempt_at"

func (m *MySQL) FindByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?", email)
	return scanUser(row)
}

func (m *MySQL) FindByID(ctx context.Context, id string) (authcore.UserRecord, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

func (m *MySQL) Insert(ctx context.Context, user authcore.UserRecord) error {
	_, err := m.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		user.ID,
		user.Email,
		user.CredentialDigest,
		user.IsActive,
		user.FailedAttempts,
		nullTime(user.LockedUntil),
		nullTime(user.LastAttemptAt),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return authcore.ErrEmailTaken
		}
		return err
	}

	return nil
}

func (m *MySQL) CompareAndSwapSecurity(ctx context.Context, id string, expected, next authcore.SecurityState) (bool, error) {
	res, err := m.db.ExecContext(ctx,
		`UPDATE users
		    SET failed_attempts = ?, locked_until = ?, last_attempt_at = ?
		  WHERE id = ? AND failed_attempts = ? AND locked_until <=> ?`,
		next.FailedAttempts,
		nullTime(next.LockedUntil),
		m.now(),
		id,
		expected.FailedAttempts,
		nullTime(expected.LockedUntil),
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func scanUser(row *sql.Row) (authcore.UserRecord, error) {
	var (
		user          authcore.UserRecord
		lockedUntil   sql.NullTime
		lastAttemptAt sql.NullTime
	)

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.CredentialDigest,
		&user.IsActive,
		&user.FailedAttempts,
		&lockedUntil,
		&lastAttemptAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, err
	}

	user.LockedUntil = timePtr(lockedUntil)
	user.LastAttemptAt = timePtr(lastAttemptAt)

	return user, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
