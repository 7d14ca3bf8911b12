package identity

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite.sql
var sqliteSchema string

// SQLiteRepository implements Repository using an embedded SQLite database
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies the identity schema.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply identity schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func scanSQLUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (r *SQLiteRepository) FindByLogin(ctx context.Context, provider, providerKey string) (User, error) {
	row := r.db.QueryRowContext(ctx, selectUser+`
		JOIN user_logins l ON l.user_id = u.id
		WHERE l.login_provider = ? AND l.provider_key = ?`,
		provider, providerKey)
	return scanSQLUser(row)
}

func (r *SQLiteRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, selectUser+` WHERE u.normalized_email = ?`, NormalizeEmail(email))
	return scanSQLUser(row)
}

func (r *SQLiteRepository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := r.db.QueryRowContext(ctx, selectUser+` WHERE u.id = ?`, id)
	return scanSQLUser(row)
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, username, email string) (User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return User{}, fmt.Errorf("email is required")
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, normalized_username, email, normalized_email, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (normalized_email) DO UPDATE SET normalized_email = excluded.normalized_email
		RETURNING id, username, COALESCE(email, ''), created_at`,
		uuid.New(), username, NormalizeEmail(username), email, normalized, time.Now().UTC())

	user, err := scanSQLUser(row)
	if err != nil {
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// AddLogin writes with a single autocommit statement so concurrent callers
// queue on busy_timeout instead of failing a lock upgrade.
func (r *SQLiteRepository) AddLogin(ctx context.Context, userID uuid.UUID, login ExternalLogin) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO user_logins (login_provider, provider_key, provider_display_name, user_id, created_at)
		SELECT ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM users WHERE id = ?)
		ON CONFLICT (login_provider, provider_key) DO NOTHING`,
		login.LoginProvider, login.ProviderKey, login.ProviderDisplayName, userID, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	var owner uuid.UUID
	err = r.db.QueryRowContext(ctx, `SELECT user_id FROM user_logins WHERE login_provider = ? AND provider_key = ?`,
		login.LoginProvider, login.ProviderKey).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		// nothing inserted and no existing link: the user does not exist
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check login owner: %w", err)
	}
	if owner != userID {
		return ErrLoginAlreadyLinked
	}
	return nil
}

func (r *SQLiteRepository) GetLogins(ctx context.Context, userID uuid.UUID) ([]ExternalLogin, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT login_provider, provider_key, provider_display_name, user_id, created_at
		FROM user_logins WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logins []ExternalLogin
	for rows.Next() {
		var l ExternalLogin
		if err := rows.Scan(&l.LoginProvider, &l.ProviderKey, &l.ProviderDisplayName, &l.UserID, &l.CreatedAt); err != nil {
			return nil, err
		}
		logins = append(logins, l)
	}
	return logins, rows.Err()
}
