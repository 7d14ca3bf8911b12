package identity

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/postgres.sql
var postgresSchema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new PostgreSQL identity repository
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the users and user_logins tables if they do not exist
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply identity schema: %w", err)
	}
	return nil
}

const selectUser = `SELECT u.id, u.username, COALESCE(u.email, ''), u.created_at FROM users u`

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (r *PostgresRepository) FindByLogin(ctx context.Context, provider, providerKey string) (User, error) {
	row := r.db.QueryRow(ctx, selectUser+`
		JOIN user_logins l ON l.user_id = u.id
		WHERE l.login_provider = $1 AND l.provider_key = $2`,
		provider, providerKey)
	return scanUser(row)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRow(ctx, selectUser+` WHERE u.normalized_email = $1`, NormalizeEmail(email))
	return scanUser(row)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := r.db.QueryRow(ctx, selectUser+` WHERE u.id = $1`, id)
	return scanUser(row)
}

// CreateUser inserts a user; when the email is already taken the existing row
// is returned instead, so concurrent callers converge on one user.
func (r *PostgresRepository) CreateUser(ctx context.Context, username, email string) (User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return User{}, fmt.Errorf("email is required")
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO users (id, username, normalized_username, email, normalized_email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (normalized_email) DO UPDATE SET normalized_email = EXCLUDED.normalized_email
		RETURNING id, username, COALESCE(email, ''), created_at`,
		uuid.New(), username, NormalizeEmail(username), email, normalized, time.Now().UTC())

	user, err := scanUser(row)
	if err != nil {
		slog.Error("Failed to create user", "email", email, "err", err)
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// AddLogin links an external login; linking a pair the user already owns is a no-op
func (r *PostgresRepository) AddLogin(ctx context.Context, userID uuid.UUID, login ExternalLogin) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO user_logins (login_provider, provider_key, provider_display_name, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (login_provider, provider_key) DO NOTHING`,
		login.LoginProvider, login.ProviderKey, login.ProviderDisplayName, userID, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrUserNotFound
		}
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var owner uuid.UUID
	err = r.db.QueryRow(ctx, `SELECT user_id FROM user_logins WHERE login_provider = $1 AND provider_key = $2`,
		login.LoginProvider, login.ProviderKey).Scan(&owner)
	if err != nil {
		return fmt.Errorf("failed to check login owner: %w", err)
	}
	if owner != userID {
		return ErrLoginAlreadyLinked
	}
	return nil
}

func (r *PostgresRepository) GetLogins(ctx context.Context, userID uuid.UUID) ([]ExternalLogin, error) {
	rows, err := r.db.Query(ctx, `
		SELECT login_provider, provider_key, provider_display_name, user_id, created_at
		FROM user_logins WHERE user_id = $1 ORDER BY created_at`, userID)
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
