package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/libris-app/libris/internal/libris/models"

	_ "github.com/jackc/pgx/v4/stdlib"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// InitDB initializes the database connection and schema
func (r *PostgresRepository) InitDB(databaseURI string) error {
	db, err := sql.Open("pgx", databaseURI)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	r.db = db

	if err := r.createTables(); err != nil {
		db.Close()
		return err
	}

	return nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// createTables creates the necessary tables if they don't exist
func (r *PostgresRepository) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(50) NOT NULL DEFAULT 'member',
			ban_until TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			token UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS books (
			id SERIAL PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			author VARCHAR(255) NOT NULL,
			category VARCHAR(100) NOT NULL DEFAULT '',
			isbn VARCHAR(17) NOT NULL DEFAULT '',
			image_url VARCHAR(512) NOT NULL DEFAULT '',
			stock INTEGER NOT NULL DEFAULT 0,
			published_year INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS loans (
			id SERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			book_id INTEGER NOT NULL REFERENCES books(id),
			loan_date TIMESTAMPTZ NOT NULL,
			due_date TIMESTAMPTZ NOT NULL,
			return_date TIMESTAMPTZ,
			is_returned BOOLEAN NOT NULL DEFAULT FALSE,
			days_late INTEGER NOT NULL DEFAULT 0,
			late_fee NUMERIC(10, 2) NOT NULL DEFAULT 0,
			fee_waived BOOLEAN NOT NULL DEFAULT FALSE,
			late_fee_paid BOOLEAN NOT NULL DEFAULT FALSE,
			late_fee_payment_date TIMESTAMPTZ,
			payment_method VARCHAR(50) NOT NULL DEFAULT '',
			reminder_sent BOOLEAN NOT NULL DEFAULT FALSE,
			last_notice_days_late INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id SERIAL PRIMARY KEY,
			book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			rating INTEGER NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS favorites (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			added_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, book_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			email VARCHAR(255) NOT NULL,
			subject VARCHAR(200) NOT NULL,
			body TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'new',
			reply TEXT NOT NULL DEFAULT '',
			replied_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS payment_sessions (
			id UUID PRIMARY KEY,
			loan_id INTEGER UNIQUE NOT NULL REFERENCES loans(id),
			user_id UUID NOT NULL REFERENCES users(id),
			provider VARCHAR(20) NOT NULL,
			amount NUMERIC(10, 2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// User repository methods

func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	err := r.db.QueryRowContext(
		ctx,
		`INSERT INTO users (id, email, name, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING created_at`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Role,
	).Scan(&user.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserExists
	}
	return err
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.scanUser(r.db.QueryRowContext(
		ctx,
		`SELECT id, email, name, password_hash, role, ban_until, created_at
		 FROM users WHERE email = $1`,
		email,
	))
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return r.scanUser(r.db.QueryRowContext(
		ctx,
		`SELECT id, email, name, password_hash, role, ban_until, created_at
		 FROM users WHERE id = $1`,
		id,
	))
}

func (r *PostgresRepository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Role, &user.BanUntil, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (r *PostgresRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, email, name, password_hash, role, ban_until, created_at
		 FROM users ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.BanUntil, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (r *PostgresRepository) UpdateUserProfile(ctx context.Context, id, name, email string) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE users SET name = $1, email = $2 WHERE id = $3",
		name, email, id,
	)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrUserNotFound)
}

func (r *PostgresRepository) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE users SET password_hash = $1 WHERE id = $2",
		passwordHash, id,
	)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrUserNotFound)
}

func (r *PostgresRepository) UpdateUserRole(ctx context.Context, id, role string) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE users SET role = $1 WHERE id = $2",
		role, id,
	)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrUserNotFound)
}

// SetUserBan overwrites ban_until: a new ban replaces an existing one,
// nil clears it.
func (r *PostgresRepository) SetUserBan(ctx context.Context, id string, until *time.Time) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE users SET ban_until = $1 WHERE id = $2",
		until, id,
	)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrUserNotFound)
}

// DeleteUser removes a user without loan history. Loans are the
// library's audit trail, so a user who ever borrowed cannot be
// deleted; tokens, reviews and favorites cascade away with the row.
func (r *PostgresRepository) DeleteUser(ctx context.Context, id string) error {
	var hasLoans bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM loans WHERE user_id = $1)", id,
	).Scan(&hasLoans)
	if err != nil {
		return err
	}
	if hasLoans {
		return ErrUserHasLoans
	}

	res, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrUserNotFound)
}

// Refresh token repository methods

func (r *PostgresRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	_, err := r.db.ExecContext(
		ctx,
		"INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)",
		token.Token, token.UserID, token.ExpiresAt,
	)
	return err
}

func (r *PostgresRepository) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt := &models.RefreshToken{}
	err := r.db.QueryRowContext(
		ctx,
		"SELECT token, user_id, expires_at, created_at FROM refresh_tokens WHERE token = $1",
		token,
	).Scan(&rt.Token, &rt.UserID, &rt.ExpiresAt, &rt.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return rt, nil
}

func (r *PostgresRepository) DeleteRefreshToken(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE token = $1", token)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrTokenNotFound)
}

func (r *PostgresRepository) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id = $1", userID)
	return err
}

func (r *PostgresRepository) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at < $1", now)
	return err
}

// checkAffected maps "no rows touched" onto the given sentinel.
func checkAffected(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
