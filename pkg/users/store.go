// Package users keeps the minimal user records the timeline and
// policy layers reference. Identity itself lives in an external auth
// provider; users are upserted here by the provider's external id.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trellishq/trellis/pkg/storage"
)

// User is a profile owner or policy subject.
type User struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

var (
	// ErrNotFound is returned when a referenced user does not exist
	ErrNotFound = errors.New("user not found")

	// ErrValidation is returned when user input is malformed
	ErrValidation = errors.New("invalid user input")
)

// IsNotFound checks if the error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Migrations returns the schema migrations for users.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(64) PRIMARY KEY,
					external_id VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL DEFAULT '',
					email VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
	}
}

// RunMigrations applies the user schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return storage.RunMigrations(ctx, db, "users_migrations", Migrations())
}

// Store handles user persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert creates a user keyed by external id, or refreshes name and
// email on the existing record. Repeated intake of the same identity
// converges on one row.
func (s *Store) Upsert(ctx context.Context, externalID, name, email string) (*User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: external id is required", ErrValidation)
	}

	now := time.Now().UTC()
	user := &User{
		ID:         uuid.New().String(),
		ExternalID: externalID,
		Name:       name,
		Email:      email,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, external_id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`, user.ID, externalID, name, email, now, now).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

// Get retrieves a user by internal id.
func (s *Store) Get(ctx context.Context, userID string) (*User, error) {
	return s.getBy(ctx, "id", userID)
}

// GetByExternalID retrieves a user by the auth provider's id.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*User, error) {
	return s.getBy(ctx, "external_id", externalID)
}

func (s *Store) getBy(ctx context.Context, column, value string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, external_id, name, email, created_at, updated_at
		FROM users
		WHERE %s = $1
	`, column), value).Scan(
		&user.ID, &user.ExternalID, &user.Name, &user.Email,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
