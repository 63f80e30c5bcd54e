package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store handles organization and membership persistence.
type Store struct {
	db     *sql.DB
	reader *sql.DB
}

// NewStore creates an org store that reads and writes through the same
// connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, reader: db}
}

// NewStoreWithReader creates an org store that sends read-only queries
// to a separate (replica) connection.
func NewStoreWithReader(db, reader *sql.DB) *Store {
	return &Store{db: db, reader: reader}
}

// CreateOrganization creates an organization, or returns the existing
// one when the (name, type) pair is already taken, so repeated intake
// of the same employer converges on one record. Metadata is optional
// and kept as-is on the existing row when the create is a no-op.
func (s *Store) CreateOrganization(ctx context.Context, name string, orgType OrgType, metadata json.RawMessage) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !orgType.Valid() {
		return nil, fmt.Errorf("%w: unknown org type %q", ErrValidation, orgType)
	}
	if len(metadata) > 0 && !json.Valid(metadata) {
		return nil, fmt.Errorf("%w: metadata must be valid JSON", ErrValidation)
	}

	var metadataArg interface{}
	if len(metadata) > 0 {
		metadataArg = string(metadata)
	}

	now := time.Now().UTC()
	org := &Organization{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      orgType,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The no-op update makes RETURNING yield the existing row on
	// conflict instead of zero rows.
	var stored sql.NullString
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO organizations (id, name, type, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name, type) DO UPDATE SET updated_at = organizations.updated_at
		RETURNING id, metadata, created_at, updated_at
	`, org.ID, name, orgType, metadataArg, now, now).Scan(&org.ID, &stored, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	if stored.Valid {
		org.Metadata = json.RawMessage(stored.String)
	}

	return org, nil
}

// GetOrganization retrieves an organization by id.
func (s *Store) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	org := &Organization{}
	var metadata sql.NullString
	err := s.reader.QueryRowContext(ctx, `
		SELECT id, name, type, metadata, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`, orgID).Scan(&org.ID, &org.Name, &org.Type, &metadata, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	if metadata.Valid {
		org.Metadata = json.RawMessage(metadata.String)
	}
	return org, nil
}

// AddMember adds a user to an organization. Adding an existing member
// updates their role instead of erroring.
func (s *Store) AddMember(ctx context.Context, orgID, userID string, role Role) error {
	if role == "" {
		role = RoleMember
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if err := s.ensureOrgExists(ctx, orgID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO org_members (org_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, orgID, userID, role, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from an organization.
func (s *Store) RemoveMember(ctx context.Context, orgID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM org_members WHERE org_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s is not a member of %s", ErrNotFound, userID, orgID)
	}
	return nil
}

// UpdateMemberRole changes a member's role.
func (s *Store) UpdateMemberRole(ctx context.Context, orgID, userID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE org_members SET role = $1 WHERE org_id = $2 AND user_id = $3`,
		role, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s is not a member of %s", ErrNotFound, userID, orgID)
	}
	return nil
}

// IsMember reports whether a user belongs to an organization.
func (s *Store) IsMember(ctx context.Context, orgID, userID string) (bool, error) {
	var one int
	err := s.reader.QueryRowContext(ctx,
		`SELECT 1 FROM org_members WHERE org_id = $1 AND user_id = $2`,
		orgID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return true, nil
}

// OrgIDsForUser returns the ids of every organization the user belongs
// to. This is the single membership read the access resolver performs
// per decision.
func (s *Store) OrgIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT org_id FROM org_members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user orgs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan org id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListForUser returns the organizations the user belongs to.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Organization, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT o.id, o.name, o.type, o.metadata, o.created_at, o.updated_at
		FROM organizations o
		JOIN org_members m ON m.org_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var org Organization
		var metadata sql.NullString
		if err := rows.Scan(&org.ID, &org.Name, &org.Type, &metadata, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		if metadata.Valid {
			org.Metadata = json.RawMessage(metadata.String)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// ListMembers returns an organization's members.
func (s *Store) ListMembers(ctx context.Context, orgID string) ([]Member, error) {
	if err := s.ensureOrgExists(ctx, orgID); err != nil {
		return nil, err
	}

	rows, err := s.reader.QueryContext(ctx, `
		SELECT org_id, user_id, role, joined_at
		FROM org_members
		WHERE org_id = $1
		ORDER BY joined_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) ensureOrgExists(ctx context.Context, orgID string) error {
	var one int
	err := s.reader.QueryRowContext(ctx,
		`SELECT 1 FROM organizations WHERE id = $1`, orgID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrNotFound, orgID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up organization: %w", err)
	}
	return nil
}
