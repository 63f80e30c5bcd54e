package policy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store handles node policy persistence.
type Store struct {
	db     *sql.DB
	reader *sql.DB
}

// NewStore creates a policy store that reads and writes through the
// same connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, reader: db}
}

// NewStoreWithReader creates a policy store that sends read-only
// queries to a separate (replica) connection.
func NewStoreWithReader(db, reader *sql.DB) *Store {
	return &Store{db: db, reader: reader}
}

// SetPolicies replaces a node's full policy set in one transaction.
// Every policy is validated before any row changes, so a bad entry
// leaves the existing set untouched.
func (s *Store) SetPolicies(ctx context.Context, nodeID string, policies []NodePolicy) ([]NodePolicy, error) {
	now := time.Now().UTC()
	stored := make([]NodePolicy, len(policies))
	for i, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		p.ID = uuid.New().String()
		p.NodeID = nodeID
		p.CreatedAt = now
		stored[i] = p
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM node_policies WHERE node_id = $1`, nodeID); err != nil {
		return nil, fmt.Errorf("failed to clear existing policies: %w", err)
	}

	for i := range stored {
		p := &stored[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_policies (id, node_id, subject_type, subject_id, action, effect, level, expires_at, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, p.ID, p.NodeID, p.SubjectType, p.SubjectID, p.Action, p.Effect, p.Level, p.ExpiresAt, p.CreatedBy, p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to insert policy: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit policy set: %w", err)
	}
	return stored, nil
}

// GetPolicies returns a node's policies, skipping any already expired
// at the given instant. Expired rows are left in place for the sweeper.
func (s *Store) GetPolicies(ctx context.Context, nodeID string, now time.Time) ([]NodePolicy, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, node_id, subject_type, subject_id, action, effect, level, expires_at, created_by, created_at
		FROM node_policies
		WHERE node_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at ASC
	`, nodeID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	return collectPolicies(rows)
}

// GetForNodes returns the unexpired policies for a batch of nodes in a
// single query, keyed by node id. Nodes with no policies are absent
// from the map.
func (s *Store) GetForNodes(ctx context.Context, nodeIDs []string, now time.Time) (map[string][]NodePolicy, error) {
	result := make(map[string][]NodePolicy, len(nodeIDs))
	if len(nodeIDs) == 0 {
		return result, nil
	}

	args := make([]interface{}, 0, len(nodeIDs)+1)
	args = append(args, now)
	for _, id := range nodeIDs {
		args = append(args, id)
	}

	rows, err := s.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, node_id, subject_type, subject_id, action, effect, level, expires_at, created_by, created_at
		FROM node_policies
		WHERE (expires_at IS NULL OR expires_at > $1) AND node_id IN (%s)
		ORDER BY created_at ASC
	`, placeholders(2, len(nodeIDs))), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	policies, err := collectPolicies(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		result[p.NodeID] = append(result[p.NodeID], p)
	}
	return result, nil
}

// DeletePolicy removes a single policy. The node id scopes the delete
// so a policy id can only be removed through the node it belongs to,
// which is the node the caller's ownership was checked against.
func (s *Store) DeletePolicy(ctx context.Context, nodeID, policyID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM node_policies WHERE id = $1 AND node_id = $2`, policyID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, policyID)
	}
	return nil
}

// DeleteForNodes removes every policy attached to the given nodes.
// Called after a subtree delete so orphaned policies never linger.
func (s *Store) DeleteForNodes(ctx context.Context, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	args := make([]interface{}, len(nodeIDs))
	for i, id := range nodeIDs {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM node_policies WHERE node_id IN (%s)`,
		placeholders(1, len(nodeIDs))), args...,
	); err != nil {
		return fmt.Errorf("failed to delete node policies: %w", err)
	}
	return nil
}

// DeleteExpired physically removes policies whose expiry has passed.
// Evaluation already ignores them, this just reclaims the rows.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM node_policies WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired policies: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

func collectPolicies(rows *sql.Rows) ([]NodePolicy, error) {
	var policies []NodePolicy
	for rows.Next() {
		var p NodePolicy
		var expiresAt sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.NodeID, &p.SubjectType, &p.SubjectID, &p.Action,
			&p.Effect, &p.Level, &expiresAt, &p.CreatedBy, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			p.ExpiresAt = &t
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// placeholders builds "$start, $start+1, ..." for IN clauses.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
