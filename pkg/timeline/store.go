// Package timeline implements the career timeline hierarchy store: node
// records plus a fully materialized ancestor/descendant closure index,
// so hierarchy reads never recurse.
package timeline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store handles timeline node persistence and closure maintenance.
// Writes always go to the primary; reads go to the reader handle,
// which may be a replica.
type Store struct {
	db     *sql.DB
	reader *sql.DB
}

// NewStore creates a hierarchy store that reads and writes through the
// same connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, reader: db}
}

// NewStoreWithReader creates a hierarchy store that sends read-only
// queries to a separate (replica) connection.
func NewStoreWithReader(db, reader *sql.DB) *Store {
	return &Store{db: db, reader: reader}
}

// CreateNode inserts a node and its closure entries in one transaction.
// A caller-supplied id makes the call idempotent: re-submitting an
// existing id updates the payload instead of erroring, which is how
// chat-driven intake retries safely. Returns ErrInvalidParent when the
// parent is missing or owned by another user.
func (s *Store) CreateNode(ctx context.Context, node *Node) error {
	if node.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if !node.Kind.Valid() {
		return fmt.Errorf("%w: unknown node kind %q", ErrValidation, node.Kind)
	}
	if _, err := DecodePayload(node.Kind, node.Payload); err != nil {
		return err
	}
	if len(node.Payload) == 0 {
		node.Payload = []byte(`{}`)
	}
	if node.ID == "" {
		node.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Idempotent re-submission of an existing id is an update. The
	// stored creation time and parent carry over to the returned node.
	var (
		existingOwner   string
		existingParent  *string
		existingCreated time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT owner_id, parent_id, created_at FROM timeline_nodes WHERE id = $1`, node.ID,
	).Scan(&existingOwner, &existingParent, &existingCreated)
	switch {
	case err == nil:
		if existingOwner != node.OwnerID {
			return fmt.Errorf("%w: node id already exists for another user", ErrValidation)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE timeline_nodes SET kind = $1, payload = $2, updated_at = $3 WHERE id = $4`,
			node.Kind, string(node.Payload), now, node.ID,
		); err != nil {
			return fmt.Errorf("failed to update node: %w", err)
		}
		node.ParentID = existingParent
		node.CreatedAt = existingCreated
		node.UpdatedAt = now
		return tx.Commit()
	case err != sql.ErrNoRows:
		return fmt.Errorf("failed to check node id: %w", err)
	}

	if node.ParentID != nil {
		var parentOwner string
		err := tx.QueryRowContext(ctx, `SELECT owner_id FROM timeline_nodes WHERE id = $1`, *node.ParentID).Scan(&parentOwner)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: parent %s does not exist", ErrInvalidParent, *node.ParentID)
		}
		if err != nil {
			return fmt.Errorf("failed to look up parent: %w", err)
		}
		if parentOwner != node.OwnerID {
			return fmt.Errorf("%w: parent belongs to another user", ErrInvalidParent)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO timeline_nodes (id, owner_id, kind, payload, parent_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		node.ID, node.OwnerID, node.Kind, string(node.Payload), node.ParentID, now, now,
	); err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}

	// Self entry, then one entry per ancestor of the parent.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO node_closure (ancestor_id, descendant_id, depth) VALUES ($1, $1, 0)`,
		node.ID,
	); err != nil {
		return fmt.Errorf("failed to insert closure self entry: %w", err)
	}
	if node.ParentID != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO node_closure (ancestor_id, descendant_id, depth)
			 SELECT ancestor_id, $1, depth + 1 FROM node_closure WHERE descendant_id = $2`,
			node.ID, *node.ParentID,
		); err != nil {
			return fmt.Errorf("failed to insert closure entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit node creation: %w", err)
	}

	node.CreatedAt = now
	node.UpdatedAt = now
	return nil
}

// MoveNode re-parents a node (nil means promote to root). All closure
// rows crossing the subtree boundary are removed and rebuilt against
// the new ancestor chain, for every node in the subtree, in a single
// transaction. Returns ErrCycleDetected when the new parent lies
// inside the moved subtree (including the node itself).
func (s *Store) MoveNode(ctx context.Context, nodeID string, newParentID *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerID string
	err = tx.QueryRowContext(ctx, `SELECT owner_id FROM timeline_nodes WHERE id = $1`, nodeID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up node: %w", err)
	}

	if newParentID != nil {
		var parentOwner string
		err := tx.QueryRowContext(ctx, `SELECT owner_id FROM timeline_nodes WHERE id = $1`, *newParentID).Scan(&parentOwner)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: parent %s does not exist", ErrInvalidParent, *newParentID)
		}
		if err != nil {
			return fmt.Errorf("failed to look up parent: %w", err)
		}
		if parentOwner != ownerID {
			return fmt.Errorf("%w: parent belongs to another user", ErrInvalidParent)
		}

		// The self entry makes this also reject nodeID == newParentID.
		var one int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM node_closure WHERE ancestor_id = $1 AND descendant_id = $2`,
			nodeID, *newParentID,
		).Scan(&one)
		if err == nil {
			return fmt.Errorf("%w: %s is inside the subtree of %s", ErrCycleDetected, *newParentID, nodeID)
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check for cycle: %w", err)
		}
	}

	// Drop every closure row whose descendant is in the moved subtree
	// and whose ancestor is outside it. Subtree-internal rows stay.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM node_closure
		WHERE descendant_id IN (SELECT descendant_id FROM node_closure WHERE ancestor_id = $1)
		  AND ancestor_id NOT IN (SELECT descendant_id FROM node_closure WHERE ancestor_id = $1)
	`, nodeID); err != nil {
		return fmt.Errorf("failed to detach subtree closure: %w", err)
	}

	// Cross the new parent's ancestor chain (self included) with the
	// moved subtree (self included).
	if newParentID != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_closure (ancestor_id, descendant_id, depth)
			SELECT a.ancestor_id, d.descendant_id, a.depth + d.depth + 1
			FROM node_closure a, node_closure d
			WHERE a.descendant_id = $1 AND d.ancestor_id = $2
		`, *newParentID, nodeID); err != nil {
			return fmt.Errorf("failed to attach subtree closure: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE timeline_nodes SET parent_id = $1, updated_at = $2 WHERE id = $3`,
		newParentID, time.Now().UTC(), nodeID,
	); err != nil {
		return fmt.Errorf("failed to update parent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit move: %w", err)
	}
	return nil
}

// DeleteNode removes a node, all of its descendants and every closure
// row referencing them, atomically. It returns the deleted node ids so
// the caller can cascade the policy cleanup.
func (s *Store) DeleteNode(ctx context.Context, nodeID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT descendant_id FROM node_closure WHERE ancestor_id = $1`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect subtree: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan subtree id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtree: %w", err)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	in := placeholders(1, len(ids))

	// Rows with an ancestor inside the subtree always have their
	// descendant inside it too, so one delete covers both directions.
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM node_closure WHERE descendant_id IN (%s)`, in), args...,
	); err != nil {
		return nil, fmt.Errorf("failed to delete closure rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM timeline_nodes WHERE id IN (%s)`, in), args...,
	); err != nil {
		return nil, fmt.Errorf("failed to delete nodes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return ids, nil
}

// GetNode retrieves a single node by id.
func (s *Store) GetNode(ctx context.Context, nodeID string) (*Node, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, payload, parent_id, created_at, updated_at
		FROM timeline_nodes
		WHERE id = $1
	`, nodeID)

	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return node, nil
}

// GetNodes returns the nodes with the given ids, preserving the input
// order. Ids that do not exist are silently skipped; callers decide
// whether a missing node is an error.
func (s *Store) GetNodes(ctx context.Context, nodeIDs []string) ([]Node, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(nodeIDs))
	for i, id := range nodeIDs {
		args[i] = id
	}

	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, owner_id, kind, payload, parent_id, created_at, updated_at
		FROM timeline_nodes
		WHERE id IN (`+placeholders(1, len(nodeIDs))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	fetched, err := collectNodes(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Node, len(fetched))
	for _, n := range fetched {
		byID[n.ID] = n
	}
	ordered := make([]Node, 0, len(fetched))
	for _, id := range nodeIDs {
		if n, ok := byID[id]; ok {
			ordered = append(ordered, n)
		}
	}
	return ordered, nil
}

// GetAncestors returns the node's ancestor chain, nearest first. The
// chain is empty for root nodes.
func (s *Store) GetAncestors(ctx context.Context, nodeID string) ([]Node, error) {
	if err := s.ensureExists(ctx, nodeID); err != nil {
		return nil, err
	}

	rows, err := s.reader.QueryContext(ctx, `
		SELECT n.id, n.owner_id, n.kind, n.payload, n.parent_id, n.created_at, n.updated_at
		FROM timeline_nodes n
		JOIN node_closure c ON c.ancestor_id = n.id
		WHERE c.descendant_id = $1 AND c.depth > 0
		ORDER BY c.depth ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ancestors: %w", err)
	}
	defer rows.Close()

	return collectNodes(rows)
}

// GetDescendants returns the node's subtree. The node itself is
// included when includeSelf is true.
func (s *Store) GetDescendants(ctx context.Context, nodeID string, includeSelf bool) ([]Node, error) {
	if err := s.ensureExists(ctx, nodeID); err != nil {
		return nil, err
	}

	minDepth := 1
	if includeSelf {
		minDepth = 0
	}

	rows, err := s.reader.QueryContext(ctx, `
		SELECT n.id, n.owner_id, n.kind, n.payload, n.parent_id, n.created_at, n.updated_at
		FROM timeline_nodes n
		JOIN node_closure c ON c.descendant_id = n.id
		WHERE c.ancestor_id = $1 AND c.depth >= $2
		ORDER BY c.depth ASC, n.created_at ASC
	`, nodeID, minDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to query descendants: %w", err)
	}
	defer rows.Close()

	return collectNodes(rows)
}

// GetChildren returns the depth-1 descendants only.
func (s *Store) GetChildren(ctx context.Context, nodeID string) ([]Node, error) {
	if err := s.ensureExists(ctx, nodeID); err != nil {
		return nil, err
	}

	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, owner_id, kind, payload, parent_id, created_at, updated_at
		FROM timeline_nodes
		WHERE parent_id = $1
		ORDER BY created_at ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	return collectNodes(rows)
}

// ListByOwner returns every node belonging to a user.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Node, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, owner_id, kind, payload, parent_id, created_at, updated_at
		FROM timeline_nodes
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	return collectNodes(rows)
}

func (s *Store) ensureExists(ctx context.Context, nodeID string) error {
	var one int
	err := s.reader.QueryRowContext(ctx,
		`SELECT 1 FROM timeline_nodes WHERE id = $1`, nodeID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up node: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(scanner rowScanner) (*Node, error) {
	var node Node
	var payload string
	var parentID sql.NullString

	err := scanner.Scan(
		&node.ID,
		&node.OwnerID,
		&node.Kind,
		&payload,
		&parentID,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	node.Payload = []byte(payload)
	if parentID.Valid {
		pid := parentID.String
		node.ParentID = &pid
	}
	return &node, nil
}

func collectNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

// placeholders builds "$start, $start+1, ..." for IN clauses.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
