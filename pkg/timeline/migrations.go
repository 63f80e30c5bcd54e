package timeline

import (
	"context"
	"database/sql"

	"github.com/trellishq/trellis/pkg/storage"
)

// Migrations returns the hierarchy store schema migrations.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create timeline_nodes table",
			SQL: `
				CREATE TABLE IF NOT EXISTS timeline_nodes (
					id VARCHAR(64) PRIMARY KEY,
					owner_id VARCHAR(64) NOT NULL,
					kind VARCHAR(32) NOT NULL,
					payload TEXT NOT NULL DEFAULT '{}',
					parent_id VARCHAR(64) REFERENCES timeline_nodes(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_timeline_nodes_owner_id ON timeline_nodes(owner_id);
				CREATE INDEX IF NOT EXISTS idx_timeline_nodes_parent_id ON timeline_nodes(parent_id);
			`,
		},
		{
			Version:     2,
			Description: "Create node_closure table",
			SQL: `
				CREATE TABLE IF NOT EXISTS node_closure (
					ancestor_id VARCHAR(64) NOT NULL REFERENCES timeline_nodes(id) ON DELETE CASCADE,
					descendant_id VARCHAR(64) NOT NULL REFERENCES timeline_nodes(id) ON DELETE CASCADE,
					depth INT NOT NULL,
					PRIMARY KEY (ancestor_id, descendant_id)
				);

				CREATE INDEX IF NOT EXISTS idx_node_closure_descendant ON node_closure(descendant_id);
			`,
		},
	}
}

// RunMigrations applies the hierarchy store schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return storage.RunMigrations(ctx, db, "timeline_migrations", Migrations())
}
