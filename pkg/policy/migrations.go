package policy

import (
	"context"
	"database/sql"

	"github.com/trellishq/trellis/pkg/storage"
)

// Migrations returns the schema migrations for node policies.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create node policies table",
			SQL: `
				CREATE TABLE IF NOT EXISTS node_policies (
					id VARCHAR(64) PRIMARY KEY,
					node_id VARCHAR(64) NOT NULL,
					subject_type VARCHAR(16) NOT NULL,
					subject_id VARCHAR(64) NOT NULL DEFAULT '',
					action VARCHAR(16) NOT NULL DEFAULT 'view',
					effect VARCHAR(16) NOT NULL,
					level VARCHAR(16) NOT NULL DEFAULT '',
					expires_at TIMESTAMP,
					created_by VARCHAR(64) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_node_policies_node ON node_policies(node_id);
				CREATE INDEX IF NOT EXISTS idx_node_policies_subject ON node_policies(subject_type, subject_id);
			`,
		},
		{
			Version:     2,
			Description: "Index expiring policies for the sweeper",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_node_policies_expiry ON node_policies(expires_at);
			`,
		},
	}
}

// RunMigrations applies the policy schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return storage.RunMigrations(ctx, db, "policy_migrations", Migrations())
}
