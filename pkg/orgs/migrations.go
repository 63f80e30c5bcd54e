package orgs

import (
	"context"
	"database/sql"

	"github.com/trellishq/trellis/pkg/storage"
)

// Migrations returns the schema migrations for organizations and
// memberships.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					type VARCHAR(32) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE (name, type)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create organization members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_members (
					org_id VARCHAR(64) NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id VARCHAR(64) NOT NULL,
					role VARCHAR(32) NOT NULL DEFAULT 'member',
					joined_at TIMESTAMP NOT NULL,
					PRIMARY KEY (org_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_org_members_user ON org_members(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Add metadata column to organizations",
			SQL: `
				ALTER TABLE organizations ADD COLUMN metadata TEXT;
			`,
		},
	}
}

// RunMigrations applies the org schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return storage.RunMigrations(ctx, db, "orgs_migrations", Migrations())
}
