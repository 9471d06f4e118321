package db

import (
	"context"
	"fmt"
)

// SchemaChecker verifies at startup that the tables the service writes to
// exist. Schema creation and data loading belong to the setup tooling, so a
// missing table means the environment was never initialized.
type SchemaChecker struct {
	db *DB
}

func NewSchemaChecker(db *DB) *SchemaChecker {
	return &SchemaChecker{db: db}
}

// requiredTables are the relations the tracker reads or writes at runtime.
var requiredTables = []string{
	"trains",
	"train_movements",
	"fares",
}

// Check confirms every required table is present in the metro schema.
func (sc *SchemaChecker) Check(ctx context.Context) error {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'metro' AND table_name = $1
		)
	`

	for _, table := range requiredTables {
		var exists bool
		if err := sc.db.conn.QueryRowContext(ctx, query, table).Scan(&exists); err != nil {
			return fmt.Errorf("checking table metro.%s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("table metro.%s does not exist, run the setup tooling first", table)
		}
		sc.db.logger.Debug("Schema check passed", "table", "metro."+table)
	}

	sc.db.logger.Info("Database schema verified", "tables", len(requiredTables))
	return nil
}
