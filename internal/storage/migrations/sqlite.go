package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
)

// RunSQLiteMigrations applies all embedded SQLite files in lexical order.
func RunSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	files, err := sqlFiles(SQLiteFS, "sqlite")
	if err != nil {
		return fmt.Errorf("read embedded sqlite migrations: %w", err)
	}

	for _, file := range files {
		data, err := fs.ReadFile(SQLiteFS, "sqlite/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}
