package storage

import (
	"context"
	"fmt"
)

// SchemaManager creates the docmill tables for the configured driver.
type SchemaManager struct {
	db     DB
	driver string // "sqlite" or "postgres"
}

// NewSchemaManager creates a new schema manager.
func NewSchemaManager(db DB, driver string) *SchemaManager {
	return &SchemaManager{db: db, driver: driver}
}

// EnsureSchema creates all tables if they do not exist yet.
func (m *SchemaManager) EnsureSchema(ctx context.Context) error {
	for _, stmt := range m.statements() {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (m *SchemaManager) statements() []string {
	idCol := "id BIGSERIAL PRIMARY KEY"
	tsType := "TIMESTAMP"
	if m.driver == "sqlite" || m.driver == "" {
		idCol = "id INTEGER PRIMARY KEY AUTOINCREMENT"
		tsType = "DATETIME"
	}

	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS languages (
				%s,
				active BOOLEAN NOT NULL,
				code_iso_639_3 TEXT NOT NULL UNIQUE,
				code_converter TEXT NOT NULL,
				code_ocr TEXT NOT NULL,
				code_tokenizer TEXT NOT NULL,
				directory_name_inbox TEXT NOT NULL,
				name TEXT NOT NULL,
				created_at %s NOT NULL,
				modified_at %s NOT NULL
			)`, idCol, tsType, tsType),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS runs (
				%s,
				action_code TEXT NOT NULL,
				run_no BIGINT NOT NULL,
				status TEXT NOT NULL,
				total_to_be_processed INTEGER NOT NULL DEFAULT 0,
				total_ok_processed INTEGER NOT NULL DEFAULT 0,
				total_erroneous INTEGER NOT NULL DEFAULT 0,
				created_at %s NOT NULL,
				modified_at %s NOT NULL
			)`, idCol, tsType, tsType),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS documents (
				%s,
				action_code_last TEXT NOT NULL DEFAULT '',
				directory_name TEXT NOT NULL,
				directory_type TEXT NOT NULL,
				error_code_last TEXT NOT NULL DEFAULT '',
				error_msg_last TEXT NOT NULL DEFAULT '',
				error_no INTEGER NOT NULL DEFAULT 0,
				file_name TEXT NOT NULL,
				file_size_bytes BIGINT NOT NULL DEFAULT 0,
				id_language BIGINT NOT NULL REFERENCES languages (id),
				id_run_last BIGINT NOT NULL REFERENCES runs (id),
				no_pdf_pages INTEGER NOT NULL DEFAULT 0,
				sha256 TEXT NOT NULL,
				status TEXT NOT NULL,
				no_lines_header INTEGER NOT NULL DEFAULT 0,
				no_lines_footer INTEGER NOT NULL DEFAULT 0,
				no_lists_bullet INTEGER NOT NULL DEFAULT 0,
				no_lists_number INTEGER NOT NULL DEFAULT 0,
				no_tables INTEGER NOT NULL DEFAULT 0,
				created_at %s NOT NULL,
				modified_at %s NOT NULL
			)`, idCol, tsType, tsType),
		// id_parent carries no FK constraint: a root action is its own
		// parent and is inserted before its id is known, so the column
		// briefly holds 0. Chain deletion rides the id_document cascade.
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS actions (
				%s,
				action_code TEXT NOT NULL,
				action_text TEXT NOT NULL,
				directory_name TEXT NOT NULL,
				directory_type TEXT NOT NULL,
				duration_ns BIGINT NOT NULL DEFAULT 0,
				error_code_last TEXT NOT NULL DEFAULT '',
				error_msg_last TEXT NOT NULL DEFAULT '',
				error_no INTEGER NOT NULL DEFAULT 0,
				file_name TEXT NOT NULL,
				file_size_bytes BIGINT NOT NULL DEFAULT 0,
				id_document BIGINT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
				id_parent BIGINT NOT NULL,
				id_run_last BIGINT NOT NULL REFERENCES runs (id),
				no_children INTEGER NOT NULL DEFAULT 0,
				no_pdf_pages INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				created_at %s NOT NULL,
				modified_at %s NOT NULL
			)`, idCol, tsType, tsType),
		`CREATE INDEX IF NOT EXISTS idx_documents_sha256 ON documents (sha256)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_code_status ON actions (action_code, status)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_document ON actions (id_document)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_run_no ON runs (run_no)`,
	}
}
