package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// DB represents a database connection interface. Both *sql.DB and *sql.Tx
// satisfy it, so repositories work inside and outside transactions.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// LanguageRepository handles language registry rows.
type LanguageRepository struct {
	db DB
}

// NewLanguageRepository creates a new language repository.
func NewLanguageRepository(db DB) *LanguageRepository {
	return &LanguageRepository{db: db}
}

// Create inserts a new language and fills in its assigned ID.
func (r *LanguageRepository) Create(ctx context.Context, lang *Language) error {
	lang.CreatedAt = time.Now()
	lang.ModifiedAt = lang.CreatedAt

	query := `
		INSERT INTO languages (active, code_iso_639_3, code_converter, code_ocr,
			code_tokenizer, directory_name_inbox, name, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		lang.Active, lang.CodeISO6393, lang.CodeConverter, lang.CodeOCR,
		lang.CodeTokenizer, lang.DirectoryNameInbox, lang.Name,
		lang.CreatedAt, lang.ModifiedAt,
	).Scan(&lang.ID)
}

// GetByISO retrieves a language by its ISO 639-3 code.
func (r *LanguageRepository) GetByISO(ctx context.Context, code string) (*Language, error) {
	query := `
		SELECT id, active, code_iso_639_3, code_converter, code_ocr, code_tokenizer,
			directory_name_inbox, name, created_at, modified_at
		FROM languages WHERE code_iso_639_3 = $1
	`
	lang := &Language{}
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&lang.ID, &lang.Active, &lang.CodeISO6393, &lang.CodeConverter, &lang.CodeOCR,
		&lang.CodeTokenizer, &lang.DirectoryNameInbox, &lang.Name,
		&lang.CreatedAt, &lang.ModifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lang, err
}

// ListActive lists all active languages ordered by ISO code.
func (r *LanguageRepository) ListActive(ctx context.Context) ([]*Language, error) {
	query := `
		SELECT id, active, code_iso_639_3, code_converter, code_ocr, code_tokenizer,
			directory_name_inbox, name, created_at, modified_at
		FROM languages
		WHERE active
		ORDER BY code_iso_639_3
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var languages []*Language
	for rows.Next() {
		lang := &Language{}
		if err := rows.Scan(
			&lang.ID, &lang.Active, &lang.CodeISO6393, &lang.CodeConverter, &lang.CodeOCR,
			&lang.CodeTokenizer, &lang.DirectoryNameInbox, &lang.Name,
			&lang.CreatedAt, &lang.ModifiedAt,
		); err != nil {
			return nil, err
		}
		languages = append(languages, lang)
	}
	return languages, rows.Err()
}

// DocumentRepository handles document rows.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document and fills in its assigned ID.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	doc.CreatedAt = time.Now()
	doc.ModifiedAt = doc.CreatedAt

	query := `
		INSERT INTO documents (action_code_last, directory_name, directory_type,
			error_code_last, error_msg_last, error_no, file_name, file_size_bytes,
			id_language, id_run_last, no_pdf_pages, sha256, status,
			no_lines_header, no_lines_footer, no_lists_bullet, no_lists_number, no_tables,
			created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		doc.ActionCodeLast, doc.DirectoryName, doc.DirectoryType,
		doc.ErrorCodeLast, doc.ErrorMsgLast, doc.ErrorNo, doc.FileName, doc.FileSizeBytes,
		doc.IDLanguage, doc.IDRunLast, doc.NoPDFPages, doc.SHA256, doc.Status,
		doc.NoLinesHeader, doc.NoLinesFooter, doc.NoListsBullet, doc.NoListsNumber, doc.NoTables,
		doc.CreatedAt, doc.ModifiedAt,
	).Scan(&doc.ID)
}

// GetByID retrieves a document by ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*Document, error) {
	query := `
		SELECT id, action_code_last, directory_name, directory_type,
			error_code_last, error_msg_last, error_no, file_name, file_size_bytes,
			id_language, id_run_last, no_pdf_pages, sha256, status,
			no_lines_header, no_lines_footer, no_lists_bullet, no_lists_number, no_tables,
			created_at, modified_at
		FROM documents WHERE id = $1
	`
	doc := &Document{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.ActionCodeLast, &doc.DirectoryName, &doc.DirectoryType,
		&doc.ErrorCodeLast, &doc.ErrorMsgLast, &doc.ErrorNo, &doc.FileName, &doc.FileSizeBytes,
		&doc.IDLanguage, &doc.IDRunLast, &doc.NoPDFPages, &doc.SHA256, &doc.Status,
		&doc.NoLinesHeader, &doc.NoLinesFooter, &doc.NoListsBullet, &doc.NoListsNumber, &doc.NoTables,
		&doc.CreatedAt, &doc.ModifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// Update persists all mutable document fields.
func (r *DocumentRepository) Update(ctx context.Context, doc *Document) error {
	doc.ModifiedAt = time.Now()

	query := `
		UPDATE documents SET
			action_code_last = $1, directory_name = $2, directory_type = $3,
			error_code_last = $4, error_msg_last = $5, error_no = $6,
			file_name = $7, file_size_bytes = $8, id_run_last = $9, no_pdf_pages = $10,
			status = $11, no_lines_header = $12, no_lines_footer = $13,
			no_lists_bullet = $14, no_lists_number = $15, no_tables = $16,
			modified_at = $17
		WHERE id = $18
	`
	result, err := r.db.ExecContext(ctx, query,
		doc.ActionCodeLast, doc.DirectoryName, doc.DirectoryType,
		doc.ErrorCodeLast, doc.ErrorMsgLast, doc.ErrorNo,
		doc.FileName, doc.FileSizeBytes, doc.IDRunLast, doc.NoPDFPages,
		doc.Status, doc.NoLinesHeader, doc.NoLinesFooter,
		doc.NoListsBullet, doc.NoListsNumber, doc.NoTables,
		doc.ModifiedAt, doc.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// FindBySHA256 retrieves the most recent document with the given content hash.
// Used for duplicate detection during triage.
func (r *DocumentRepository) FindBySHA256(ctx context.Context, sha256 string) (*Document, error) {
	query := `
		SELECT id, action_code_last, directory_name, directory_type,
			error_code_last, error_msg_last, error_no, file_name, file_size_bytes,
			id_language, id_run_last, no_pdf_pages, sha256, status,
			no_lines_header, no_lines_footer, no_lists_bullet, no_lists_number, no_tables,
			created_at, modified_at
		FROM documents
		WHERE sha256 = $1 AND directory_type = $2
		ORDER BY id DESC
		LIMIT 1
	`
	doc := &Document{}
	err := r.db.QueryRowContext(ctx, query, sha256, DirectoryTypeInboxAccepted).Scan(
		&doc.ID, &doc.ActionCodeLast, &doc.DirectoryName, &doc.DirectoryType,
		&doc.ErrorCodeLast, &doc.ErrorMsgLast, &doc.ErrorNo, &doc.FileName, &doc.FileSizeBytes,
		&doc.IDLanguage, &doc.IDRunLast, &doc.NoPDFPages, &doc.SHA256, &doc.Status,
		&doc.NoLinesHeader, &doc.NoLinesFooter, &doc.NoListsBullet, &doc.NoListsNumber, &doc.NoTables,
		&doc.CreatedAt, &doc.ModifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// ActionRepository handles action rows.
type ActionRepository struct {
	db DB
}

// NewActionRepository creates a new action repository.
func NewActionRepository(db DB) *ActionRepository {
	return &ActionRepository{db: db}
}

// Create inserts a new action and fills in its assigned ID. An action created
// with IDParent zero is a root action and becomes its own parent.
func (r *ActionRepository) Create(ctx context.Context, action *Action) error {
	action.CreatedAt = time.Now()
	action.ModifiedAt = action.CreatedAt

	query := `
		INSERT INTO actions (action_code, action_text, directory_name, directory_type,
			duration_ns, error_code_last, error_msg_last, error_no, file_name,
			file_size_bytes, id_document, id_parent, id_run_last, no_children,
			no_pdf_pages, status, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		action.ActionCode, action.ActionText, action.DirectoryName, action.DirectoryType,
		action.DurationNS, action.ErrorCodeLast, action.ErrorMsgLast, action.ErrorNo,
		action.FileName, action.FileSizeBytes, action.IDDocument, action.IDParent,
		action.IDRunLast, action.NoChildren, action.NoPDFPages, action.Status,
		action.CreatedAt, action.ModifiedAt,
	).Scan(&action.ID)
	if err != nil {
		return err
	}

	if action.IDParent == 0 {
		action.IDParent = action.ID
		_, err = r.db.ExecContext(ctx,
			`UPDATE actions SET id_parent = $1 WHERE id = $2`, action.ID, action.ID)
	}
	return err
}

// GetByID retrieves an action by ID.
func (r *ActionRepository) GetByID(ctx context.Context, id int64) (*Action, error) {
	query := `
		SELECT id, action_code, action_text, directory_name, directory_type,
			duration_ns, error_code_last, error_msg_last, error_no, file_name,
			file_size_bytes, id_document, id_parent, id_run_last, no_children,
			no_pdf_pages, status, created_at, modified_at
		FROM actions WHERE id = $1
	`
	action := &Action{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&action.ID, &action.ActionCode, &action.ActionText, &action.DirectoryName,
		&action.DirectoryType, &action.DurationNS, &action.ErrorCodeLast, &action.ErrorMsgLast,
		&action.ErrorNo, &action.FileName, &action.FileSizeBytes, &action.IDDocument,
		&action.IDParent, &action.IDRunLast, &action.NoChildren, &action.NoPDFPages,
		&action.Status, &action.CreatedAt, &action.ModifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return action, err
}

// Update persists all mutable action fields.
func (r *ActionRepository) Update(ctx context.Context, action *Action) error {
	action.ModifiedAt = time.Now()

	query := `
		UPDATE actions SET
			action_text = $1, directory_name = $2, directory_type = $3,
			duration_ns = $4, error_code_last = $5, error_msg_last = $6, error_no = $7,
			file_name = $8, file_size_bytes = $9, id_run_last = $10, no_children = $11,
			no_pdf_pages = $12, status = $13, modified_at = $14
		WHERE id = $15
	`
	result, err := r.db.ExecContext(ctx, query,
		action.ActionText, action.DirectoryName, action.DirectoryType,
		action.DurationNS, action.ErrorCodeLast, action.ErrorMsgLast, action.ErrorNo,
		action.FileName, action.FileSizeBytes, action.IDRunLast, action.NoChildren,
		action.NoPDFPages, action.Status, action.ModifiedAt, action.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SelectPending returns the full snapshot of actions eligible for one stage
// pass: those still open or previously failed, oldest first.
func (r *ActionRepository) SelectPending(ctx context.Context, actionCode string) ([]*Action, error) {
	query := `
		SELECT id, action_code, action_text, directory_name, directory_type,
			duration_ns, error_code_last, error_msg_last, error_no, file_name,
			file_size_bytes, id_document, id_parent, id_run_last, no_children,
			no_pdf_pages, status, created_at, modified_at
		FROM actions
		WHERE action_code = $1 AND status IN ('start', 'error')
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, actionCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*Action
	for rows.Next() {
		action := &Action{}
		if err := rows.Scan(
			&action.ID, &action.ActionCode, &action.ActionText, &action.DirectoryName,
			&action.DirectoryType, &action.DurationNS, &action.ErrorCodeLast, &action.ErrorMsgLast,
			&action.ErrorNo, &action.FileName, &action.FileSizeBytes, &action.IDDocument,
			&action.IDParent, &action.IDRunLast, &action.NoChildren, &action.NoPDFPages,
			&action.Status, &action.CreatedAt, &action.ModifiedAt,
		); err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// RunRepository handles run rows.
type RunRepository struct {
	db DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run and fills in its assigned ID.
func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	run.CreatedAt = time.Now()
	run.ModifiedAt = run.CreatedAt

	query := `
		INSERT INTO runs (action_code, run_no, status, total_to_be_processed,
			total_ok_processed, total_erroneous, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		run.ActionCode, run.RunNo, run.Status, run.TotalToBeProcessed,
		run.TotalOKProcessed, run.TotalErroneous, run.CreatedAt, run.ModifiedAt,
	).Scan(&run.ID)
}

// Update persists the run's status and totals.
func (r *RunRepository) Update(ctx context.Context, run *Run) error {
	run.ModifiedAt = time.Now()

	query := `
		UPDATE runs SET
			status = $1, total_to_be_processed = $2, total_ok_processed = $3,
			total_erroneous = $4, modified_at = $5
		WHERE id = $6
	`
	result, err := r.db.ExecContext(ctx, query,
		run.Status, run.TotalToBeProcessed, run.TotalOKProcessed,
		run.TotalErroneous, run.ModifiedAt, run.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// NextRunNo returns the run number the next process invocation should use.
func (r *RunRepository) NextRunNo(ctx context.Context) (int64, error) {
	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(run_no) FROM runs`).Scan(&last)
	if err != nil {
		return 0, err
	}
	return last.Int64 + 1, nil
}

// Repositories bundles all repositories together.
type Repositories struct {
	Languages *LanguageRepository
	Documents *DocumentRepository
	Actions   *ActionRepository
	Runs      *RunRepository
}

// NewRepositories creates all repositories with the given database connection.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Languages: NewLanguageRepository(db),
		Documents: NewDocumentRepository(db),
		Actions:   NewActionRepository(db),
		Runs:      NewRunRepository(db),
	}
}
