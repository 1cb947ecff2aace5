// Package storage provides database models and repositories for docmill.
package storage

import "time"

// Status represents the lifecycle state of a document or action.
type Status string

const (
	StatusStart Status = "start"
	StatusEnd   Status = "end"
	StatusError Status = "error"
	StatusAbort Status = "abort"
)

// DirectoryType identifies which managed directory a file lives in.
type DirectoryType string

const (
	DirectoryTypeInbox         DirectoryType = "inbox"
	DirectoryTypeInboxAccepted DirectoryType = "inbox_accepted"
	DirectoryTypeInboxRejected DirectoryType = "inbox_rejected"
)

// ErrorCode classifies why a document or action failed.
type ErrorCode string

const (
	ErrorCodeUnknownExtension ErrorCode = "unknown_extension"
	ErrorCodeDuplicateFile    ErrorCode = "duplicate_file"
	ErrorCodeFileMove         ErrorCode = "file_move"
	ErrorCodeFilePermission   ErrorCode = "file_permission"
	ErrorCodeNoPDFFormat      ErrorCode = "no_pdf_format"
	ErrorCodeConverter        ErrorCode = "converter"
	ErrorCodeOCR              ErrorCode = "ocr"
	ErrorCodePDF2Image        ErrorCode = "pdf2image"
	ErrorCodeExtraction       ErrorCode = "extraction"
	ErrorCodeParser           ErrorCode = "parser"
	ErrorCodeTokenizer        ErrorCode = "tokenizer"
)

// Stage codes stored in actions.action_code and runs.action_code.
const (
	StageInbox       = "inbox"
	StagePDF2Image   = "pdf2image"
	StageOCR         = "ocr"
	StageNonPDFToPDF = "non_pdf_to_pdf"
	StageExtractText = "extract_text"
	StageParseLine   = "parse_line"
	StageParsePage   = "parse_page"
	StageParseWord   = "parse_word"
	StageTokenize    = "tokenize"
)

// StageText returns the human readable description stored in
// actions.action_text.
func StageText(code string) string {
	switch code {
	case StageInbox:
		return "triage inbox file"
	case StagePDF2Image:
		return "render pdf pages to images"
	case StageOCR:
		return "recognise text with ocr"
	case StageNonPDFToPDF:
		return "convert document to pdf"
	case StageExtractText:
		return "extract text and metadata from pdf"
	case StageParseLine:
		return "parse document lines"
	case StageParsePage:
		return "parse document pages"
	case StageParseWord:
		return "parse document words"
	case StageTokenize:
		return "tokenize document text"
	default:
		return code
	}
}

// Language is one row of the language registry. The registry is loaded once
// at startup and treated as read-only for the rest of the process.
type Language struct {
	ID                 int64     `db:"id" json:"id"`
	Active             bool      `db:"active" json:"active"`
	CodeISO6393        string    `db:"code_iso_639_3" json:"code_iso_639_3"`
	CodeConverter      string    `db:"code_converter" json:"code_converter"`
	CodeOCR            string    `db:"code_ocr" json:"code_ocr"`
	CodeTokenizer      string    `db:"code_tokenizer" json:"code_tokenizer"`
	DirectoryNameInbox string    `db:"directory_name_inbox" json:"directory_name_inbox"`
	Name               string    `db:"name" json:"name"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	ModifiedAt         time.Time `db:"modified_at" json:"modified_at"`
}

// Document is the durable record of one accepted or rejected inbox file.
// ActionCodeLast, IDRunLast and Status mirror the most recent finalized
// action so the document's progress can be read without joining actions.
type Document struct {
	ID             int64         `db:"id" json:"id"`
	ActionCodeLast string        `db:"action_code_last" json:"action_code_last"`
	DirectoryName  string        `db:"directory_name" json:"directory_name"`
	DirectoryType  DirectoryType `db:"directory_type" json:"directory_type"`
	ErrorCodeLast  string        `db:"error_code_last" json:"error_code_last"`
	ErrorMsgLast   string        `db:"error_msg_last" json:"error_msg_last"`
	ErrorNo        int           `db:"error_no" json:"error_no"`
	FileName       string        `db:"file_name" json:"file_name"`
	FileSizeBytes  int64         `db:"file_size_bytes" json:"file_size_bytes"`
	IDLanguage     int64         `db:"id_language" json:"id_language"`
	IDRunLast      int64         `db:"id_run_last" json:"id_run_last"`
	NoPDFPages     int           `db:"no_pdf_pages" json:"no_pdf_pages"`
	SHA256         string        `db:"sha256" json:"sha256"`
	Status         Status        `db:"status" json:"status"`

	// Layout statistics persisted by the line parsing stage.
	NoLinesHeader int `db:"no_lines_header" json:"no_lines_header"`
	NoLinesFooter int `db:"no_lines_footer" json:"no_lines_footer"`
	NoListsBullet int `db:"no_lists_bullet" json:"no_lists_bullet"`
	NoListsNumber int `db:"no_lists_number" json:"no_lists_number"`
	NoTables      int `db:"no_tables" json:"no_tables"`

	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	ModifiedAt time.Time `db:"modified_at" json:"modified_at"`
}

// Action is one unit of pending or completed work for a single document at a
// single pipeline stage. A root action is its own parent.
type Action struct {
	ID            int64         `db:"id" json:"id"`
	ActionCode    string        `db:"action_code" json:"action_code"`
	ActionText    string        `db:"action_text" json:"action_text"`
	DirectoryName string        `db:"directory_name" json:"directory_name"`
	DirectoryType DirectoryType `db:"directory_type" json:"directory_type"`
	DurationNS    int64         `db:"duration_ns" json:"duration_ns"`
	ErrorCodeLast string        `db:"error_code_last" json:"error_code_last"`
	ErrorMsgLast  string        `db:"error_msg_last" json:"error_msg_last"`
	ErrorNo       int           `db:"error_no" json:"error_no"`
	FileName      string        `db:"file_name" json:"file_name"`
	FileSizeBytes int64         `db:"file_size_bytes" json:"file_size_bytes"`
	IDDocument    int64         `db:"id_document" json:"id_document"`
	IDParent      int64         `db:"id_parent" json:"id_parent"`
	IDRunLast     int64         `db:"id_run_last" json:"id_run_last"`
	NoChildren    int           `db:"no_children" json:"no_children"`
	NoPDFPages    int           `db:"no_pdf_pages" json:"no_pdf_pages"`
	Status        Status        `db:"status" json:"status"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	ModifiedAt    time.Time     `db:"modified_at" json:"modified_at"`
}

// Run records one pass of one stage: what it set out to process and how the
// documents fared. RunNo is shared by every stage of one process invocation.
type Run struct {
	ID                 int64     `db:"id" json:"id"`
	ActionCode         string    `db:"action_code" json:"action_code"`
	RunNo              int64     `db:"run_no" json:"run_no"`
	Status             Status    `db:"status" json:"status"`
	TotalToBeProcessed int       `db:"total_to_be_processed" json:"total_to_be_processed"`
	TotalOKProcessed   int       `db:"total_ok_processed" json:"total_ok_processed"`
	TotalErroneous     int       `db:"total_erroneous" json:"total_erroneous"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	ModifiedAt         time.Time `db:"modified_at" json:"modified_at"`
}
