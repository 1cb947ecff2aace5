package storage

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, NewSchemaManager(db, "sqlite").EnsureSchema(context.Background()))
	return db
}

func seedLanguage(t *testing.T, repos *Repositories) *Language {
	t.Helper()
	lang := &Language{
		Active:             true,
		CodeISO6393:        "eng",
		CodeConverter:      "en",
		CodeOCR:            "eng",
		CodeTokenizer:      "en_core_web_sm",
		DirectoryNameInbox: "",
		Name:               "English",
	}
	require.NoError(t, repos.Languages.Create(context.Background(), lang))
	return lang
}

func seedRun(t *testing.T, repos *Repositories, actionCode string) *Run {
	t.Helper()
	run := &Run{ActionCode: actionCode, RunNo: 1, Status: StatusStart}
	require.NoError(t, repos.Runs.Create(context.Background(), run))
	return run
}

func seedDocument(t *testing.T, repos *Repositories, lang *Language, run *Run, sha string) *Document {
	t.Helper()
	doc := &Document{
		ActionCodeLast: "inbox",
		DirectoryName:  "/data/inbox_accepted",
		DirectoryType:  DirectoryTypeInboxAccepted,
		FileName:       "report_1.pdf",
		FileSizeBytes:  1024,
		IDLanguage:     lang.ID,
		IDRunLast:      run.ID,
		SHA256:         sha,
		Status:         StatusStart,
	}
	require.NoError(t, repos.Documents.Create(context.Background(), doc))
	return doc
}

func TestLanguageRepository(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(newTestDB(t))

	lang := seedLanguage(t, repos)
	assert.Positive(t, lang.ID)

	inactive := &Language{
		Active:             false,
		CodeISO6393:        "fra",
		CodeConverter:      "fr",
		CodeOCR:            "fra",
		CodeTokenizer:      "fr_core_news_sm",
		DirectoryNameInbox: "inbox_fra",
		Name:               "French",
	}
	require.NoError(t, repos.Languages.Create(ctx, inactive))

	got, err := repos.Languages.GetByISO(ctx, "eng")
	require.NoError(t, err)
	assert.Equal(t, lang.ID, got.ID)
	assert.Equal(t, "English", got.Name)

	_, err = repos.Languages.GetByISO(ctx, "deu")
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := repos.Languages.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "eng", active[0].CodeISO6393)
}

func TestDocumentRepository(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(newTestDB(t))
	lang := seedLanguage(t, repos)
	run := seedRun(t, repos, "inbox")

	doc := seedDocument(t, repos, lang, run, "abc123")
	assert.Positive(t, doc.ID)

	doc.Status = StatusEnd
	doc.ActionCodeLast = "extract_text"
	doc.NoLinesHeader = 2
	doc.NoTables = 1
	require.NoError(t, repos.Documents.Update(ctx, doc))

	got, err := repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnd, got.Status)
	assert.Equal(t, "extract_text", got.ActionCodeLast)
	assert.Equal(t, 2, got.NoLinesHeader)
	assert.Equal(t, 1, got.NoTables)

	_, err = repos.Documents.GetByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	err = repos.Documents.Update(ctx, &Document{ID: 9999, DirectoryType: DirectoryTypeInbox, Status: StatusStart})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentFindBySHA256(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(newTestDB(t))
	lang := seedLanguage(t, repos)
	run := seedRun(t, repos, "inbox")

	accepted := seedDocument(t, repos, lang, run, "samehash")

	// Rejected documents with the same hash do not count as duplicates.
	rejected := &Document{
		ActionCodeLast: "inbox",
		DirectoryName:  "/data/inbox_rejected",
		DirectoryType:  DirectoryTypeInboxRejected,
		FileName:       "copy_2.pdf",
		IDLanguage:     lang.ID,
		IDRunLast:      run.ID,
		SHA256:         "samehash",
		Status:         StatusError,
	}
	require.NoError(t, repos.Documents.Create(ctx, rejected))

	got, err := repos.Documents.FindBySHA256(ctx, "samehash")
	require.NoError(t, err)
	assert.Equal(t, accepted.ID, got.ID)

	_, err = repos.Documents.FindBySHA256(ctx, "otherhash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActionRootIsItsOwnParent(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(newTestDB(t))
	lang := seedLanguage(t, repos)
	run := seedRun(t, repos, "inbox")
	doc := seedDocument(t, repos, lang, run, "h1")

	root := &Action{
		ActionCode:    "inbox",
		ActionText:    "triage inbox file",
		DirectoryName: "/data/inbox_accepted",
		DirectoryType: DirectoryTypeInboxAccepted,
		FileName:      doc.FileName,
		IDDocument:    doc.ID,
		IDRunLast:     run.ID,
		Status:        StatusEnd,
	}
	require.NoError(t, repos.Actions.Create(ctx, root))
	assert.Equal(t, root.ID, root.IDParent)

	got, err := repos.Actions.GetByID(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, got.IDParent)

	child := &Action{
		ActionCode:    "extract_text",
		ActionText:    "extract text from pdf",
		DirectoryName: "/data/inbox_accepted",
		DirectoryType: DirectoryTypeInboxAccepted,
		FileName:      doc.FileName,
		IDDocument:    doc.ID,
		IDParent:      root.ID,
		IDRunLast:     run.ID,
		Status:        StatusStart,
	}
	require.NoError(t, repos.Actions.Create(ctx, child))
	assert.Equal(t, root.ID, child.IDParent)
	assert.NotEqual(t, child.ID, child.IDParent)
}

func TestActionSelectPending(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(newTestDB(t))
	lang := seedLanguage(t, repos)
	run := seedRun(t, repos, "extract_text")
	doc1 := seedDocument(t, repos, lang, run, "h1")
	doc2 := seedDocument(t, repos, lang, run, "h2")
	doc3 := seedDocument(t, repos, lang, run, "h3")

	mk := func(docID int64, code string, status Status) *Action {
		a := &Action{
			ActionCode:    code,
			ActionText:    code,
			DirectoryName: "/data/inbox_accepted",
			DirectoryType: DirectoryTypeInboxAccepted,
			FileName:      "f.pdf",
			IDDocument:    docID,
			IDRunLast:     run.ID,
			Status:        status,
		}
		require.NoError(t, repos.Actions.Create(ctx, a))
		return a
	}

	open := mk(doc1.ID, "extract_text", StatusStart)
	failed := mk(doc2.ID, "extract_text", StatusError)
	mk(doc3.ID, "extract_text", StatusEnd)     // already done
	mk(doc3.ID, "tokenize", StatusStart)       // different stage
	mk(doc1.ID, "extract_text", StatusAbort)   // not eligible

	pending, err := repos.Actions.SelectPending(ctx, "extract_text")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	// Oldest first.
	assert.Equal(t, open.ID, pending[0].ID)
	assert.Equal(t, failed.ID, pending[1].ID)
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(newTestDB(t))

	next, err := repos.Runs.NextRunNo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	run := &Run{ActionCode: "inbox", RunNo: next, Status: StatusStart}
	require.NoError(t, repos.Runs.Create(ctx, run))
	assert.Positive(t, run.ID)

	run.Status = StatusEnd
	run.TotalToBeProcessed = 5
	run.TotalOKProcessed = 4
	run.TotalErroneous = 1
	require.NoError(t, repos.Runs.Update(ctx, run))

	next, err = repos.Runs.NextRunNo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}
