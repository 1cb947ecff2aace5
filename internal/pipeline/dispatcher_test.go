package pipeline

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmill/docmill/internal/language"
	"github.com/docmill/docmill/internal/observability"
	"github.com/docmill/docmill/internal/storage"
	"github.com/docmill/docmill/internal/tool"
)

type fakeInvoker struct {
	mu      sync.Mutex
	result  tool.Result
	results []tool.Result // consumed first when non-empty
	calls   []tool.Request
}

func (f *fakeInvoker) Invoke(_ context.Context, req tool.Request) tool.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if len(f.results) > 0 {
		r := f.results[0]
		f.results = f.results[1:]
		return r
	}
	return f.result
}

type fakeInbox struct {
	called bool
}

func (f *fakeInbox) Process(_ context.Context, run *storage.Run) error {
	f.called = true
	run.TotalToBeProcessed = 2
	run.TotalOKProcessed = 1
	run.TotalErroneous = 1
	return nil
}

type env struct {
	db       *sql.DB
	repos    *storage.Repositories
	registry *language.Registry
	lang     *storage.Language
	bootRun  *storage.Run
	invokers map[string]tool.Invoker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.NewSchemaManager(db, "sqlite").EnsureSchema(ctx))

	repos := storage.NewRepositories(db)
	lang := &storage.Language{
		Active: true, CodeISO6393: "eng", CodeConverter: "en", CodeOCR: "eng",
		CodeTokenizer: "en_core_web_sm", Name: "English",
	}
	require.NoError(t, repos.Languages.Create(ctx, lang))

	registry, err := language.Load(ctx, repos.Languages)
	require.NoError(t, err)

	bootRun := &storage.Run{ActionCode: storage.StageInbox, RunNo: 1, Status: storage.StatusEnd}
	require.NoError(t, repos.Runs.Create(ctx, bootRun))

	invokers := make(map[string]tool.Invoker)
	for _, stage := range StageOrder[1:] {
		invokers[stage] = &fakeInvoker{}
	}

	return &env{db: db, repos: repos, registry: registry, lang: lang, bootRun: bootRun, invokers: invokers}
}

func (e *env) dispatcher(t *testing.T, workers int) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(context.Background(), e.db, e.repos, e.registry,
		&fakeInbox{}, e.invokers, workers, observability.Nop())
	require.NoError(t, err)
	return d
}

// seedPending creates an accepted document with a finalized root action and
// one pending action at the given stage, the way triage leaves them.
func (e *env) seedPending(t *testing.T, stage, fileName string) (*storage.Document, *storage.Action) {
	t.Helper()
	ctx := context.Background()

	doc := &storage.Document{
		ActionCodeLast: storage.StageInbox,
		DirectoryName:  "/data/inbox_accepted",
		DirectoryType:  storage.DirectoryTypeInboxAccepted,
		FileName:       fileName,
		IDLanguage:     e.lang.ID,
		IDRunLast:      e.bootRun.ID,
		SHA256:         fileName,
		Status:         storage.StatusEnd,
	}
	require.NoError(t, e.repos.Documents.Create(ctx, doc))

	root := &storage.Action{
		ActionCode:    storage.StageInbox,
		ActionText:    storage.StageText(storage.StageInbox),
		DirectoryName: doc.DirectoryName,
		DirectoryType: doc.DirectoryType,
		FileName:      doc.FileName,
		IDDocument:    doc.ID,
		IDRunLast:     e.bootRun.ID,
		Status:        storage.StatusEnd,
	}
	require.NoError(t, e.repos.Actions.Create(ctx, root))

	pending := &storage.Action{
		ActionCode:    stage,
		ActionText:    storage.StageText(stage),
		DirectoryName: doc.DirectoryName,
		DirectoryType: doc.DirectoryType,
		FileName:      doc.FileName,
		IDDocument:    doc.ID,
		IDParent:      root.ID,
		IDRunLast:     e.bootRun.ID,
		Status:        storage.StatusStart,
	}
	require.NoError(t, e.repos.Actions.Create(ctx, pending))
	return doc, pending
}

// liveActions counts open or erroneous actions for one document.
func (e *env) liveActions(t *testing.T, docID int64) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRow(
		`SELECT COUNT(*) FROM actions WHERE id_document = ? AND status IN ('start', 'error')`,
		docID).Scan(&n))
	return n
}

func TestSearchablePDFWalksTheWholeChain(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	stats := &tool.ParseStats{LinesHeader: 2, LinesFooter: 1, ListsBullet: 3, ListsNumber: 4, Tables: 5}
	e.invokers[storage.StageParseLine] = &fakeInvoker{result: tool.Result{Stats: stats}}

	doc, _ := e.seedPending(t, storage.StageExtractText, "report_1.pdf")
	d := e.dispatcher(t, 1)

	chain := []string{storage.StageExtractText, storage.StageParseLine,
		storage.StageParsePage, storage.StageParseWord, storage.StageTokenize}
	runs, err := d.RunStages(ctx, chain)
	require.NoError(t, err)
	require.Len(t, runs, len(chain))
	for _, run := range runs {
		assert.Equal(t, storage.StatusEnd, run.Status)
		assert.Equal(t, 1, run.TotalToBeProcessed)
		assert.Equal(t, 1, run.TotalOKProcessed)
		assert.Equal(t, 0, run.TotalErroneous)
		assert.Equal(t, d.RunNo(), run.RunNo)
	}

	got, err := e.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusEnd, got.Status)
	assert.Equal(t, storage.StageTokenize, got.ActionCodeLast)
	assert.Equal(t, 0, got.ErrorNo)

	// Layout statistics from line parsing survive the later stages.
	assert.Equal(t, 2, got.NoLinesHeader)
	assert.Equal(t, 1, got.NoLinesFooter)
	assert.Equal(t, 3, got.NoListsBullet)
	assert.Equal(t, 4, got.NoListsNumber)
	assert.Equal(t, 5, got.NoTables)

	// The chain is fully drained.
	assert.Equal(t, 0, e.liveActions(t, doc.ID))

	// The page and word passes receive the line pass's header/footer counts.
	wantAux := map[string]string{"lines-header": "2", "lines-footer": "1"}
	for _, stage := range []string{storage.StageParsePage, storage.StageParseWord} {
		inv := e.invokers[stage].(*fakeInvoker)
		require.Len(t, inv.calls, 1)
		assert.Equal(t, wantAux, inv.calls[0].Aux)
	}
}

func TestScannedPDFChainsThroughRenderingAndOCR(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	doc, _ := e.seedPending(t, storage.StagePDF2Image, "scan_1.pdf")
	d := e.dispatcher(t, 1)

	_, err := d.RunStages(ctx, StageOrder[1:])
	require.NoError(t, err)

	got, err := e.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusEnd, got.Status)
	assert.Equal(t, storage.StageTokenize, got.ActionCodeLast)
	assert.Equal(t, 0, e.liveActions(t, doc.ID))

	// Rendering handed page images to OCR, OCR handed a PDF onwards.
	ocr := e.invokers[storage.StageOCR].(*fakeInvoker)
	require.Len(t, ocr.calls, 1)
	assert.Equal(t, "scan_1.jpeg", ocr.calls[0].FileName)
	assert.Equal(t, "eng", ocr.calls[0].LanguageCode)

	extract := e.invokers[storage.StageExtractText].(*fakeInvoker)
	require.Len(t, extract.calls, 1)
	assert.Equal(t, "scan_1.pdf", extract.calls[0].FileName)
}

func TestOfficeDocumentIsConvertedBeforeExtraction(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	doc, _ := e.seedPending(t, storage.StageNonPDFToPDF, "letter_1.docx")
	d := e.dispatcher(t, 1)

	_, err := d.RunStages(ctx, StageOrder[1:])
	require.NoError(t, err)

	got, err := e.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusEnd, got.Status)
	assert.Equal(t, storage.StageTokenize, got.ActionCodeLast)
	assert.Equal(t, 0, e.liveActions(t, doc.ID))

	// The converter saw the office file and the extractor its PDF output.
	conv := e.invokers[storage.StageNonPDFToPDF].(*fakeInvoker)
	require.Len(t, conv.calls, 1)
	assert.Equal(t, "letter_1.docx", conv.calls[0].FileName)
	assert.Equal(t, "en", conv.calls[0].LanguageCode)

	extract := e.invokers[storage.StageExtractText].(*fakeInvoker)
	require.Len(t, extract.calls, 1)
	assert.Equal(t, "letter_1.pdf", extract.calls[0].FileName)
}

func TestFailureFinalizesActionAndDocument(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.invokers[storage.StageOCR] = &fakeInvoker{
		result: tool.Result{ErrorCode: "ocr", ErrorMsg: "engine crashed"},
	}
	doc, action := e.seedPending(t, storage.StageOCR, "page_1.png")
	d := e.dispatcher(t, 1)

	run, err := d.RunStage(ctx, storage.StageOCR)
	require.NoError(t, err)
	assert.Equal(t, 1, run.TotalToBeProcessed)
	assert.Equal(t, 0, run.TotalOKProcessed)
	assert.Equal(t, 1, run.TotalErroneous)

	gotAction, err := e.repos.Actions.GetByID(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, gotAction.Status)
	assert.Equal(t, "ocr", gotAction.ErrorCodeLast)
	assert.Equal(t, "engine crashed", gotAction.ErrorMsgLast)
	assert.Equal(t, 1, gotAction.ErrorNo)
	assert.Positive(t, gotAction.DurationNS)

	gotDoc, err := e.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, gotDoc.Status)
	assert.Equal(t, "ocr", gotDoc.ErrorCodeLast)
	assert.Equal(t, 1, gotDoc.ErrorNo)
	assert.Equal(t, storage.StageOCR, gotDoc.ActionCodeLast)

	// The failed action is still the only live one.
	assert.Equal(t, 1, e.liveActions(t, doc.ID))
}

func TestFailedActionIsRetriedIdempotently(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.invokers[storage.StageOCR] = &fakeInvoker{results: []tool.Result{
		{ErrorCode: "ocr", ErrorMsg: "transient"},
		{},
	}}
	doc, action := e.seedPending(t, storage.StageOCR, "page_1.png")
	d := e.dispatcher(t, 1)

	_, err := d.RunStage(ctx, storage.StageOCR)
	require.NoError(t, err)

	// Second pass picks up the erroneous action and succeeds.
	run, err := d.RunStage(ctx, storage.StageOCR)
	require.NoError(t, err)
	assert.Equal(t, 1, run.TotalOKProcessed)

	gotAction, err := e.repos.Actions.GetByID(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusEnd, gotAction.Status)
	// The error count keeps its history.
	assert.Equal(t, 1, gotAction.ErrorNo)

	gotDoc, err := e.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusEnd, gotDoc.Status)
	assert.Equal(t, 1, gotDoc.ErrorNo)

	// Exactly one successor was opened despite two passes.
	pending, err := e.repos.Actions.SelectPending(ctx, storage.StageExtractText)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestErrorCountersOnlyGrow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.invokers[storage.StageOCR] = &fakeInvoker{
		result: tool.Result{ErrorCode: "ocr", ErrorMsg: "still broken"},
	}
	doc, action := e.seedPending(t, storage.StageOCR, "page_1.png")
	d := e.dispatcher(t, 1)

	for i := 0; i < 3; i++ {
		_, err := d.RunStage(ctx, storage.StageOCR)
		require.NoError(t, err)
	}

	gotAction, err := e.repos.Actions.GetByID(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, gotAction.ErrorNo)

	gotDoc, err := e.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, gotDoc.ErrorNo)
}

func TestErrorsAccumulateAcrossStages(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	// Fail once at extraction, recover, then fail at line parsing.
	e.invokers[storage.StageExtractText] = &fakeInvoker{results: []tool.Result{
		{ErrorCode: "extraction", ErrorMsg: "transient"},
		{},
	}}
	e.invokers[storage.StageParseLine] = &fakeInvoker{
		result: tool.Result{ErrorCode: "parser", ErrorMsg: "token missing"},
	}
	doc, _ := e.seedPending(t, storage.StageExtractText, "report_1.pdf")
	d := e.dispatcher(t, 1)

	_, err := d.RunStage(ctx, storage.StageExtractText)
	require.NoError(t, err)
	_, err = d.RunStage(ctx, storage.StageExtractText)
	require.NoError(t, err)
	_, err = d.RunStage(ctx, storage.StageParseLine)
	require.NoError(t, err)

	gotDoc, err := e.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotDoc.ErrorNo)
	assert.Equal(t, "parser", gotDoc.ErrorCodeLast)
	assert.Equal(t, storage.StatusError, gotDoc.Status)
	assert.Equal(t, storage.StageParseLine, gotDoc.ActionCodeLast)
}

func TestEmptyPassMutatesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	doc, action := e.seedPending(t, storage.StageExtractText, "report_1.pdf")
	docBefore, err := e.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	actionBefore, err := e.repos.Actions.GetByID(ctx, action.ID)
	require.NoError(t, err)
	d := e.dispatcher(t, 1)

	// No action is selectable for OCR; the pass is a no-op.
	run, err := d.RunStage(ctx, storage.StageOCR)
	require.NoError(t, err)
	assert.Equal(t, 0, run.TotalToBeProcessed)
	assert.Equal(t, 0, run.TotalOKProcessed)
	assert.Equal(t, 0, run.TotalErroneous)
	assert.Equal(t, storage.StatusEnd, run.Status)

	docAfter, err := e.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, docBefore, docAfter)

	actionAfter, err := e.repos.Actions.GetByID(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, actionBefore, actionAfter)

	ocr := e.invokers[storage.StageOCR].(*fakeInvoker)
	assert.Empty(t, ocr.calls)
}

func TestActionChainWalksBackToRoot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	doc, _ := e.seedPending(t, storage.StageExtractText, "report_1.pdf")
	d := e.dispatcher(t, 1)
	_, err := d.RunStages(ctx, StageOrder[1:])
	require.NoError(t, err)

	var lastID int64
	require.NoError(t, e.db.QueryRow(
		`SELECT MAX(id) FROM actions WHERE id_document = ?`, doc.ID).Scan(&lastID))

	var codes []string
	current, err := e.repos.Actions.GetByID(ctx, lastID)
	require.NoError(t, err)
	for {
		assert.Equal(t, storage.StatusEnd, current.Status)
		codes = append(codes, current.ActionCode)
		if current.IDParent == current.ID {
			break
		}
		current, err = e.repos.Actions.GetByID(ctx, current.IDParent)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		storage.StageTokenize, storage.StageParseWord, storage.StageParsePage,
		storage.StageParseLine, storage.StageExtractText, storage.StageInbox,
	}, codes)
}

func TestWorkerPoolProcessesAllDocuments(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	const docs = 12
	for i := 0; i < docs; i++ {
		e.seedPending(t, storage.StageExtractText, "doc.pdf")
	}
	d := e.dispatcher(t, 4)

	run, err := d.RunStage(ctx, storage.StageExtractText)
	require.NoError(t, err)
	assert.Equal(t, docs, run.TotalToBeProcessed)
	assert.Equal(t, docs, run.TotalOKProcessed)
	assert.Equal(t, 0, run.TotalErroneous)

	pending, err := e.repos.Actions.SelectPending(ctx, storage.StageParseLine)
	require.NoError(t, err)
	assert.Len(t, pending, docs)
}

func TestUnknownLanguageAbortsThePass(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	doc, _ := e.seedPending(t, storage.StageOCR, "page_1.png")
	// Corrupt the language reference behind the registry's back.
	_, err := e.db.Exec(`UPDATE documents SET id_language = 999 WHERE id = ?`, doc.ID)
	require.NoError(t, err)

	d := e.dispatcher(t, 1)
	_, err = d.RunStage(ctx, storage.StageOCR)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "language")
}

func TestInboxStageDelegatesToTriage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	inbox := &fakeInbox{}
	d, err := NewDispatcher(ctx, e.db, e.repos, e.registry, inbox, e.invokers, 1, observability.Nop())
	require.NoError(t, err)

	run, err := d.RunStage(ctx, storage.StageInbox)
	require.NoError(t, err)
	assert.True(t, inbox.called)
	assert.Equal(t, storage.StatusEnd, run.Status)
	assert.Equal(t, 2, run.TotalToBeProcessed)
	assert.Equal(t, 1, run.TotalOKProcessed)
	assert.Equal(t, 1, run.TotalErroneous)
}

func TestRunNumberIsSharedWithinAnInvocation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedPending(t, storage.StageExtractText, "a.pdf")

	d := e.dispatcher(t, 1)
	runs, err := d.RunStages(ctx, []string{storage.StageExtractText, storage.StageParseLine})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, runs[0].RunNo, runs[1].RunNo)

	// A new invocation gets the next run number.
	d2 := e.dispatcher(t, 1)
	assert.Equal(t, d.RunNo()+1, d2.RunNo())
}

func TestRunStageRejectsUnknownStage(t *testing.T) {
	e := newEnv(t)
	d := e.dispatcher(t, 1)
	_, err := d.RunStage(context.Background(), "frobnicate")
	require.Error(t, err)
}

func TestExpandStages(t *testing.T) {
	stages, ok := ExpandStages([]string{"all"})
	assert.True(t, ok)
	assert.Equal(t, StageOrder, stages)

	stages, ok = ExpandStages([]string{"ocr", "tokenize"})
	assert.True(t, ok)
	assert.Equal(t, []string{"ocr", "tokenize"}, stages)

	_, ok = ExpandStages([]string{"nope"})
	assert.False(t, ok)

	_, ok = ExpandStages(nil)
	assert.False(t, ok)
}

func TestOutputFileName(t *testing.T) {
	assert.Equal(t, "a_1.pdf", outputFileName(storage.StageNonPDFToPDF, "a_1.docx"))
	assert.Equal(t, "a_1.pdf", outputFileName(storage.StageOCR, "a_1.jpeg"))
	assert.Equal(t, "a_1.jpeg", outputFileName(storage.StagePDF2Image, "a_1.pdf"))
	assert.Equal(t, "a_1.pdf", outputFileName(storage.StageExtractText, "a_1.pdf"))
}
