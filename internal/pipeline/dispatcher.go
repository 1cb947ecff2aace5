package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/language"
	"github.com/docmill/docmill/internal/observability"
	"github.com/docmill/docmill/internal/storage"
	"github.com/docmill/docmill/internal/tool"
)

// InboxProcessor is the part of triage the dispatcher drives.
type InboxProcessor interface {
	Process(ctx context.Context, run *storage.Run) error
}

// Dispatcher runs stage passes. One dispatcher serves one process
// invocation; all its runs share a single run number.
type Dispatcher struct {
	db       *sql.DB
	repos    *storage.Repositories
	registry *language.Registry
	inbox    InboxProcessor
	invokers map[string]tool.Invoker
	workers  int
	runNo    int64
	logger   *observability.Logger
}

// NewDispatcher creates a dispatcher. The run number for this invocation is
// allocated immediately.
func NewDispatcher(ctx context.Context, db *sql.DB, repos *storage.Repositories,
	registry *language.Registry, inbox InboxProcessor,
	invokers map[string]tool.Invoker, workers int,
	logger *observability.Logger) (*Dispatcher, error) {

	runNo, err := repos.Runs.NextRunNo(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate run number: %w", err)
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		db:       db,
		repos:    repos,
		registry: registry,
		inbox:    inbox,
		invokers: invokers,
		workers:  workers,
		runNo:    runNo,
		logger:   logger,
	}, nil
}

// RunNo returns the run number shared by this invocation's stage passes.
func (d *Dispatcher) RunNo() int64 {
	return d.runNo
}

// RunStages executes the given stages in order and returns their run rows.
func (d *Dispatcher) RunStages(ctx context.Context, stages []string) ([]*storage.Run, error) {
	var runs []*storage.Run
	for _, stage := range stages {
		run, err := d.RunStage(ctx, stage)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// RunStage executes one pass of one stage, bracketed by a run row. A
// returned error means the pass could not complete as a whole;
// per-document failures are recorded on their rows instead.
func (d *Dispatcher) RunStage(ctx context.Context, stage string) (*storage.Run, error) {
	if !IsValidStage(stage) {
		return nil, fmt.Errorf("unknown stage: %s", stage)
	}

	log := d.logger.WithStage(stage)
	traceID := uuid.NewString()

	run := &storage.Run{
		ActionCode: stage,
		RunNo:      d.runNo,
		Status:     storage.StatusStart,
	}
	if err := d.repos.Runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	started := time.Now()
	log.Info().Str("trace_id", traceID).Int64("run_no", d.runNo).Msg("stage pass started")

	var passErr error
	if stage == storage.StageInbox {
		passErr = d.inbox.Process(ctx, run)
	} else {
		passErr = d.drainStage(ctx, run, stage)
	}

	run.Status = storage.StatusEnd
	if err := d.repos.Runs.Update(ctx, run); err != nil {
		if passErr == nil {
			passErr = fmt.Errorf("close run: %w", err)
		}
	}

	log.Info().
		Str("trace_id", traceID).
		Int("to_be_processed", run.TotalToBeProcessed).
		Int("ok_processed", run.TotalOKProcessed).
		Int("erroneous", run.TotalErroneous).
		Dur("elapsed", time.Since(started)).
		Msg("stage pass finished")

	return run, passErr
}

// drainStage materializes the pending actions for one stage and processes
// them, serially or with a bounded worker pool. Safe to fan out because a
// stage pass sees at most one live action per document.
func (d *Dispatcher) drainStage(ctx context.Context, run *storage.Run, stage string) error {
	actions, err := d.repos.Actions.SelectPending(ctx, stage)
	if err != nil {
		return fmt.Errorf("select pending actions: %w", err)
	}

	run.TotalToBeProcessed = len(actions)
	if len(actions) == 0 {
		return nil
	}

	var ok, erroneous atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, action := range actions {
		action := action
		g.Go(func() error {
			succeeded, err := d.processAction(gctx, run, stage, action)
			if err != nil {
				return err
			}
			if succeeded {
				ok.Add(1)
			} else {
				erroneous.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	run.TotalOKProcessed = int(ok.Load())
	run.TotalErroneous = int(erroneous.Load())
	return err
}

// processAction runs one action in its own transaction. The returned error
// is reserved for faults that invalidate the whole pass (broken storage,
// corrupted language reference); collaborator failures finalize the action
// as erroneous and return (false, nil).
func (d *Dispatcher) processAction(ctx context.Context, run *storage.Run,
	stage string, action *storage.Action) (bool, error) {

	doc, err := d.repos.Documents.GetByID(ctx, action.IDDocument)
	if err != nil {
		return false, fmt.Errorf("load document %d: %w", action.IDDocument, err)
	}

	lang, err := d.registry.ByID(doc.IDLanguage)
	if err != nil {
		return false, fmt.Errorf("document %d: %w", doc.ID, err)
	}

	invoker, ok := d.invokers[stage]
	if !ok {
		return false, fmt.Errorf("no collaborator configured for stage %s", stage)
	}

	req := tool.Request{
		InputPath:    filepath.Join(action.DirectoryName, action.FileName),
		OutputPath:   filepath.Join(action.DirectoryName, outputFileName(stage, action.FileName)),
		DocumentID:   doc.ID,
		FileName:     action.FileName,
		LanguageCode: languageCode(stage, lang),
		Pages:        action.NoPDFPages,
		Aux:          auxParams(stage, doc),
	}

	started := time.Now()
	result := invoker.Invoke(ctx, req)
	elapsed := time.Since(started)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	repos := storage.NewRepositories(tx)
	if result.OK() {
		err = d.finalize(ctx, repos, run, stage, action, doc, result, elapsed)
	} else {
		err = d.finalizeError(ctx, repos, run, stage, action, doc, result, elapsed)
	}
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit action %d: %w", action.ID, err)
	}
	return result.OK(), nil
}

// finalize closes a successful action, mirrors the progress onto the
// document, and opens the next action in the chain. Tokenizing is terminal:
// the document is complete once it ends.
func (d *Dispatcher) finalize(ctx context.Context, repos *storage.Repositories,
	run *storage.Run, stage string, action *storage.Action,
	doc *storage.Document, result tool.Result, elapsed time.Duration) error {

	action.DurationNS = elapsed.Nanoseconds()
	action.Status = storage.StatusEnd
	action.IDRunLast = run.ID
	action.NoChildren = result.Children
	if result.Pages > 0 {
		action.NoPDFPages = result.Pages
	}
	if err := repos.Actions.Update(ctx, action); err != nil {
		return fmt.Errorf("finalize action %d: %w", action.ID, err)
	}

	doc.ActionCodeLast = stage
	doc.IDRunLast = run.ID
	doc.Status = storage.StatusEnd
	if result.Pages > 0 {
		doc.NoPDFPages = result.Pages
	}
	if stage == storage.StageParseLine && result.Stats != nil {
		doc.NoLinesHeader = result.Stats.LinesHeader
		doc.NoLinesFooter = result.Stats.LinesFooter
		doc.NoListsBullet = result.Stats.ListsBullet
		doc.NoListsNumber = result.Stats.ListsNumber
		doc.NoTables = result.Stats.Tables
	}
	if err := repos.Documents.Update(ctx, doc); err != nil {
		return fmt.Errorf("finalize document %d: %w", doc.ID, err)
	}

	next := nextStage[stage]
	if next == "" {
		d.logger.WithStage(stage).WithDocument(doc.ID).Info().Msg("document completed")
		return nil
	}

	child := &storage.Action{
		ActionCode:    next,
		ActionText:    storage.StageText(next),
		DirectoryName: action.DirectoryName,
		DirectoryType: action.DirectoryType,
		FileName:      outputFileName(stage, action.FileName),
		IDDocument:    doc.ID,
		IDParent:      action.ID,
		IDRunLast:     run.ID,
		NoPDFPages:    action.NoPDFPages,
		Status:        storage.StatusStart,
	}
	if err := repos.Actions.Create(ctx, child); err != nil {
		return fmt.Errorf("open next action for document %d: %w", doc.ID, err)
	}
	return nil
}

// finalizeError closes a failed action and propagates the failure to the
// document. Error counters only ever grow; a later retry that fails again
// increments them once more.
func (d *Dispatcher) finalizeError(ctx context.Context, repos *storage.Repositories,
	run *storage.Run, stage string, action *storage.Action,
	doc *storage.Document, result tool.Result, elapsed time.Duration) error {

	code := result.ErrorCode
	if code == "" {
		code = string(stageErrorCode[stage])
	}

	action.DurationNS = elapsed.Nanoseconds()
	action.Status = storage.StatusError
	action.IDRunLast = run.ID
	action.ErrorCodeLast = code
	action.ErrorMsgLast = result.ErrorMsg
	action.ErrorNo++
	if err := repos.Actions.Update(ctx, action); err != nil {
		return fmt.Errorf("finalize action %d: %w", action.ID, err)
	}

	doc.ActionCodeLast = stage
	doc.IDRunLast = run.ID
	doc.Status = storage.StatusError
	doc.ErrorCodeLast = code
	doc.ErrorMsgLast = result.ErrorMsg
	doc.ErrorNo++
	if err := repos.Documents.Update(ctx, doc); err != nil {
		return fmt.Errorf("finalize document %d: %w", doc.ID, err)
	}

	d.logger.WithStage(stage).WithDocument(doc.ID).Warn().
		Str("error_code", code).
		Str("error_msg", result.ErrorMsg).
		Msg("collaborator failed")
	return nil
}

// auxParams forwards the header/footer line counts the line pass persisted
// on the document to the later parse passes.
func auxParams(stage string, doc *storage.Document) map[string]string {
	switch stage {
	case storage.StageParsePage, storage.StageParseWord:
		return map[string]string{
			"lines-header": strconv.Itoa(doc.NoLinesHeader),
			"lines-footer": strconv.Itoa(doc.NoLinesFooter),
		}
	}
	return nil
}

// languageCode picks the tool-specific language code for a stage.
func languageCode(stage string, lang *storage.Language) string {
	switch stage {
	case storage.StageOCR:
		return lang.CodeOCR
	case storage.StageNonPDFToPDF:
		return lang.CodeConverter
	case storage.StageTokenize:
		return lang.CodeTokenizer
	default:
		return lang.CodeISO6393
	}
}

// NewInvokers builds the default exec-based collaborator set from tool
// configuration.
func NewInvokers(cfg config.ToolsConfig, logger *observability.Logger) map[string]tool.Invoker {
	byStage := map[string]config.ToolConfig{
		storage.StagePDF2Image:   cfg.PDF2Image,
		storage.StageOCR:         cfg.OCR,
		storage.StageNonPDFToPDF: cfg.NonPDFToPDF,
		storage.StageExtractText: cfg.ExtractText,
		storage.StageParseLine:   cfg.ParseLine,
		storage.StageParsePage:   cfg.ParsePage,
		storage.StageParseWord:   cfg.ParseWord,
		storage.StageTokenize:    cfg.Tokenize,
	}

	invokers := make(map[string]tool.Invoker, len(byStage))
	for stage, c := range byStage {
		invokers[stage] = &tool.ExecInvoker{
			Binary:    c.Binary,
			Args:      c.Args,
			Timeout:   c.Timeout,
			ErrorCode: string(stageErrorCode[stage]),
			Logger:    logger,
		}
	}
	return invokers
}
