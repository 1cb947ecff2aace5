package triage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/language"
	"github.com/docmill/docmill/internal/observability"
	"github.com/docmill/docmill/internal/storage"
)

// Processor drains the inbox directories for one triage pass.
type Processor struct {
	repos            *storage.Repositories
	registry         *language.Registry
	dirs             config.DirectoriesConfig
	inspector        PDFInspector
	ignoreDuplicates bool
	logger           *observability.Logger
}

// NewProcessor creates a triage processor.
func NewProcessor(repos *storage.Repositories, registry *language.Registry,
	dirs config.DirectoriesConfig, inspector PDFInspector,
	ignoreDuplicates bool, logger *observability.Logger) *Processor {
	return &Processor{
		repos:            repos,
		registry:         registry,
		dirs:             dirs,
		inspector:        inspector,
		ignoreDuplicates: ignoreDuplicates,
		logger:           logger,
	}
}

// Process scans the inbox root and every active language subdirectory,
// accepting or rejecting each regular file. Run totals are updated in place;
// persisting the run row is the caller's job.
func (p *Processor) Process(ctx context.Context, run *storage.Run) error {
	// All three directories are created by init-db; a missing one is a
	// configuration error, not something to paper over.
	for _, dir := range []string{p.dirs.Inbox, p.dirs.InboxAccepted, p.dirs.InboxRejected} {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("pipeline directory: %w", err)
		}
	}

	for _, lang := range p.registry.All() {
		dir := p.dirs.Inbox
		if lang.DirectoryNameInbox != "" {
			dir = filepath.Join(p.dirs.Inbox, lang.DirectoryNameInbox)
		} else if lang.CodeISO6393 != language.DefaultCode {
			continue
		}

		names, err := listFiles(dir)
		if err != nil {
			if os.IsNotExist(err) && lang.DirectoryNameInbox != "" {
				continue
			}
			return fmt.Errorf("scan inbox %s: %w", dir, err)
		}

		for _, name := range names {
			run.TotalToBeProcessed++
			if p.processFile(ctx, run, lang, dir, name) {
				run.TotalOKProcessed++
			} else {
				run.TotalErroneous++
			}
		}
	}
	return nil
}

// listFiles returns the regular files in dir, lexically ordered.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// processFile triages a single file and reports whether it was accepted.
func (p *Processor) processFile(ctx context.Context, run *storage.Run,
	lang *storage.Language, dir, name string) bool {
	log := p.logger.WithStage(storage.StageInbox)
	path := filepath.Join(dir, name)

	info, err := os.Stat(path)
	if err != nil {
		log.Error().Str("file", name).Err(err).Msg("cannot stat inbox file")
		return false
	}

	doc := &storage.Document{
		ActionCodeLast: storage.StageInbox,
		DirectoryName:  dir,
		DirectoryType:  storage.DirectoryTypeInbox,
		FileName:       name,
		FileSizeBytes:  info.Size(),
		IDLanguage:     lang.ID,
		IDRunLast:      run.ID,
		Status:         storage.StatusStart,
	}

	hash, err := hashFile(path)
	if err != nil {
		doc.SHA256 = ""
		if createErr := p.repos.Documents.Create(ctx, doc); createErr != nil {
			log.Error().Str("file", name).Err(createErr).Msg("create document")
			return false
		}
		p.reject(ctx, run, doc, path, storage.ErrorCodeFilePermission,
			fmt.Sprintf("cannot read file: %v", err))
		return false
	}
	doc.SHA256 = hash

	var nextStage string
	var errCode storage.ErrorCode
	var errMsg string

	if !p.ignoreDuplicates {
		if dup, err := p.repos.Documents.FindBySHA256(ctx, hash); err == nil {
			errCode = storage.ErrorCodeDuplicateFile
			errMsg = fmt.Sprintf("content already accepted as document %d (%s)", dup.ID, dup.FileName)
		} else if err != storage.ErrNotFound {
			log.Error().Str("file", name).Err(err).Msg("duplicate lookup")
			return false
		}
	}

	if errCode == "" {
		nextStage, errCode, errMsg = p.route(path, name, doc)
	}

	if err := p.repos.Documents.Create(ctx, doc); err != nil {
		log.Error().Str("file", name).Err(err).Msg("create document")
		return false
	}

	if errCode != "" {
		p.reject(ctx, run, doc, path, errCode, errMsg)
		return false
	}
	return p.accept(ctx, run, doc, path, nextStage)
}

// route decides the first pipeline stage for an accepted file, or the
// rejection code when the file cannot enter the pipeline.
func (p *Processor) route(path, name string, doc *storage.Document) (nextStage string, errCode storage.ErrorCode, errMsg string) {
	switch Classify(name) {
	case ClassImage:
		return storage.StageOCR, "", ""
	case ClassOffice:
		return storage.StageNonPDFToPDF, "", ""
	case ClassPDF:
		info, err := p.inspector.Inspect(path)
		if err != nil {
			return "", storage.ErrorCodeNoPDFFormat, fmt.Sprintf("not a processable pdf: %v", err)
		}
		doc.NoPDFPages = info.Pages
		if info.HasText {
			return storage.StageExtractText, "", ""
		}
		return storage.StagePDF2Image, "", ""
	default:
		return "", storage.ErrorCodeUnknownExtension,
			fmt.Sprintf("extension %q is not supported", filepath.Ext(name))
	}
}

// accept moves the file into the accepted directory, records the finalized
// root action, and opens the first downstream action.
func (p *Processor) accept(ctx context.Context, run *storage.Run,
	doc *storage.Document, path, nextStage string) bool {
	log := p.logger.WithStage(storage.StageInbox).WithDocument(doc.ID)

	newName := TargetName(doc.FileName, doc.ID)
	dst := filepath.Join(p.dirs.InboxAccepted, newName)
	if err := moveFile(path, dst); err != nil {
		p.reject(ctx, run, doc, path, storage.ErrorCodeFileMove, err.Error())
		return false
	}

	doc.DirectoryName = p.dirs.InboxAccepted
	doc.DirectoryType = storage.DirectoryTypeInboxAccepted
	doc.FileName = newName
	doc.Status = storage.StatusEnd

	root := &storage.Action{
		ActionCode:    storage.StageInbox,
		ActionText:    storage.StageText(storage.StageInbox),
		DirectoryName: doc.DirectoryName,
		DirectoryType: doc.DirectoryType,
		FileName:      doc.FileName,
		FileSizeBytes: doc.FileSizeBytes,
		IDDocument:    doc.ID,
		IDRunLast:     run.ID,
		NoPDFPages:    doc.NoPDFPages,
		Status:        storage.StatusEnd,
	}
	if err := p.repos.Actions.Create(ctx, root); err != nil {
		log.Error().Err(err).Msg("create root action")
		return false
	}

	next := &storage.Action{
		ActionCode:    nextStage,
		ActionText:    storage.StageText(nextStage),
		DirectoryName: doc.DirectoryName,
		DirectoryType: doc.DirectoryType,
		FileName:      doc.FileName,
		FileSizeBytes: doc.FileSizeBytes,
		IDDocument:    doc.ID,
		IDParent:      root.ID,
		IDRunLast:     run.ID,
		NoPDFPages:    doc.NoPDFPages,
		Status:        storage.StatusStart,
	}
	if err := p.repos.Actions.Create(ctx, next); err != nil {
		log.Error().Err(err).Msg("create downstream action")
		return false
	}

	if err := p.repos.Documents.Update(ctx, doc); err != nil {
		log.Error().Err(err).Msg("update document")
		return false
	}

	log.Info().
		Str("file", doc.FileName).
		Str("next_stage", nextStage).
		Msg("file accepted")
	return true
}

// reject records the failure on the document, writes the erroneous root
// action, and moves the file to the rejected directory. Duplicates and files
// that cannot be moved stay in the inbox so an operator can intervene.
func (p *Processor) reject(ctx context.Context, run *storage.Run,
	doc *storage.Document, path string, code storage.ErrorCode, msg string) {
	log := p.logger.WithStage(storage.StageInbox).WithDocument(doc.ID)

	newName := TargetName(doc.FileName, doc.ID)
	dst := filepath.Join(p.dirs.InboxRejected, newName)
	moved := true
	if code == storage.ErrorCodeFileMove || code == storage.ErrorCodeDuplicateFile {
		moved = false
	} else if err := moveFile(path, dst); err != nil {
		log.Warn().Err(err).Msg("cannot move rejected file")
		moved = false
		code = storage.ErrorCodeFileMove
		msg = fmt.Sprintf("cannot move rejected file: %v", err)
	}

	if moved {
		doc.DirectoryName = p.dirs.InboxRejected
		doc.DirectoryType = storage.DirectoryTypeInboxRejected
		doc.FileName = newName
	}
	doc.Status = storage.StatusError
	doc.ErrorCodeLast = string(code)
	doc.ErrorMsgLast = msg
	doc.ErrorNo++

	root := &storage.Action{
		ActionCode:    storage.StageInbox,
		ActionText:    storage.StageText(storage.StageInbox),
		DirectoryName: doc.DirectoryName,
		DirectoryType: doc.DirectoryType,
		ErrorCodeLast: string(code),
		ErrorMsgLast:  msg,
		ErrorNo:       1,
		FileName:      doc.FileName,
		FileSizeBytes: doc.FileSizeBytes,
		IDDocument:    doc.ID,
		IDRunLast:     run.ID,
		Status:        storage.StatusError,
	}
	if err := p.repos.Actions.Create(ctx, root); err != nil {
		log.Error().Err(err).Msg("create root action")
	}
	if err := p.repos.Documents.Update(ctx, doc); err != nil {
		log.Error().Err(err).Msg("update document")
	}

	log.Warn().
		Str("file", doc.FileName).
		Str("error_code", string(code)).
		Msg("file rejected")
}

// hashFile computes the hex encoded sha256 of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
