// Package pipeline drives the stage dispatcher: it drains pending actions
// stage by stage, invokes the external collaborators, and finalizes each
// action and its document.
package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/docmill/docmill/internal/storage"
)

// StageOrder is the canonical processing order; "all" expands to it.
var StageOrder = []string{
	storage.StageInbox,
	storage.StagePDF2Image,
	storage.StageOCR,
	storage.StageNonPDFToPDF,
	storage.StageExtractText,
	storage.StageParseLine,
	storage.StageParsePage,
	storage.StageParseWord,
	storage.StageTokenize,
}

// nextStage maps each stage to its successor; tokenize is terminal.
var nextStage = map[string]string{
	storage.StagePDF2Image:   storage.StageOCR,
	storage.StageOCR:         storage.StageExtractText,
	storage.StageNonPDFToPDF: storage.StageExtractText,
	storage.StageExtractText: storage.StageParseLine,
	storage.StageParseLine:   storage.StageParsePage,
	storage.StageParsePage:   storage.StageParseWord,
	storage.StageParseWord:   storage.StageTokenize,
}

// stageErrorCode maps a stage to the error code recorded when its
// collaborator fails.
var stageErrorCode = map[string]storage.ErrorCode{
	storage.StagePDF2Image:   storage.ErrorCodePDF2Image,
	storage.StageOCR:         storage.ErrorCodeOCR,
	storage.StageNonPDFToPDF: storage.ErrorCodeConverter,
	storage.StageExtractText: storage.ErrorCodeExtraction,
	storage.StageParseLine:   storage.ErrorCodeParser,
	storage.StageParsePage:   storage.ErrorCodeParser,
	storage.StageParseWord:   storage.ErrorCodeParser,
	storage.StageTokenize:    storage.ErrorCodeTokenizer,
}

// IsValidStage reports whether code names a known stage.
func IsValidStage(code string) bool {
	for _, s := range StageOrder {
		if s == code {
			return true
		}
	}
	return false
}

// ExpandStages resolves the command-line stage arguments; "all" expands to
// the canonical order.
func ExpandStages(args []string) ([]string, bool) {
	if len(args) == 1 && args[0] == "all" {
		return StageOrder, true
	}
	var stages []string
	for _, a := range args {
		if !IsValidStage(a) {
			return nil, false
		}
		stages = append(stages, a)
	}
	return stages, len(stages) > 0
}

// outputFileName derives the file name the next stage will work on after
// this stage's collaborator has run. Converting and OCR stages produce a
// PDF; rendering produces page images.
func outputFileName(stage, fileName string) string {
	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)
	switch stage {
	case storage.StageNonPDFToPDF, storage.StageOCR:
		return stem + ".pdf"
	case storage.StagePDF2Image:
		return stem + ".jpeg"
	default:
		return fileName
	}
}
