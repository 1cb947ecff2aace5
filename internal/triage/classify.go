// Package triage scans the inbox directories, classifies incoming files,
// detects duplicates, and moves each file to the accepted or rejected
// directory under a durable name.
package triage

import (
	"path/filepath"
	"strings"
)

// FileClass is the coarse routing category derived from a file's extension.
type FileClass int

const (
	ClassUnknown FileClass = iota
	ClassPDF
	ClassImage
	ClassOffice
)

// Extensions handled by the OCR engine.
var imageExtensions = map[string]bool{
	".bmp":  true,
	".gif":  true,
	".jp2":  true,
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".pnm":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// Extensions handled by the document converter.
var officeExtensions = map[string]bool{
	".csv":  true,
	".docx": true,
	".epub": true,
	".html": true,
	".odt":  true,
	".rst":  true,
	".rtf":  true,
}

// Classify maps a file name to its routing category.
func Classify(fileName string) FileClass {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case ext == ".pdf":
		return ClassPDF
	case imageExtensions[ext]:
		return ClassImage
	case officeExtensions[ext]:
		return ClassOffice
	default:
		return ClassUnknown
	}
}
