package triage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TargetName builds the durable file name a document keeps after triage:
// the original stem, the document id, and the original extension.
func TargetName(fileName string, documentID int64) string {
	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)
	return fmt.Sprintf("%s_%d%s", stem, documentID, ext)
}

// moveFile moves src to dst, failing fast if dst already exists. A failed
// move is retried once before giving up; on the second failure the source
// file stays where it is.
func moveFile(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("target file already exists: %s", dst)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat target file: %w", err)
	}

	if err := rename(src, dst); err != nil {
		if err := rename(src, dst); err != nil {
			return fmt.Errorf("move file after retry: %w", err)
		}
	}
	return nil
}

// rename moves a file, falling back to copy-and-delete when source and
// target are on different file systems.
func rename(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
