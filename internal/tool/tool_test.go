package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultOK(t *testing.T) {
	assert.True(t, Result{}.OK())
	assert.False(t, Result{ErrorCode: "ocr"}.OK())
}

func TestExecInvokerNoBinary(t *testing.T) {
	inv := &ExecInvoker{ErrorCode: "converter"}
	res := inv.Invoke(context.Background(), Request{})
	assert.Equal(t, "converter", res.ErrorCode)
	assert.Contains(t, res.ErrorMsg, "no binary configured")
}

func TestExecInvokerSuccess(t *testing.T) {
	inv := &ExecInvoker{Binary: "true", ErrorCode: "converter", Timeout: 10 * time.Second}
	res := inv.Invoke(context.Background(), Request{InputPath: "in", OutputPath: "out", DocumentID: 7})
	assert.True(t, res.OK())
}

func TestExecInvokerForwardsFullRequest(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "argv")
	t.Setenv("ARGV_FILE", capture)

	inv := &ExecInvoker{
		Binary:  "sh",
		Args:    []string{"-c", `printf '%s\n' "$@" > "$ARGV_FILE"`, "sh"},
		Timeout: 10 * time.Second,
	}
	res := inv.Invoke(context.Background(), Request{
		InputPath:    "in.png",
		OutputPath:   "out.pdf",
		DocumentID:   7,
		FileName:     "page_7.png",
		LanguageCode: "eng",
		Pages:        3,
		Aux:          map[string]string{"lines-header": "2", "lines-footer": "1"},
	})
	require.True(t, res.OK())

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--input", "in.png",
		"--output", "out.pdf",
		"--document-id", "7",
		"--file-name", "page_7.png",
		"--language", "eng",
		"--pages", "3",
		"--lines-footer", "1",
		"--lines-header", "2",
	}, strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestExecInvokerFailure(t *testing.T) {
	inv := &ExecInvoker{Binary: "false", ErrorCode: "ocr", Timeout: 10 * time.Second}
	res := inv.Invoke(context.Background(), Request{})
	assert.Equal(t, "ocr", res.ErrorCode)
	assert.Contains(t, res.ErrorMsg, "false failed")
}

func TestExecInvokerTimeout(t *testing.T) {
	// Extra request flags land in the shell's positional parameters.
	inv := &ExecInvoker{
		Binary:    "sh",
		Args:      []string{"-c", "sleep 5", "sh"},
		ErrorCode: "pdf2image",
		Timeout:   50 * time.Millisecond,
	}
	res := inv.Invoke(context.Background(), Request{})
	assert.Equal(t, "pdf2image", res.ErrorCode)
	assert.Contains(t, res.ErrorMsg, "timed out")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
