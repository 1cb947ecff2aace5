// Package tool defines the invocation contract between the pipeline and its
// external collaborators (converter, OCR engine, renderer, extractor, parser,
// tokenizer). Collaborators are black boxes: the pipeline hands them file
// paths and reads back a status, never their internals.
package tool

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"time"

	"github.com/docmill/docmill/internal/observability"
)

// ParseStats carries the layout statistics reported by the line parsing
// collaborator.
type ParseStats struct {
	LinesHeader int `json:"lines_header"`
	LinesFooter int `json:"lines_footer"`
	ListsBullet int `json:"lists_bullet"`
	ListsNumber int `json:"lists_number"`
	Tables      int `json:"tables"`
}

// Request describes one invocation of an external collaborator.
type Request struct {
	InputPath    string
	OutputPath   string
	DocumentID   int64
	FileName     string
	LanguageCode string
	Pages        int
	Aux          map[string]string
}

// Result is what an invocation produced. An empty ErrorCode means success.
type Result struct {
	ErrorCode string
	ErrorMsg  string
	Children  int
	Pages     int
	Stats     *ParseStats
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.ErrorCode == ""
}

// Invoker runs one external collaborator. Implementations must not panic;
// every failure is reported through the Result.
type Invoker interface {
	Invoke(ctx context.Context, req Request) Result
}

// ExecInvoker shells out to a configured binary. The collaborator receives
// the request as command-line flags and signals failure through its exit
// code; stderr/stdout are captured into the error message.
type ExecInvoker struct {
	Binary    string
	Args      []string
	Timeout   time.Duration
	ErrorCode string // code reported when the binary fails
	Logger    *observability.Logger
}

// Invoke runs the binary with a bounded timeout.
func (e *ExecInvoker) Invoke(ctx context.Context, req Request) Result {
	if e.Binary == "" {
		return Result{ErrorCode: e.ErrorCode, ErrorMsg: "no binary configured"}
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{}, e.Args...)
	args = append(args,
		"--input", req.InputPath,
		"--output", req.OutputPath,
		"--document-id", strconv.FormatInt(req.DocumentID, 10),
	)
	if req.FileName != "" {
		args = append(args, "--file-name", req.FileName)
	}
	if req.LanguageCode != "" {
		args = append(args, "--language", req.LanguageCode)
	}
	if req.Pages > 0 {
		args = append(args, "--pages", strconv.Itoa(req.Pages))
	}
	keys := make([]string, 0, len(req.Aux))
	for k := range req.Aux {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--"+k, req.Aux[k])
	}

	cmd := exec.CommandContext(ctx, e.Binary, args...)

	if e.Logger != nil {
		e.Logger.Debug().
			Str("binary", e.Binary).
			Str("input", req.InputPath).
			Str("output", req.OutputPath).
			Int64("document_id", req.DocumentID).
			Msg("invoking collaborator")
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := fmt.Sprintf("%s failed: %v", e.Binary, err)
		if len(output) > 0 {
			msg = fmt.Sprintf("%s, output: %s", msg, truncate(string(output), 1024))
		}
		if ctx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("%s timed out after %s", e.Binary, timeout)
		}
		return Result{ErrorCode: e.ErrorCode, ErrorMsg: msg}
	}

	return Result{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
