// Package ui provides colored terminal output for the docmill CLI.
package ui

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/docmill/docmill/internal/storage"
)

// Init applies the global color setting.
func Init(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// Section prints a section heading.
func Section(title string) {
	bold := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	bold.Println(title)
	fmt.Println(strings.Repeat("─", len(title)))
}

// Success prints a success line.
func Success(format string, args ...interface{}) {
	color.New(color.FgGreen).Printf("✓ "+format+"\n", args...)
}

// Warn prints a warning line.
func Warn(format string, args ...interface{}) {
	color.New(color.FgYellow).Printf("! "+format+"\n", args...)
}

// Errorf prints an error line to stderr.
func Errorf(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

// Table displays rows in a formatted table.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// RunSummary prints the per-stage outcome of a pipeline invocation.
func RunSummary(runs []*storage.Run) {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ActionCode,
			fmt.Sprintf("%d", run.TotalToBeProcessed),
			fmt.Sprintf("%d", run.TotalOKProcessed),
			fmt.Sprintf("%d", run.TotalErroneous),
		})
	}
	Table([]string{"STAGE", "QUEUED", "OK", "ERRONEOUS"}, rows)

	var erroneous int
	for _, run := range runs {
		erroneous += run.TotalErroneous
	}
	fmt.Println()
	if erroneous == 0 {
		Success("all stages completed without errors")
	} else {
		Warn("%d document(s) finished erroneous, rerun the stage to retry", erroneous)
	}
}
