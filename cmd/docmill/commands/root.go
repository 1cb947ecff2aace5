// Package commands contains the docmill CLI commands.
package commands

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "docmill",
	Short: "docmill - document conversion and extraction pipeline",
	Long: `docmill drives documents through a multi-stage pipeline: inbox triage,
format conversion, OCR, text extraction, parsing and tokenization. Every step
is recorded in the database so interrupted work can be resumed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine; values already in the environment win.
		_ = godotenv.Load()
		if cfgFile == "" {
			cfgFile = os.Getenv("DOCMILL_CONFIG")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
