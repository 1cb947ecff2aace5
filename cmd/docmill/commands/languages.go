package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docmill/docmill/cmd/docmill/ui"
	"github.com/docmill/docmill/internal/language"
	"github.com/docmill/docmill/internal/storage"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the active language registry",
	RunE:  runLanguages,
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}

func runLanguages(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ui.Init(noColor)

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	defer db.Close()

	registry, err := language.Load(ctx, storage.NewLanguageRepository(db))
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(registry.All()))
	for _, lang := range registry.All() {
		inbox := lang.DirectoryNameInbox
		if inbox == "" {
			inbox = "(inbox root)"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", lang.ID),
			lang.CodeISO6393,
			lang.Name,
			lang.CodeConverter,
			lang.CodeOCR,
			lang.CodeTokenizer,
			inbox,
		})
	}
	ui.Table([]string{"ID", "ISO", "NAME", "CONVERTER", "OCR", "TOKENIZER", "INBOX"}, rows)
	return nil
}
