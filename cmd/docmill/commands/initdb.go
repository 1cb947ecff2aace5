package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docmill/docmill/cmd/docmill/ui"
	"github.com/docmill/docmill/internal/language"
	"github.com/docmill/docmill/internal/storage"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the database schema and seed the language registry",
	RunE:  runInitDB,
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}

func runInitDB(cmd *cobra.Command, args []string) error {
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

	if err := storage.NewSchemaManager(db, cfg.Database.Driver).EnsureSchema(ctx); err != nil {
		return err
	}
	ui.Success("schema is up to date (%s)", cfg.Database.Driver)

	seedPath := cfg.Directories.LanguagesFile
	if _, err := os.Stat(seedPath); err != nil {
		seedPath = ""
	}
	created, err := language.Seed(ctx, storage.NewLanguageRepository(db), seedPath)
	if err != nil {
		return err
	}
	if created > 0 {
		ui.Success("seeded %d language(s)", created)
	} else {
		ui.Success("language registry already seeded")
	}

	for _, dir := range []string{cfg.Directories.Inbox,
		cfg.Directories.InboxAccepted, cfg.Directories.InboxRejected} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	ui.Success("inbox directories ready")
	return nil
}
