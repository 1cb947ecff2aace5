package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docmill/docmill/cmd/docmill/ui"
	"github.com/docmill/docmill/internal/language"
	"github.com/docmill/docmill/internal/pipeline"
	"github.com/docmill/docmill/internal/storage"
	"github.com/docmill/docmill/internal/triage"
)

var runCmd = &cobra.Command{
	Use:   "run [stage ...]",
	Short: "Run pipeline stages",
	Long: `Run one or more pipeline stages in the given order. Pass "all" to run
the canonical sequence: ` + strings.Join(pipeline.StageOrder, ", ") + `.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	stages, ok := pipeline.ExpandStages(args)
	if !ok {
		return fmt.Errorf("invalid stage arguments %v, valid stages: all, %s",
			args, strings.Join(pipeline.StageOrder, ", "))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ui.Init(noColor)

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	defer db.Close()

	repos := storage.NewRepositories(db)
	registry, err := language.Load(ctx, repos.Languages)
	if err != nil {
		return err
	}

	inbox := triage.NewProcessor(repos, registry, cfg.Directories,
		&triage.Inspector{Verify: cfg.Pipeline.VerifyPDF},
		cfg.Pipeline.IgnoreDuplicates, logger)

	dispatcher, err := pipeline.NewDispatcher(ctx, db, repos, registry, inbox,
		pipeline.NewInvokers(cfg.Tools, logger), cfg.Pipeline.Workers, logger)
	if err != nil {
		return err
	}

	ui.Section(fmt.Sprintf("Pipeline run %d", dispatcher.RunNo()))
	runs, err := dispatcher.RunStages(ctx, stages)
	if len(runs) > 0 {
		ui.RunSummary(runs)
	}
	return err
}
