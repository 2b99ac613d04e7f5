package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/maestro/pkg/importer"
)

var (
	importAll   bool
	importInput string
)

var importCmd = &cobra.Command{
	Use:   "import [adapter...]",
	Short: "Import datasets and write their re-keyed outputs",
	Long: `Runs one or more import adapters. Each run is recorded in the ledger.
Without arguments, lists the available adapters and their configured input.

Examples:
  maestro import caida-de-hojas
  maestro import almidon-en-yemas --input raw/almidon.xlsx
  maestro import --all`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importAll, "all", false, "import every registered adapter")
	importCmd.Flags().StringVar(&importInput, "input", "", "input path or URL (single adapter only)")
}

func runImport(cmd *cobra.Command, args []string) error {
	reg, err := loadMaestros()
	if err != nil {
		return err
	}
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	var adapters []importer.Adapter
	switch {
	case importAll:
		adapters = importer.All()
	case len(args) == 0:
		return printSources(cmd, ledger)
	default:
		for _, id := range args {
			a, err := importer.Get(id)
			if err != nil {
				return err
			}
			adapters = append(adapters, a)
		}
	}
	if importInput != "" && len(adapters) != 1 {
		return fmt.Errorf("--input requires exactly one adapter")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var failed int
	for _, a := range importer.Ordered(adapters) {
		rep, err := importer.Execute(ctx, ledger, a, importer.Request{
			Input:     importInput,
			OutputDir: cfg.OutputDir,
			Maestros:  reg,
			Logger:    logger,
		})
		if err != nil {
			logger.Error("import failed", "adapter", a.ID(), "error", err)
			failed++
			continue
		}
		for _, out := range rep.Outputs {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", a.ID(), out)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(adapters))
	}
	return nil
}

func openLedger() (*importer.Ledger, error) {
	ledger, err := importer.OpenLedger(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	if err := ledger.Seed(importer.All()); err != nil {
		ledger.Close()
		return nil, err
	}
	return ledger, nil
}
