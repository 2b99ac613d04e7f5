// Command maestro imports field-trial spreadsheets, resolves their entities
// against the maestro reference tables and serves lookups over HTTP and MCP.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/maestro/pkg/importer"
	"github.com/hazyhaar/maestro/pkg/maestro"
)

var (
	cfgPath string
	cfg     config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Entity resolution for field-trial datasets",
	Long: `maestro normalizes the identifying fields of raw field-trial records
(zone, variety, treatment, experimental unit), deduplicates them into entities
with dense surrogate ids, resolves their foreign keys against the maestro
reference tables and writes the re-keyed datasets.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cfgPath)
		if err != nil {
			return err
		}
		logger = setupLogging(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ./config.yaml)")
	rootCmd.AddCommand(importCmd, resolveCmd, concatCmd, compileCmd, runsCmd, sourcesCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadMaestros loads the registry and registers the YAML jobs.
func loadMaestros() (*maestro.Registry, error) {
	if err := os.MkdirAll(cfg.MaestrosDir, 0o755); err != nil {
		return nil, err
	}
	reg := maestro.NewRegistry(cfg.MaestrosDir)
	if err := reg.Load(); err != nil {
		return nil, err
	}
	jobs, err := importer.RegisterJobs(cfg.JobsDir)
	if err != nil {
		return nil, err
	}
	logger.Debug("maestros loaded", "count", reg.Count(), "entries", reg.TotalEntries(), "jobs", len(jobs))
	return reg, nil
}
