package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/maestro/pkg/importer"
	"github.com/hazyhaar/maestro/pkg/tabular"
)

var (
	resolveOutput   string
	resolveEntities string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <job> <input>",
	Short: "Resolve a local file with a job without publishing anything",
	Long: `Runs a job's resolution over a local CSV or XLSX file. The re-keyed
records go to --output (CSV on stdout by default) and, for resolve jobs, the
entity table to --entities. Nothing is published to the maestros directory
and no run is recorded.`,
	Args: cobra.ExactArgs(2),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveOutput, "output", "o", "", "records output file (.csv or .xlsx)")
	resolveCmd.Flags().StringVar(&resolveEntities, "entities", "", "entity table output file (.csv or .xlsx)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	reg, err := loadMaestros()
	if err != nil {
		return err
	}
	a, err := importer.Get(args[0])
	if err != nil {
		return err
	}
	job, ok := a.(*importer.Job)
	if !ok {
		return fmt.Errorf("%s is not a resolution job", args[0])
	}

	frame, err := tabular.ReadFile(args[1], job.ReadOptions())
	if err != nil {
		return err
	}
	res, err := job.Resolve(frame, reg)
	if err != nil {
		return err
	}

	for dim, vals := range res.Stats.Unresolved {
		logger.Warn("unresolved natural keys", "dimension", dim, "values", vals)
	}
	logger.Info("resolved",
		"adapter", job.ID(),
		"records", res.Stats.Records,
		"entities", res.Stats.Entities,
		"unresolved", res.Stats.UnresolvedCount(),
		"unmatched", res.Stats.Unmatched,
	)

	if resolveEntities != "" && job.Mode == importer.ModeResolve {
		if err := tabular.WriteFile(resolveEntities, res.EntityFrame()); err != nil {
			return err
		}
	}
	if resolveOutput != "" {
		return tabular.WriteFile(resolveOutput, res.RecordFrame())
	}
	return tabular.WriteCSV(cmd.OutOrStdout(), res.RecordFrame())
}
