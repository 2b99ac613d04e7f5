package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/maestro/pkg/importer"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent import runs",
	RunE:  runRuns,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List adapters with their configured input and last check",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadMaestros(); err != nil {
			return err
		}
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()
		return printSources(cmd, ledger)
	},
}

var sourcesSetCmd = &cobra.Command{
	Use:   "set <adapter> <input>",
	Short: "Override the input of an adapter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadMaestros(); err != nil {
			return err
		}
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()
		return ledger.SetInput(args[0], args[1])
	},
}

var sourcesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that every adapter input is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadMaestros(); err != nil {
			return err
		}
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()
		_, failed := importer.NewChecker(ledger, logger, time.Hour).CheckAll(cmd.Context())
		if failed > 0 {
			return fmt.Errorf("%d inputs unreachable", failed)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show (0 for all)")
	sourcesCmd.AddCommand(sourcesSetCmd, sourcesCheckCmd)
}

func printSources(cmd *cobra.Command, ledger *importer.Ledger) error {
	sources, err := ledger.ListSources()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADAPTER\tINPUT\tSTATUS\tDESCRIPTION")
	for _, src := range sources {
		status := "-"
		if src.LastStatus != nil {
			status = fmt.Sprint(*src.LastStatus)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", src.AdapterID, src.Input, status, src.Description)
	}
	return tw.Flush()
}

func runRuns(cmd *cobra.Command, args []string) error {
	ledger, err := importer.OpenLedger(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	runs, err := ledger.ListRuns(runsLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tADAPTER\tSTARTED\tSTATUS\tRECORDS\tENTITIES\tUNRESOLVED\tUNMATCHED\tERROR")
	for _, r := range runs {
		msg := ""
		if r.Error != nil {
			msg = *r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.AdapterID, time.Unix(r.StartedAt, 0).Format(time.DateTime), r.Status,
			r.Records, r.Entities, r.Unresolved, r.Unmatched, msg)
	}
	return tw.Flush()
}
