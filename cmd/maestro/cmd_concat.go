package main

import (
	"github.com/spf13/cobra"

	"github.com/hazyhaar/maestro/pkg/tabular"
)

var concatOutput string

var concatCmd = &cobra.Command{
	Use:   "concat <workbook.xlsx>",
	Short: "Concatenate every sheet of a workbook into one table",
	Long: `Reads every sheet of the workbook, lowercases the headers and stacks
the rows. Fails when a sheet's columns differ from the first sheet's.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frame, sheets, err := tabular.ConcatSheets(args[0])
		if err != nil {
			return err
		}
		for _, s := range sheets {
			logger.Info("sheet", "name", s.Name, "rows", s.Rows, "columns", s.Columns)
		}
		if concatOutput != "" {
			return tabular.WriteFile(concatOutput, frame)
		}
		return tabular.WriteCSV(cmd.OutOrStdout(), frame)
	},
}

func init() {
	concatCmd.Flags().StringVarP(&concatOutput, "output", "o", "", "output file (.csv or .xlsx); CSV on stdout by default")
}
