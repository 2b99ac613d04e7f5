package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/maestro/pkg/maestro"
)

var compileCmd = &cobra.Command{
	Use:   "compile [maestro...]",
	Short: "Write the gob cache of reference maestros",
	Long: `Parses the CSV of each reference maestro (all of them by default) and
writes data.gob next to it. LoadTable prefers the gob cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadMaestros()
		if err != nil {
			return err
		}
		ids := args
		if len(ids) == 0 {
			for id := range reg.References() {
				ids = append(ids, id)
			}
			sort.Strings(ids)
		}
		for _, id := range ids {
			t, ok := reg.Get(id)
			if !ok {
				return fmt.Errorf("%w %q", maestro.ErrUnknownMaestro, id)
			}
			n, err := maestro.Compile(t.Dir())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d keys\n", id, n)
		}
		return nil
	},
}
