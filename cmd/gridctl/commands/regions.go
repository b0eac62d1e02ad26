package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"regionsim.ai/internal/grid"
)

func regionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "regions", Short: "Inspect registered regions"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List regions in the grid scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			regions, err := db.Grid().List(cmd.Context(), a.scope)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tID\tLOCATION\tSIZE\tSTATE\tSERVER")
			for _, r := range regions {
				state := "offline"
				if r.Online() {
					state = "online"
				}
				if r.Flags.Has(grid.FlagDefaultRegion) {
					state += ",default"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d,%d\t%dx%d\t%s\t%s\n", r.Name, r.ID, r.GridX(), r.GridY(), r.SizeX, r.SizeY, state, r.ServerURI)
			}
			return tw.Flush()
		},
	})
	return cmd
}
