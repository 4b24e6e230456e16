package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

var revealCmd = &cobra.Command{
	Use:   "reveal [id...]",
	Short: "Combine past sessions into one result set",
	Long: `Reveal loads several past sessions and shows their results side by side,
with every panelist merged across them.

Example:
  panel reveal 3f2a9c1b 77d0e412`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()
		out := cmd.OutOrStdout()

		ids := make([]string, 0, len(args))
		for _, arg := range args {
			id, err := resolveID(cmd, a, arg)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		// Fetch concurrently, then show in the order given.
		if _, err := a.ctrl.Loader().LoadMany(cmd.Context(), ids); err != nil {
			return err
		}
		for _, id := range ids {
			if slices.Contains(a.ctrl.Snapshot().Visible, id) {
				continue
			}
			if _, err := a.ctrl.ToggleVisibility(cmd.Context(), id); err != nil {
				return err
			}
		}

		results := a.ctrl.Snapshot().Results
		for _, s := range results.Sessions {
			printSession(out, s)
			fmt.Fprintln(out)
		}
		printPanelists(out, results.Panelists)
		return nil
	},
}
