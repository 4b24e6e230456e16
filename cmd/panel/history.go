package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse past sessions",
}

var historyLocal bool

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var summaries []core.SessionSummary

		if historyLocal {
			store, err := getStorage()
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()
			list, err := store.ListSessions(50, 0)
			if err != nil {
				return err
			}
			for _, s := range list {
				summaries = append(summaries, *s)
			}
		} else {
			a := newApp()
			defer a.Close()
			if err := a.ctrl.RefreshHistory(cmd.Context()); err != nil {
				return err
			}
			summaries = a.ctrl.Snapshot().History
		}

		if len(summaries) == 0 {
			fmt.Println("No sessions found. Start one with: panel ask \"Your question\"")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tQUESTION\tMODE\tPANEL\tCREATED")
		fmt.Fprintln(w, "──\t────────\t────\t─────\t───────")

		for _, s := range summaries {
			shortQuestion := s.Question
			if len(shortQuestion) > 45 {
				shortQuestion = shortQuestion[:42] + "..."
			}
			created := "-"
			if !s.CreatedAt.IsZero() {
				created = s.CreatedAt.Format("2006-01-02 15:04")
			}
			mode := s.Mode
			if mode == "" {
				mode = core.ModeSurvey
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				shortID(s.ID),
				shortQuestion,
				mode,
				s.PanelSize,
				created,
			)
		}
		w.Flush()

		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a session's results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()

		id, err := resolveID(cmd, a, args[0])
		if err != nil {
			return err
		}
		s, err := a.ctrl.Loader().Load(cmd.Context(), id)
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), s)
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Remove a session from local history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()

		if err := store.DeleteSession(args[0]); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		slog.Debug("Deleted archived session", "id", args[0])
		fmt.Printf("Deleted %s from local history\n", args[0])
		return nil
	},
}

func init() {
	historyListCmd.Flags().BoolVar(&historyLocal, "local", false, "List the local history instead of the backend")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveID expands a unique ID prefix using the backend list. The argument
// is returned unchanged when the list is unavailable or nothing matches.
func resolveID(cmd *cobra.Command, a *app, arg string) (string, error) {
	if err := a.ctrl.RefreshHistory(cmd.Context()); err != nil {
		slog.Debug("Cannot resolve ID prefix", "prefix", arg, "error", err)
		return arg, nil
	}
	var matches []string
	for _, s := range a.ctrl.Snapshot().History {
		if s.ID == arg {
			return arg, nil
		}
		if strings.HasPrefix(s.ID, arg) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return arg, nil
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("ambiguous session ID %q matches %d sessions", arg, len(matches))
}
