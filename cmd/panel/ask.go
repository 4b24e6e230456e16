package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mosaictheory-jt/panel-chat/internal/catalog"
	"github.com/mosaictheory-jt/panel-chat/internal/config"
	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Put a question to a new panel",
	Long: `Draw a panel, break the question into sub-questions, review them and run.

Examples:
  panel ask "Will your team adopt a lakehouse next year?"
  panel ask "Is dbt still worth it?" -n 20 --models gpt-4.1-mini,gemini-2.5-flash
  panel ask "Should data teams own ML?" --mode debate --rounds 3 -f "industry=Retail|Finance"
  panel ask "Biggest bottleneck?" --temp gpt-4.1=0.9 --yes --export markdown`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var (
	askMode      string
	askPanelSize int
	askRounds    int
	askModels    string
	askAnalyzer  string
	askFilters   []string
	askTemps     string
	askYes       bool
	askExport    string
	askOutput    string
)

func init() {
	askCmd.Flags().StringVar(&askMode, "mode", "", "survey or debate (default from config)")
	askCmd.Flags().IntVarP(&askPanelSize, "panel-size", "n", 0, "Number of respondents")
	askCmd.Flags().IntVarP(&askRounds, "rounds", "r", 0, "Debate rounds")
	askCmd.Flags().StringVarP(&askModels, "models", "m", "", "Comma-separated model IDs")
	askCmd.Flags().StringVar(&askAnalyzer, "analyzer", "", "Model used to break the question down")
	askCmd.Flags().StringArrayVarP(&askFilters, "filter", "f", nil, "Respondent filter key=v1|v2 (repeatable)")
	askCmd.Flags().StringVar(&askTemps, "temp", "", "Per-model temperatures model=t,...")
	askCmd.Flags().BoolVarP(&askYes, "yes", "y", false, "Run the breakdown without review")
	askCmd.Flags().StringVar(&askExport, "export", "", "Export the result when done (markdown, json, pdf)")
	askCmd.Flags().StringVarP(&askOutput, "output", "o", ".", "Directory for --export")
}

// buildSessionConfig merges command flags over the configured defaults.
func buildSessionConfig(question string, defaults config.DefaultsConfig) (core.NewSessionConfig, error) {
	cfg := core.NewSessionConfig{
		Question:      question,
		Mode:          defaults.Mode,
		PanelSize:     defaults.PanelSize,
		Rounds:        defaults.Rounds,
		Filters:       defaults.Filters.Clone(),
		Models:        append([]string(nil), defaults.Models...),
		AnalyzerModel: defaults.AnalyzerModel,
	}

	if askMode != "" {
		cfg.Mode = core.Mode(askMode)
		if !cfg.Mode.Valid() {
			return cfg, fmt.Errorf("invalid --mode %q: use survey or debate", askMode)
		}
	}
	if askPanelSize != 0 {
		if askPanelSize < 1 {
			return cfg, fmt.Errorf("--panel-size must be at least 1")
		}
		cfg.PanelSize = askPanelSize
	}
	if askRounds != 0 {
		if askRounds < 1 {
			return cfg, fmt.Errorf("--rounds must be at least 1")
		}
		cfg.Rounds = askRounds
	}
	if askModels != "" {
		cfg.Models = nil
		for _, m := range strings.Split(askModels, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.Models = append(cfg.Models, m)
			}
		}
	}
	if askAnalyzer != "" {
		cfg.AnalyzerModel = askAnalyzer
	}
	if len(askFilters) > 0 {
		f, err := core.ParseFilterSpecs(askFilters)
		if err != nil {
			return cfg, fmt.Errorf("invalid --filter: %w", err)
		}
		cfg.Filters = f
	}
	return cfg, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	question := strings.Join(args, " ")

	cfg, err := buildSessionConfig(question, appConfig.Defaults)
	if err != nil {
		return err
	}

	settings := appConfig.Settings()
	if askTemps != "" {
		temps, err := core.ParseTemperatures(askTemps)
		if err != nil {
			return fmt.Errorf("invalid --temp: %w", err)
		}
		for model, t := range temps {
			settings.Temperatures[model] = t
		}
	}
	if !catalog.HasRequiredSettings(settings.APIKeys, cfg.Models) {
		return fmt.Errorf("no API key configured for any of %s: set one in %s or the environment",
			strings.Join(cfg.Models, ", "), config.DefaultConfigPath())
	}

	a := newApp()
	defer a.Close()
	a.ctrl.UpdateSettings(settings)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(out, mutedStyle.Render("Drawing panel and analyzing question..."))
	s, err := a.ctrl.Submit(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %d respondents\n\n", headerStyle.Render("Panel:"), len(s.Panel))
	printBreakdown(out, s.Breakdown)

	est := session.EstimateSurveyCost(cfg.Models, len(s.Panel), len(s.Breakdown.SubQuestions))
	fmt.Fprintf(out, "Estimated cost: %s\n", session.FormatCost(est.TotalCost))

	if !askYes {
		ok, err := confirm(cmd.InOrStdin(), out, "Run this breakdown? [Y/n] ")
		if err != nil {
			return err
		}
		if !ok {
			if err := a.ctrl.Cancel(); err != nil && !errors.Is(err, session.ErrInvalidTransition) {
				return err
			}
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := a.ctrl.Run(ctx, nil); err != nil {
		return err
	}

	final, err := awaitWithProgress(ctx, a.ctrl, cmd.ErrOrStderr())
	if err != nil {
		if ctx.Err() != nil {
			a.ctrl.Cancel()
			return fmt.Errorf("interrupted: %w", ctx.Err())
		}
		return err
	}

	fmt.Fprintln(out)
	printSession(out, final)

	if final.Phase == core.PhaseError {
		return fmt.Errorf("session %s failed: %s", final.ID, final.Error)
	}

	if askExport != "" {
		path, err := writeExport(final, askExport, askOutput)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported to %s\n", path)
	}
	return nil
}

// awaitWithProgress redraws a progress line on w until the run settles.
func awaitWithProgress(ctx context.Context, ctrl *session.Controller, w io.Writer) (*core.Session, error) {
	updates, unsubscribe := ctrl.Subscribe()
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				fmt.Fprint(w, "\r\033[K")
				return
			case snap := <-updates:
				if line := progressLine(snap); line != "" {
					fmt.Fprint(w, "\r\033[K"+line)
				}
			}
		}
	}()

	s, err := ctrl.Await(ctx)
	close(done)
	<-stopped
	unsubscribe()
	return s, err
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			// No terminal to answer from
			return false, nil
		}
		if !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("failed to read answer: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true, nil
	}
	return false, nil
}
