package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mosaictheory-jt/panel-chat/internal/catalog"
	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models and their prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := appConfig.Settings().APIKeys

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tPROVIDER\tMAX TEMP\tINPUT $/M\tOUTPUT $/M\tKEY")
		for _, m := range catalog.All() {
			key := "-"
			if catalog.KeyFor(keys, m.ID) != "" {
				key = "✓"
			}
			fmt.Fprintf(w, "%s\t%s\t%.1f\t%.2f\t%.2f\t%s\n",
				m.ID, m.Provider, m.MaxTemp, m.InputPerMillion, m.OutputPerMillion, key)
		}
		w.Flush()

		d := appConfig.Defaults
		est := session.EstimateSurveyCost(d.Models, d.PanelSize, 3)
		fmt.Printf("\nDefault models: %s\n", strings.Join(d.Models, ", "))
		fmt.Printf("Estimated survey cost (%d panelists, 3 sub-questions): %s\n", d.PanelSize, session.FormatCost(est.TotalCost))
		if !catalog.HasRequiredSettings(keys, d.Models) {
			fmt.Println(errorStyle.Render("No API key is configured for the default models."))
		}
		return nil
	},
}

var filtersCmd = &cobra.Command{
	Use:   "filters [key=v1|v2...]",
	Short: "Show respondent filter values, or count matching respondents",
	Long: `Without arguments, lists every filter attribute and its values.
With filter specs, prints how many respondents match.

Examples:
  panel filters
  panel filters "industry=Retail|Finance" region=Europe`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		if len(args) > 0 {
			f, err := core.ParseFilterSpecs(args)
			if err != nil {
				return err
			}
			n, err := client.CountRespondents(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("failed to count respondents: %w", err)
			}
			fmt.Printf("%d respondents match\n", n)
			return nil
		}

		opts, err := client.FilterOptions(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load filter options: %w", err)
		}
		keys := make([]string, 0, len(opts))
		for k := range opts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Println(headerStyle.Render(k))
			for _, v := range opts[k] {
				fmt.Printf("  %s\n", v)
			}
		}
		return nil
	},
}
