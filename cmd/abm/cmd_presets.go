package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/abm/internal/models"
	"github.com/nvandessel/abm/internal/params"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets [name]",
		Short: "List risk presets or print one preset's matrix",
		Long: `List the available transition-risk presets. With a name, print that
preset's 9x9 matrix: rows are the current state, columns the destination.

Examples:
  abm presets          # List preset names
  abm presets covid    # Print the covid matrix`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]interface{}{"presets": models.Presets()})
				}
				for _, name := range models.Presets() {
					marker := ""
					if name == models.DefaultPreset {
						marker = " (default)"
					}
					fmt.Fprintf(out, "%s%s\n", name, marker)
				}
				return nil
			}

			name := args[0]
			risks, ok := models.Preset(name)
			if !ok {
				return fmt.Errorf("%w: %q", params.ErrUnknownModel, name)
			}

			if jsonOut {
				rows := make(map[string][]float64, models.NumStates)
				for _, st := range models.AllStates() {
					rows[st.Column()] = risks.Row(st)
				}
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"name":   name,
					"matrix": rows,
				})
			}

			fmt.Fprintf(out, "%-5s", "")
			for _, to := range models.AllStates() {
				fmt.Fprintf(out, " %12s", to.Column())
			}
			fmt.Fprintln(out)
			for _, from := range models.AllStates() {
				fmt.Fprintf(out, "%-5s", from.Column())
				for _, risk := range risks.Row(from) {
					fmt.Fprintf(out, " %12.6g", risk)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}
