package cmd

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List the local database engines that can be mirrored",
	RunE: func(cmd *cobra.Command, args []string) error {
		data := pterm.TableData{{"Type", "Name", "Driver", "Default schema", "Aliases", "Testable"}}
		for _, e := range datasource.RegisteredEngines() {
			data = append(data, []string{e.Type, e.DisplayName, e.Driver, e.DefaultSchema, strings.Join(e.Aliases, ", "), yesNo(e.Testable)})
		}
		return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
