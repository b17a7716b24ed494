package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"alumet/plugins"
)

var listPluginsCmd = &cobra.Command{
	Use:   "list-plugins",
	Short: "List every plugin this build was compiled with",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := plugins.Names()
		sort.Strings(names)
		w := consoleWriter()
		for _, n := range names {
			fmt.Fprintln(w, n)
		}
		return nil
	},
}
