package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	alumetconfig "alumet/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load --config and report any errors, without starting the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := alumetconfig.Load(configFile)
		if err != nil {
			exitWithError("invalid configuration", err)
			return err
		}
		fmt.Fprintf(consoleWriter(), "%s: OK (%d plugin table(s))\n", configFile, len(loaded.Agent.Plugins))
		return nil
	},
}
