// Package cmd implements the alumet-agent CLI using cobra, mirroring the
// teacher's cmd/root.go + Execute() convention.
package cmd

import (
	"fmt"
	"io"
	"os"

	colorable "github.com/mattn/go-colorable"
	"github.com/spf13/cobra"
)

var (
	// Global flags shared by every subcommand (spec.md §6).
	configFile string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "alumet-agent",
	Short: "Alumet — a modular hardware and OS energy/performance telemetry agent",
	Long: `Alumet samples hardware and OS energy/performance counters (RAPL, NVML,
AMD SMI, perf_events, procfs, cgroup v1/v2, ...), transforms the resulting
time series through a dynamic Source -> Transform -> Output pipeline, and
forwards them to sinks such as InfluxDB, a relay server, or CSV.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/alumet/alumet.toml",
		"TOML configuration file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "write CLI messages to plain stdout instead of the colorable console writer")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listPluginsCmd)
}

// Execute adds all child commands to the root command and parses flags.
// It is called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

// consoleWriter returns the stdout writer for the CLI's own human-facing
// messages: go-colorable's Windows-safe stdout by default, or os.Stdout
// itself under --no-color. Log output does not go through it.
func consoleWriter() io.Writer {
	if noColor {
		return os.Stdout
	}
	return colorable.NewColorableStdout()
}

func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
