package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tevino/abool"

	alumetconfig "alumet/internal/config"
	"alumet/internal/log"
	"alumet/internal/pipeline/builder"
	"alumet/internal/trigger"
	"alumet/pkg/plugin"
	"alumet/plugins"
)

var enabledPlugins []string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the configuration, build the pipeline, and run until shutdown",
	RunE:  runAgent,
}

func init() {
	runCmd.Flags().StringSliceVar(&enabledPlugins, "plugins", nil,
		"plugins to start, overriding the [plugins.*] tables present in --config")
}

func runAgent(cmd *cobra.Command, args []string) error {
	loaded, err := alumetconfig.Load(configFile)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if err := log.Init(loaded.Agent.Log); err != nil {
		return fmt.Errorf("run: initializing logger: %w", err)
	}
	logger := log.GetLogger()
	defer func() {
		if cerr := log.Close(); cerr != nil {
			logger.WithError(cerr).Warn("run: error flushing log appenders")
		}
	}()
	fmt.Fprintf(consoleWriter(), "alumet-agent starting, config=%s\n", configFile)

	names := enabledPlugins
	if len(names) == 0 {
		for name := range loaded.Agent.Plugins {
			names = append(names, name)
		}
	}

	plugins_, err := loadPlugins(names, loaded)
	if err != nil {
		return err
	}

	pipelineCfg := builder.PipelineConfig{
		Plugins:         plugins_,
		ChannelCapacity: loaded.Agent.Pipeline.ChannelCapacity,
		PauseTimeout:    loaded.Agent.Pipeline.PauseTimeout,
		Constraints: trigger.Constraints{
			MinInterval:    loaded.Agent.Pipeline.MinInterval,
			MaxFlushRounds: loaded.Agent.Pipeline.MaxFlushRounds,
		},
		Log: log.Entry(),
	}

	rp, err := builder.NewPipeline(pipelineCfg)
	if err != nil {
		return fmt.Errorf("run: building pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// forceExit arms a grace period: the first SIGINT/SIGTERM begins the
	// graceful drain below via rp.Shutdown(), and if the drain has not let
	// runAgent return within 30s the process exits with status 1 rather
	// than hanging forever on a stuck plugin. Further signals do not
	// shorten that wait.
	forceExit := abool.New()
	go func() {
		<-ctx.Done()
		logger.Info("run: shutdown signal received, draining pipeline")
		rp.Shutdown()
		if !forceExit.SetToIf(false, true) {
			return
		}
		go func() {
			<-time.After(30 * time.Second)
			if forceExit.IsSet() {
				logger.Warn("run: shutdown did not complete within 30s, forcing exit")
				os.Exit(1)
			}
		}()
	}()

	if err := rp.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("run: pipeline shutdown reported errors")
		return err
	}
	logger.Info("run: clean shutdown")
	return nil
}

func loadPlugins(names []string, loaded *alumetconfig.Loaded) ([]plugin.Plugin, error) {
	result := make([]plugin.Plugin, 0, len(names))
	for _, name := range names {
		p, err := plugins.InitWithConfig(name, loaded)
		if err != nil {
			return nil, fmt.Errorf("run: initializing plugin %q: %w", name, err)
		}
		result = append(result, p)
	}
	return result, nil
}
