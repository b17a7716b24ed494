// Package config loads the agent's TOML configuration: a `[log]` table,
// an optional `[pipeline]` table, and one `[plugins.<name>]` table per
// plugin (spec.md §6), using viper the way the teacher's
// internal/config package does.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"alumet/internal/log"
)

// PipelineConfig is the `[pipeline]` table: tuning knobs for the
// inter-stage channels and the source pause timeout (spec.md §4.10, §9).
type PipelineConfig struct {
	ChannelCapacity int           `mapstructure:"channel_capacity"`
	PauseTimeout    time.Duration `mapstructure:"pause_timeout"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
	MaxFlushRounds  uint32        `mapstructure:"max_flush_rounds"`
}

func defaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ChannelCapacity: 256,
		PauseTimeout:    60 * time.Second,
	}
}

// AgentConfig is the root of the TOML document.
type AgentConfig struct {
	Log      log.LoggerConfig `mapstructure:"log"`
	Pipeline PipelineConfig   `mapstructure:"pipeline"`
	// Plugins holds the enabled-plugins table itself; each plugin's
	// sub-table is decoded separately via PluginConfig so a plugin never
	// needs to know about its neighbors' schemas.
	Plugins map[string]map[string]any `mapstructure:"plugins"`
}

// Loaded bundles the typed AgentConfig with the underlying viper
// instance, so callers can decode a single plugin's sub-table with its
// own Config type (mirrors the teacher's mapstructure-per-plugin use).
type Loaded struct {
	Agent AgentConfig
	v     *viper.Viper
}

// Load reads path as TOML and decodes it into AgentConfig. Environment
// variables prefixed ALUMET_ override file values, with '.' and '-'
// mapped to '_', matching the teacher's env-override convention.
func Load(path string) (*Loaded, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("ALUMET")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var agent AgentConfig
	if err := v.Unmarshal(&agent, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if agent.Pipeline.ChannelCapacity <= 0 {
		agent.Pipeline.ChannelCapacity = defaultPipelineConfig().ChannelCapacity
	}
	if agent.Pipeline.PauseTimeout <= 0 {
		agent.Pipeline.PauseTimeout = defaultPipelineConfig().PauseTimeout
	}
	return &Loaded{Agent: agent, v: v}, nil
}

// PluginConfig decodes the `plugins.<name>` sub-table into out, a
// pointer to the plugin's own Config struct. A plugin with no table in
// the file gets out left at its caller-supplied zero/default value.
func (l *Loaded) PluginConfig(name string, out any) error {
	sub := l.v.Sub("plugins." + name)
	if sub == nil {
		return nil
	}
	return sub.Unmarshal(out, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc()))
}

// PluginEnabled reports whether `[plugins.<name>]` is present in the
// loaded file, i.e. whether the plugin should be started at all.
func (l *Loaded) PluginEnabled(name string) bool {
	_, ok := l.Agent.Plugins[name]
	return ok
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pattern", "%time [%level] %field %msg")
	v.SetDefault("log.time", time.RFC3339)
	v.SetDefault("pipeline.channel_capacity", 256)
	v.SetDefault("pipeline.pause_timeout", "60s")
}
