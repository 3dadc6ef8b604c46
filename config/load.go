package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const DefaultEnvPrefix = "ARCHIVIST"

// Load reads the configuration from an optional file and ARCHIVIST_*
// environment variables, which take precedence. Nested keys use underscores,
// e.g. ARCHIVIST_SNAPSHOTS_TYPE. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
		}
	}

	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks)); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables can override
// values absent from the file.
func setDefaults(v *viper.Viper, def *Config) {
	for prefix, repo := range map[string]RepositoryConfig{"snapshots": def.Snapshots, "versions": def.Versions} {
		v.SetDefault(prefix+".type", repo.Type)
		v.SetDefault(prefix+".path", repo.Path)
		v.SetDefault(prefix+".uri", repo.URI)
		v.SetDefault(prefix+".database", repo.Database)
		v.SetDefault(prefix+".collection", repo.Collection)
		v.SetDefault(prefix+".batch_size", repo.BatchSize)
		v.SetDefault(prefix+".author_name", repo.AuthorName)
		v.SetDefault(prefix+".author_email", repo.AuthorEmail)
		v.SetDefault(prefix+".default_branch", repo.DefaultBranch)
	}
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("retry_delays", durationStrings(def.RetryDelays))
	v.SetDefault("pool_size", def.PoolSize)
}

func durationStrings(delays []time.Duration) []string {
	out := make([]string, len(delays))
	for i, d := range delays {
		out[i] = d.String()
	}
	return out
}
