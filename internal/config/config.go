// Package config layers the Kestrel configuration: tier defaults, an
// optional YAML file, then KESTREL_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore: KESTREL_PIPELINE__HPO__N_CALLS=20.
const EnvPrefix = "KESTREL_"

// PathEnv names the variable read when no config path is given.
const PathEnv = EnvPrefix + "CONFIG"

// Load builds the configuration. An empty path falls back to $KESTREL_CONFIG;
// a missing file at either location is skipped. The tier named by the file
// or the environment picks the defaults the overrides apply to.
func Load(path string) (*domain.Config, error) {
	if path == "" {
		path = os.Getenv(PathEnv)
	}

	overrides := koanf.New(".")
	if path != "" {
		if err := overrides.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, domain.Configurationf("loading config file %s: %v", path, err)
			}
			slog.Debug("config file not found, using defaults", "path", path)
		}
	}
	if err := overrides.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	defaults := domain.DefaultConfig()
	if domain.Tier(overrides.String("tier")) == domain.TierPro {
		defaults = domain.ProConfig()
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}
	if err := k.Merge(overrides); err != nil {
		return nil, fmt.Errorf("merging overrides: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, domain.Configurationf("unmarshaling config: %v", err)
	}

	// KESTREL_DEBUG=true is kept as a shorthand for logging.level=debug.
	if overrides.Bool("debug") {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// listKeys are the slice settings; their environment values are
// comma-separated.
var listKeys = map[string]bool{
	"serving.tenant_ids":          true,
	"pipeline.evaluation.metrics": true,
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func envValue(name, value string) (string, any) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	var items []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// Validate rejects settings no component could start with.
func Validate(cfg *domain.Config) error {
	switch cfg.Environment {
	case domain.EnvProd, domain.EnvTest:
	default:
		return domain.Configurationf("unknown environment %q", cfg.Environment)
	}
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return domain.Configurationf("unknown tier %q", cfg.Tier)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return domain.Configurationf("server port %d out of range", cfg.Server.Port)
	}
	if cfg.Serving.RateLimitRPS < 0 {
		return domain.Configurationf("serving.rate_limit_rps must not be negative")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return domain.Configurationf("unknown log format %q", cfg.Logging.Format)
	}
	return nil
}

// Level maps logging.level onto a slog level. Unknown names mean info.
func Level(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: Level(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
