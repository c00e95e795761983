// Package config loads domain.Config from defaults, an optional YAML file
// and MULERIFT_ environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/mulerift/internal/domain"
)

// EnvPrefix prefixes every configuration environment variable. Nested keys
// are separated by a double underscore, e.g.
// MULERIFT_DETECTION__MAX_CYCLE_LENGTH=5.
const EnvPrefix = "MULERIFT_"

// Load builds the configuration. The Pro tier defaults are used when
// MULERIFT_TIER=pro. A non-empty path must name a readable YAML file.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	defaults := domain.DefaultConfig()
	if os.Getenv(EnvPrefix+"TIER") == string(domain.TierPro) {
		defaults = domain.ProConfig()
	}
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps MULERIFT_EVENT_BUS__NATS_URL to event_bus.nats_url.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate rejects settings no component can run with.
func Validate(cfg *domain.Config) error {
	d := cfg.Detection
	switch {
	case d.MinCycleLength < 2:
		return fmt.Errorf("detection.min_cycle_length must be at least 2")
	case d.MaxCycleLength < d.MinCycleLength:
		return fmt.Errorf("detection.max_cycle_length must not be below min_cycle_length")
	case d.SmurfingWindow <= 0:
		return fmt.Errorf("detection.smurfing_window must be positive")
	case d.SmurfingThreshold < 1:
		return fmt.Errorf("detection.smurfing_threshold must be positive")
	case d.ShellMaxTransactions < 2:
		return fmt.Errorf("detection.shell_max_transactions must be at least 2")
	case d.ShellMaxDelay < 0:
		return fmt.Errorf("detection.shell_max_delay must not be negative")
	}

	s := cfg.Scoring
	switch {
	case s.CycleSaturation <= 0 || s.SmurfingSaturation <= 0:
		return fmt.Errorf("scoring saturations must be positive")
	case s.CycleWeight < 0 || s.TemporalWeight < 0:
		return fmt.Errorf("scoring weights must not be negative")
	case s.MinRingSize < 1:
		return fmt.Errorf("scoring.min_ring_size must be at least 1")
	}

	if cfg.Server.WorkerCount < 1 {
		return fmt.Errorf("server.worker_count must be at least 1")
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unsupported cache type: %s", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %s", cfg.EventBus.Type)
	}
	return nil
}
