package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "STAGEHAND_"

// Load reads configuration from the optional YAML file at configPath,
// overlays STAGEHAND_* environment variables, and validates the result.
// An empty configPath means <home>/config.yaml, which may be absent.
func Load(configPath string) (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	explicit := configPath != ""
	if configPath == "" {
		configPath = defaultConfigPath(cfg.Home)
	}

	content, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Default config file is optional.
	default:
		return Config{}, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Environment variables override the file. The first underscore
	// token selects the section, the rest stays a single key:
	// STAGEHAND_POLICY_REJECT_THRESHOLD -> policy.reject_threshold.
	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func transformEnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}

func defaultConfigPath(home string) string {
	return home + string(os.PathSeparator) + "config.yaml"
}
