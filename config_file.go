package sessioncore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of [Config]. Durations are Go duration
// strings ("30m", "2s"); absent fields keep their defaults.
type fileConfig struct {
	Session struct {
		DefaultTTL         string `yaml:"defaultTTL"`
		MaxTTL             string `yaml:"maxTTL"`
		MaxSessionsPerUser *int   `yaml:"maxSessionsPerUser"`
	} `yaml:"session"`
	Quota struct {
		DefaultMemoryLimit      *int64   `yaml:"defaultMemoryLimit"`
		WarningThreshold        *float64 `yaml:"warningThreshold"`
		ConversationHistoryKeep *int     `yaml:"conversationHistoryKeep"`
		SearchHistoryKeep       *int     `yaml:"searchHistoryKeep"`
		RecentToolCallsKeep     *int     `yaml:"recentToolCallsKeep"`
	} `yaml:"quota"`
	Cache struct {
		Prefix    string `yaml:"prefix"`
		OpTimeout string `yaml:"opTimeout"`
	} `yaml:"cache"`
	Store struct {
		OpTimeout string `yaml:"opTimeout"`
	} `yaml:"store"`
	Lifecycle struct {
		Enabled             *bool  `yaml:"enabled"`
		SweepInterval       string `yaml:"sweepInterval"`
		SweepBatchLimit     *int   `yaml:"sweepBatchLimit"`
		AggregationInterval string `yaml:"aggregationInterval"`
	} `yaml:"lifecycle"`
	Events struct {
		Enabled    *bool `yaml:"enabled"`
		BufferSize *int  `yaml:"bufferSize"`
		DropIfFull *bool `yaml:"dropIfFull"`
	} `yaml:"events"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// LoadConfigFile reads a YAML config file and merges it over the defaults.
// A missing file is not an error; the defaults are returned unchanged.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if err := mergeFileConfig(&cfg, &fc); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func mergeFileConfig(cfg *Config, fc *fileConfig) error {
	if err := setDuration(&cfg.Session.DefaultTTL, fc.Session.DefaultTTL); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.MaxTTL, fc.Session.MaxTTL); err != nil {
		return err
	}
	setIfPresent(&cfg.Session.MaxSessionsPerUser, fc.Session.MaxSessionsPerUser)

	setIfPresent(&cfg.Quota.DefaultMemoryLimit, fc.Quota.DefaultMemoryLimit)
	setIfPresent(&cfg.Quota.WarningThreshold, fc.Quota.WarningThreshold)
	setIfPresent(&cfg.Quota.ConversationHistoryKeep, fc.Quota.ConversationHistoryKeep)
	setIfPresent(&cfg.Quota.SearchHistoryKeep, fc.Quota.SearchHistoryKeep)
	setIfPresent(&cfg.Quota.RecentToolCallsKeep, fc.Quota.RecentToolCallsKeep)

	if fc.Cache.Prefix != "" {
		cfg.Cache.Prefix = fc.Cache.Prefix
	}
	if err := setDuration(&cfg.Cache.OpTimeout, fc.Cache.OpTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.Store.OpTimeout, fc.Store.OpTimeout); err != nil {
		return err
	}

	setIfPresent(&cfg.Lifecycle.Enabled, fc.Lifecycle.Enabled)
	if err := setDuration(&cfg.Lifecycle.SweepInterval, fc.Lifecycle.SweepInterval); err != nil {
		return err
	}
	setIfPresent(&cfg.Lifecycle.SweepBatchLimit, fc.Lifecycle.SweepBatchLimit)
	if err := setDuration(&cfg.Lifecycle.AggregationInterval, fc.Lifecycle.AggregationInterval); err != nil {
		return err
	}

	setIfPresent(&cfg.Events.Enabled, fc.Events.Enabled)
	setIfPresent(&cfg.Events.BufferSize, fc.Events.BufferSize)
	setIfPresent(&cfg.Events.DropIfFull, fc.Events.DropIfFull)
	setIfPresent(&cfg.Metrics.Enabled, fc.Metrics.Enabled)
	return nil
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*dst = d
	return nil
}

func setIfPresent[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
