package project

import (
	"fmt"
	"time"

	"uigen/internal/catalog"
)

type RootConfig struct {
	Version    int              `yaml:"version"`
	Cache      CacheConfig      `yaml:"cache"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type CacheConfig struct {
	MaxSize  int `yaml:"max_size"`
	MaxAgeMS int `yaml:"max_age_ms"`
}

func (c CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeMS) * time.Millisecond
}

type DispatcherConfig struct {
	// StageDelayMS pauses between planning/executing/aggregating for demos.
	StageDelayMS int `yaml:"stage_delay_ms"`
	MaxParallel  int `yaml:"max_parallel"`
	// SimulateLatency keeps the fixed per-capability delays of the mock agents.
	SimulateLatency bool `yaml:"simulate_latency"`
}

func (d DispatcherConfig) StageDelay() time.Duration {
	return time.Duration(d.StageDelayMS) * time.Millisecond
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Project struct {
	Root            RootConfig
	Capabilities    []catalog.CapabilityTemplate
	CapabilityFiles map[string]string
}

func DefaultRootConfig() RootConfig {
	return RootConfig{
		Version: 1,
		Cache: CacheConfig{
			MaxSize:  100,
			MaxAgeMS: int((5 * time.Minute) / time.Millisecond),
		},
		Dispatcher: DispatcherConfig{
			StageDelayMS:    0,
			MaxParallel:     4,
			SimulateLatency: true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

type IssueLevel string

const (
	IssueError   IssueLevel = "error"
	IssueWarning IssueLevel = "warning"
)

type Issue struct {
	Level   IssueLevel
	Path    string
	Field   string
	Message string
}

func (i Issue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("[%s] %s: %s", i.Level, i.Path, i.Message)
	}
	return fmt.Sprintf("[%s] %s (%s): %s", i.Level, i.Path, i.Field, i.Message)
}

type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed with %d issue(s)", len(e.Issues))
}

func (e *ValidationError) HasErrors() bool {
	if e == nil {
		return false
	}
	for _, it := range e.Issues {
		if it.Level == IssueError {
			return true
		}
	}
	return false
}
