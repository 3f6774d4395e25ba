package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/forsetidotfun/ferry/bridge"
)

// Config represents a ferry.yaml configuration file.
// All values are optional and act as defaults for ferry flags.
// CLI flags always override config values.
type Config struct {
	Artifact     string            `yaml:"artifact"`
	Canister     string            `yaml:"canister"`
	Network      string            `yaml:"network"`
	ChunkSize    int64             `yaml:"chunk_size"`
	ScratchDir   string            `yaml:"scratch_dir"`
	Dfx          string            `yaml:"dfx"`
	Pause        *Duration         `yaml:"pause,omitempty"`
	HealthMarker string            `yaml:"health_marker"`
	Limits       LimitsConfig      `yaml:"limits"`
	Methods      map[string]string `yaml:"methods,omitempty"`
	Recovery     RecoveryConfig    `yaml:"recovery"`
	Progress     ProgressConfig    `yaml:"progress"`
	Adapter      AdapterConfig     `yaml:"adapter"`
	Telemetry    TelemetryConfig   `yaml:"telemetry"`
}

// LimitsConfig holds the token limits pushed during configuration.
type LimitsConfig struct {
	MaxTokensQuery  *uint64 `yaml:"max_tokens_query,omitempty"`
	MaxTokensUpdate *uint64 `yaml:"max_tokens_update,omitempty"`
}

// RecoveryConfig selects how the operator acknowledges a fixed failure.
type RecoveryConfig struct {
	Mode string `yaml:"mode"`
	File string `yaml:"file"`
}

// ProgressConfig holds progress store defaults from the config file.
type ProgressConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// TelemetryConfig holds observability outputs.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	MetricsFile  string `yaml:"metrics_file"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MethodOverrides converts the methods map into bridge operation overrides.
// Unknown operation names are errors; empty method names are skipped.
func (c *Config) MethodOverrides() (map[bridge.Operation]string, error) {
	if len(c.Methods) == 0 {
		return nil, nil
	}

	// Sorted so the first unknown name reported is deterministic
	names := make([]string, 0, len(c.Methods))
	for name := range c.Methods {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[bridge.Operation]string, len(names))
	for _, name := range names {
		op := bridge.Operation(name)
		if !op.Valid() {
			return nil, fmt.Errorf("methods: unknown operation %q (must be one of %v)", name, bridge.Operations)
		}
		if c.Methods[name] != "" {
			out[op] = c.Methods[name]
		}
	}
	return out, nil
}
