package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/forsetidotfun/ferry/cli/config"
)

// loadConfig reads --config when set. A nil config means none was given.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}

// configVal reads a field from cfg, returning the zero value for a nil config.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	var zero T
	if cfg == nil {
		return zero
	}
	return get(cfg)
}

// resolveString applies precedence: explicit flag, then config, then flag default.
func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) || cfgVal == "" {
		return c.String(name)
	}
	return cfgVal
}

func resolveInt64(c *cli.Context, name string, cfgVal int64) int64 {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Int64(name)
	}
	return cfgVal
}

func resolveInt(c *cli.Context, name string, cfgVal *int) int {
	if c.IsSet(name) || cfgVal == nil {
		return c.Int(name)
	}
	return *cfgVal
}

func resolveUint64(c *cli.Context, name string, cfgVal *uint64) uint64 {
	if c.IsSet(name) || cfgVal == nil {
		return c.Uint64(name)
	}
	return *cfgVal
}

func resolveBool(c *cli.Context, name string, cfgVal bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return cfgVal || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Duration(name)
	}
	return cfgVal
}

// resolveOptionalDuration is resolveDuration for config values where zero is meaningful.
func resolveOptionalDuration(c *cli.Context, name string, cfgVal *config.Duration) time.Duration {
	if c.IsSet(name) || cfgVal == nil {
		return c.Duration(name)
	}
	return cfgVal.Duration
}
