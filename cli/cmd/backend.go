package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/forsetidotfun/ferry/adapter"
	redisadapter "github.com/forsetidotfun/ferry/adapter/redis"
	"github.com/forsetidotfun/ferry/adapter/webhook"
	"github.com/forsetidotfun/ferry/artifact"
	"github.com/forsetidotfun/ferry/cli/config"
	"github.com/forsetidotfun/ferry/progress"
)

// Progress backends.
const (
	backendFile = "file"
	backendFS   = "fs"
	backendS3   = "s3"
)

// Scratch subdirectories.
const (
	argumentsDir = "args"
	stagingDir   = "staging"
	progressDir  = "progress"
	journalDir   = "journal"
	triggerFile  = "retry"
)

// progressChoice holds parsed progress store configuration.
type progressChoice struct {
	backend     string // "file", "fs" or "s3"
	path        string // file/fs: directory, s3: bucket/prefix
	region      string
	endpoint    string
	s3PathStyle bool
}

func parseProgressChoice(c *cli.Context, cfg *config.Config) progressChoice {
	return progressChoice{
		backend:     resolveString(c, "progress-backend", configVal(cfg, func(c *config.Config) string { return c.Progress.Backend })),
		path:        resolveString(c, "progress-path", configVal(cfg, func(c *config.Config) string { return c.Progress.Path })),
		region:      resolveString(c, "progress-s3-region", configVal(cfg, func(c *config.Config) string { return c.Progress.Region })),
		endpoint:    resolveString(c, "progress-s3-endpoint", configVal(cfg, func(c *config.Config) string { return c.Progress.Endpoint })),
		s3PathStyle: resolveBool(c, "progress-s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Progress.S3PathStyle })),
	}
}

// buildProgressStore opens the configured progress store.
// Local backends default to a directory under scratchDir.
func buildProgressStore(ctx context.Context, choice progressChoice, scratchDir string) (progress.Store, error) {
	switch choice.backend {
	case backendFile, "":
		path := choice.path
		if path == "" {
			path = filepath.Join(scratchDir, progressDir)
		}
		return progress.NewFileStore(path)
	case backendFS:
		path := choice.path
		if path == "" {
			path = filepath.Join(scratchDir, journalDir)
		}
		return progress.NewLodeFSStore(path)
	case backendS3:
		if choice.path == "" {
			return nil, fmt.Errorf("--progress-path is required for the s3 backend (bucket/prefix)")
		}
		bucket, prefix := progress.ParseS3Path(choice.path)
		return progress.NewS3Store(ctx, progress.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       choice.region,
			Endpoint:     choice.endpoint,
			UsePathStyle: choice.s3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown progress backend: %s (must be file, fs or s3)", choice.backend)
	}
}

// remoteName is the name the remote knows the artifact at path by.
func remoteName(path string) string {
	name := filepath.Base(path)
	if artifact.DetectCompression(path) != artifact.CompressionNone {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name
}

// adapterChoice holds parsed adapter configuration.
type adapterChoice struct {
	typ     string
	url     string
	channel string
	headers map[string]string
	timeout time.Duration
	retries int
}

// parseAdapterChoice resolves adapter settings; a zero typ means no adapter.
func parseAdapterChoice(c *cli.Context, cfg *config.Config) (adapterChoice, error) {
	ac := adapterChoice{
		typ:     resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type })),
		url:     resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
		channel: resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
		timeout: resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })),
		retries: resolveInt(c, "adapter-retries", configVal(cfg, func(c *config.Config) *int { return c.Adapter.Retries })),
		headers: map[string]string{},
	}
	if ac.typ == "" {
		return ac, nil
	}

	// Config headers first, CLI headers override
	for k, v := range configVal(cfg, func(c *config.Config) map[string]string { return c.Adapter.Headers }) {
		ac.headers[k] = v
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || k == "" {
			return ac, fmt.Errorf("invalid --adapter-header %q (expected key=value)", h)
		}
		ac.headers[k] = v
	}

	switch ac.typ {
	case "webhook", "redis":
	default:
		return ac, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", ac.typ)
	}
	if ac.url == "" {
		return ac, fmt.Errorf("--adapter-url is required when --adapter=%s", ac.typ)
	}
	return ac, nil
}

// buildAdapter creates the notifier. A nil adapter means notifications are off.
func buildAdapter(ac adapterChoice) (adapter.Adapter, error) {
	switch ac.typ {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	case "redis":
		return redisadapter.New(redisadapter.Config{
			URL:     ac.url,
			Channel: ac.channel,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s", ac.typ)
	}
}
