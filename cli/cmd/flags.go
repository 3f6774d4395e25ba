// Package cmd provides CLI commands for the ferry binary.
package cmd

import "github.com/urfave/cli/v2"

// Defaults shared by commands.
const (
	defaultCanister   = "llama_cpp_canister"
	defaultNetwork    = "local"
	defaultChunkSize  = 2_000_000
	defaultScratchDir = "./tmp/chunks"
	defaultMaxTokens  = 3
)

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// ConfigFlag points at a ferry.yaml whose values act as flag defaults.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to ferry.yaml (flags override config values)",
		EnvVars: []string{"FERRY_CONFIG"},
	}
)

// ReadOnlyFlags returns the shared flags for commands that only print.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{FormatFlag}
}

// sessionFlags identify a transfer session: the artifact and the chunk size.
func sessionFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "artifact",
			Aliases:  []string{"a"},
			Usage:    "Path to the artifact (.zst and .lz4 are decompressed before upload)",
			Required: required,
		},
		&cli.Int64Flag{
			Name:  "chunk-size",
			Usage: "Chunk payload size in bytes",
			Value: defaultChunkSize,
		},
		&cli.StringFlag{
			Name:  "scratch-dir",
			Usage: "Directory for argument files, staged artifacts and the default progress store",
			Value: defaultScratchDir,
		},
	}
}

// progressFlags select the progress store backend.
func progressFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "progress-backend",
			Usage: "Progress store: file, fs (journal) or s3 (journal)",
			Value: backendFile,
		},
		&cli.StringFlag{
			Name:  "progress-path",
			Usage: "Progress location (file/fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "progress-s3-region",
			Usage: "AWS region for the s3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "progress-s3-endpoint",
			Usage: "Custom S3 endpoint for S3-compatible providers",
		},
		&cli.BoolFlag{
			Name:  "progress-s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
	}
}
