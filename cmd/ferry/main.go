// Package main provides the ferry CLI entrypoint.
//
// Usage:
//
//	ferry <command> [options]
//
// Exit codes for `upload`:
//   - 0: artifact uploaded and activated
//   - 1: fatal failure (health check, configuration, progress store)
//   - 2: activation failed after every chunk was acknowledged
//   - 3: invalid input
//   - 4: interrupted, progress preserved
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/forsetidotfun/ferry/cli/cmd"
	"github.com/forsetidotfun/ferry/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "ferry",
		Usage:          "Resumable chunked artifact upload to an Internet Computer canister",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.UploadCommand(),
			cmd.StatusCommand(),
			cmd.ResetCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler prints the error message, if any, and exits with its code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus extracts the exit code and printable message from err.
// Wrapped cli.ExitCoder errors keep their code; anything else exits 1.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() returns "exit status N"
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
