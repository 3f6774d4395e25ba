package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/forsetidotfun/ferry/cli/config"
	"github.com/forsetidotfun/ferry/progress"
)

// ResetCommand returns the reset command, which discards persisted progress
// so the next upload starts from chunk 1.
func ResetCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Clear every session in the progress store",
		},
	}
	flags = append(flags, sessionFlags(false)...)
	flags = append(flags, progressFlags()...)

	return &cli.Command{
		Name:   "reset",
		Usage:  "Clear the progress record of a transfer session",
		Flags:  flags,
		Action: resetAction,
	}
}

func resetAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	all := c.Bool("all")
	var sc sessionChoice
	if all {
		sc = sessionChoice{
			scratchDir: resolveString(c, "scratch-dir", configVal(cfg, func(c *config.Config) string { return c.ScratchDir })),
			progress:   parseProgressChoice(c, cfg),
		}
	} else if sc, err = parseSessionChoice(c, cfg); err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	store, err := buildProgressStore(c.Context, sc.progress, sc.scratchDir)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open progress store: %v", err), exitInvalidInput)
	}

	var keys []progress.Key
	if all {
		if keys, err = store.Keys(c.Context); err != nil {
			return cli.Exit(fmt.Sprintf("failed to list sessions: %v", err), exitFatal)
		}
	} else {
		keys = []progress.Key{progress.SessionKey(sc.name, sc.chunkSize)}
	}

	if err := clearSessions(c.Context, store, keys, c.App.Writer); err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	return nil
}

func clearSessions(ctx context.Context, store progress.Store, keys []progress.Key, w io.Writer) error {
	for _, key := range keys {
		if err := store.Clear(ctx, key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
		_, _ = fmt.Fprintf(w, "cleared %s\n", key)
	}
	return nil
}
