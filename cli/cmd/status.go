package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/forsetidotfun/ferry/artifact"
	"github.com/forsetidotfun/ferry/cli/config"
	"github.com/forsetidotfun/ferry/cli/render"
	"github.com/forsetidotfun/ferry/codec"
	"github.com/forsetidotfun/ferry/progress"
)

// StatusResponse describes the persisted progress of one transfer session.
type StatusResponse struct {
	SessionKey       string         `json:"session_key" yaml:"session_key"`
	Artifact         string         `json:"artifact" yaml:"artifact"`
	ChunkSize        int64          `json:"chunk_size" yaml:"chunk_size"`
	TotalChunks      *int           `json:"total_chunks,omitempty" yaml:"total_chunks,omitempty"`
	LastAcknowledged *int           `json:"last_acknowledged,omitempty" yaml:"last_acknowledged,omitempty"`
	NextChunk        int            `json:"next_chunk" yaml:"next_chunk"`
	Backend          string         `json:"backend" yaml:"backend"`
	Journal          []progress.Ack `json:"journal,omitempty" yaml:"journal,omitempty"`
}

// StatusCommand returns the status command. It never contacts the remote.
func StatusCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		&cli.BoolFlag{
			Name:  "journal",
			Usage: "Include per-chunk journal entries (fs and s3 backends)",
		},
	}
	flags = append(flags, ReadOnlyFlags()...)
	flags = append(flags, sessionFlags(false)...)
	flags = append(flags, progressFlags()...)

	return &cli.Command{
		Name:   "status",
		Usage:  "Show the persisted progress of a transfer session",
		Flags:  flags,
		Action: statusAction,
	}
}

// sessionChoice identifies a session from flags and config.
type sessionChoice struct {
	artifactPath string
	name         string
	chunkSize    int64
	scratchDir   string
	progress     progressChoice
}

func parseSessionChoice(c *cli.Context, cfg *config.Config) (sessionChoice, error) {
	sc := sessionChoice{
		artifactPath: resolveString(c, "artifact", configVal(cfg, func(c *config.Config) string { return c.Artifact })),
		chunkSize:    resolveInt64(c, "chunk-size", configVal(cfg, func(c *config.Config) int64 { return c.ChunkSize })),
		scratchDir:   resolveString(c, "scratch-dir", configVal(cfg, func(c *config.Config) string { return c.ScratchDir })),
		progress:     parseProgressChoice(c, cfg),
	}
	if sc.artifactPath == "" {
		return sc, errors.New("--artifact is required (or set artifact in the config file)")
	}
	if sc.chunkSize <= 0 {
		return sc, fmt.Errorf("--chunk-size must be > 0, got %d", sc.chunkSize)
	}
	sc.name = remoteName(sc.artifactPath)
	return sc, nil
}

// totalChunks returns the chunk count when the artifact content is available
// locally: the file itself, or the staged copy of a compressed file.
func (sc sessionChoice) totalChunks() *int {
	path := sc.artifactPath
	if artifact.DetectCompression(path) != artifact.CompressionNone {
		path = filepath.Join(sc.scratchDir, stagingDir, sc.name)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	plan, err := codec.NewPlan(info.Size(), sc.chunkSize)
	if err != nil {
		return nil
	}
	total := plan.Total()
	return &total
}

func statusAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	sc, err := parseSessionChoice(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	store, err := buildProgressStore(c.Context, sc.progress, sc.scratchDir)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open progress store: %v", err), exitInvalidInput)
	}

	resp, err := sessionStatus(c.Context, store, sc, c.Bool("journal"))
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	return r.Render(resp)
}

func sessionStatus(ctx context.Context, store progress.Store, sc sessionChoice, withJournal bool) (*StatusResponse, error) {
	key := progress.SessionKey(sc.name, sc.chunkSize)
	resp := &StatusResponse{
		SessionKey:  key.String(),
		Artifact:    sc.name,
		ChunkSize:   sc.chunkSize,
		TotalChunks: sc.totalChunks(),
		NextChunk:   1,
		Backend:     sc.progress.backend,
	}
	if resp.Backend == "" {
		resp.Backend = backendFile
	}

	last, ok, err := store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	if ok {
		resp.LastAcknowledged = &last
		resp.NextChunk = last + 1
	}

	if journaled, isJournal := store.(*progress.LodeStore); withJournal && isJournal && ok {
		if resp.Journal, err = journaled.Journal(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to read journal: %w", err)
		}
	}
	return resp, nil
}
