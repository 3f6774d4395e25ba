package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/forsetidotfun/ferry/cli/render"
	"github.com/forsetidotfun/ferry/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version" yaml:"version"`
	ContractVersion string `json:"contract_version" yaml:"contract_version"`
	Commit          string `json:"commit" yaml:"commit"`
}

// VersionCommand returns the version command. It must not contact the remote.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			return r.Render(VersionResponse{
				Version:         types.Version,
				ContractVersion: types.ContractVersion,
				Commit:          commit,
			})
		},
	}
}
