package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/yardcam/internal/config"
)

// ValidateSummary is the JSON payload of a successful validate.
type ValidateSummary struct {
	Path    string `json:"path"`
	Regions int    `json:"regions"`
	Starts  int    `json:"starts"`
	Ends    int    `json:"ends"`
	Cameras int    `json:"cameras"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a yardcam config file",
		Long: `Load a YAML, TOML or CUE config, apply defaults, check it against the
schema and build the region topology.

Exit codes:
  0 - config is valid
  1 - config is invalid
  2 - file missing or of an unknown format`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, args[0])
		},
	}
}

func runValidate(rootOpts *RootOptions, cmd *cobra.Command, path string) error {
	out := rootOpts.formatter(cmd)

	if _, err := config.FormatFor(path); err != nil {
		return WrapExitError(ExitCommandError, "unsupported config file", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return WrapExitError(ExitCommandError, "config file not found", err)
		}
		if fmtErr := out.Error(CodeConfigInvalid, "config invalid", err.Error()); fmtErr != nil {
			return fmtErr
		}
		return WrapExitError(ExitFailure, "config invalid", err)
	}

	topo, err := cfg.Topology()
	if err != nil {
		return WrapExitError(ExitFailure, "config invalid", err)
	}

	summary := ValidateSummary{
		Path:    path,
		Regions: topo.Len(),
		Starts:  len(topo.Starts()),
		Ends:    len(topo.Ends()),
		Cameras: len(cfg.Cameras),
	}
	if out.JSON() {
		return out.Success(summary)
	}
	return out.Success(fmt.Sprintf("✓ %s: %d regions (%d start, %d end), %d cameras",
		path, summary.Regions, summary.Starts, summary.Ends, summary.Cameras))
}
