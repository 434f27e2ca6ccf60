// Package cli implements the devengine command-line surface (§4.10's
// external interface): one Cobra command per develop-controller operation,
// plus a serve command that mounts the lifecycle hub's HTTP routes.
//
// Grounded on the teacher's internal/cli/cobra.go: a Root struct threading
// the process's collaborators through constructor functions, one
// newXxxCmd(root) per subcommand, generalized from photonic's per-job-type
// commands to one per develop-controller method.
package cli

import (
	"log/slog"

	"devengine/internal/config"
	"devengine/internal/develop"
	"devengine/internal/lifecycle"

	"github.com/spf13/cobra"
)

// Root wires CLI commands to the develop controller.
type Root struct {
	ctrl *develop.Controller
	hub  *lifecycle.Hub
	cfg  *config.Config
	log  *slog.Logger
}

// NewRoot constructs the CLI root.
func NewRoot(ctrl *develop.Controller, hub *lifecycle.Hub, cfg *config.Config, log *slog.Logger) *Root {
	return &Root{ctrl: ctrl, hub: hub, cfg: cfg, log: log}
}

// NewRootCmd builds the devengine Cobra command tree.
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devengine",
		Short: "devengine is a non-destructive raw image develop engine",
		Long: `devengine maintains a per-image history stack, a dependency-ordered
pixel pipeline, and a render scheduler, and exposes them over a CLI and an
HTTP/WebSocket lifecycle stream.`,
	}

	rootCmd.AddCommand(
		newScanCmd(root),
		newLoadCmd(root),
		newUnloadCmd(root),
		newHistoryCmd(root),
		newReloadSourceCmd(root),
		newEditCmd(root),
		newRenderCmd(root),
		newWaitHashCmd(root),
		newServeCmd(root),
		newConfigCmd(root),
		newVersionCmd(root),
	)
	return rootCmd
}
