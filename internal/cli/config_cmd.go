package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the running configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Database path:   %s\n", root.cfg.Paths.DatabasePath)
			fmt.Printf("Sidecar dir:     %s\n", root.cfg.Paths.SidecarDir)
			fmt.Printf("Workers/pipe:    %d\n", root.cfg.Processing.WorkerPerPipeline)
			fmt.Printf("Preview scale:   %g\n", root.cfg.Processing.PreviewDownsample)
			fmt.Printf("Undo merge secs: %d\n", root.cfg.Undo.MergeSameSecs)
			fmt.Printf("Undo review:     %d\n", root.cfg.Undo.ReviewSecs)
			fmt.Printf("Autosave:        enabled=%t delay=%ds slow_ms=%d\n",
				root.cfg.Autosave.Enabled, root.cfg.Autosave.DelaySeconds, root.cfg.Autosave.SlowWriteThresholdMS)
			fmt.Printf("Hash wait:       poll_ms=%d timeout_ms=%d\n", root.cfg.HashWait.PollIntervalMS, root.cfg.HashWait.TimeoutMS)
			fmt.Printf("Log level/fmt:   %s/%s\n", root.cfg.Logging.Level, root.cfg.Logging.Format)
			return nil
		},
	})
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("devengine (built with %s)\n", runtime.Version())
		},
	}
}
