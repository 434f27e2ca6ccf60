package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"devengine/internal/pipeline"

	"github.com/spf13/cobra"
)

func parseKind(s string) (pipeline.Kind, error) {
	switch s {
	case "full", "":
		return pipeline.Full, nil
	case "preview":
		return pipeline.Preview, nil
	case "secondary":
		return pipeline.Secondary, nil
	default:
		return pipeline.Full, fmt.Errorf("unknown pipeline kind %q (want full|preview|secondary)", s)
	}
}

func parseZoomMode(s string) (pipeline.ZoomMode, error) {
	switch s {
	case "fit", "":
		return pipeline.ZoomFit, nil
	case "fill":
		return pipeline.ZoomFill, nil
	case "1:1":
		return pipeline.ZoomOneToOne, nil
	case "free":
		return pipeline.ZoomFree, nil
	default:
		return pipeline.ZoomFit, fmt.Errorf("unknown zoom mode %q (want fit|fill|1:1|free)", s)
	}
}

func newRenderCmd(root *Root) *cobra.Command {
	var (
		kindFlag string
		zoomFlag string
		boxW     int
		boxH     int
		imageW   int
		imageH   int
		zoom     float64
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "render <image-id>",
		Short: "Submit one render request and wait for its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(kindFlag)
			if err != nil {
				return err
			}
			mode, err := parseZoomMode(zoomFlag)
			if err != nil {
				return err
			}
			vp := pipeline.Viewport{
				Mode: mode, Zoom: zoom,
				BoxW: boxW, BoxH: boxH,
				ImageW: imageW, ImageH: imageH,
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
			defer cancel()
			status, err := root.ctrl.Render(ctx, args[0], kind, vp, timeout)
			if err != nil {
				return err
			}
			fmt.Println(statusLine(status == pipeline.StatusValid, "render %s/%s: %s", args[0], kind, status))
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "pipeline", "full", "pipeline to render (full|preview|secondary)")
	cmd.Flags().StringVar(&zoomFlag, "zoom-mode", "fit", "zoom mode (fit|fill|1:1|free)")
	cmd.Flags().Float64Var(&zoom, "zoom", 1, "zoom factor, used only with --zoom-mode=free")
	cmd.Flags().IntVar(&boxW, "box-w", 1024, "viewport box width in device pixels")
	cmd.Flags().IntVar(&boxH, "box-h", 768, "viewport box height in device pixels")
	cmd.Flags().IntVar(&imageW, "image-w", 0, "source image width, 0 to use the loaded source's width")
	cmd.Flags().IntVar(&imageH, "image-h", 0, "source image height, 0 to use the loaded source's height")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the render outcome")

	return cmd
}

func newWaitHashCmd(root *Root) *cobra.Command {
	var (
		kindFlag string
		dirFlag  string
		rank     int
		expected string
	)

	cmd := &cobra.Command{
		Use:   "wait-hash <image-id>",
		Short: "Block until a pipeline node's fingerprint matches, times out, or is reprocessed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(kindFlag)
			if err != nil {
				return err
			}
			var dir pipeline.Direction
			switch dirFlag {
			case "forward", "":
				dir = pipeline.DirectionForward
			case "backward":
				dir = pipeline.DirectionBackward
			default:
				return fmt.Errorf("unknown direction %q (want forward|backward)", dirFlag)
			}
			want, err := strconv.ParseUint(expected, 0, 64)
			if err != nil {
				return fmt.Errorf("invalid expected fingerprint %q: %w", expected, err)
			}
			result, reprocess, err := root.ctrl.WaitHash(context.Background(), args[0], kind, rank, dir, want)
			if err != nil {
				return err
			}
			label := "timed out"
			if result == pipeline.WaitOk {
				label = "matched"
			}
			fmt.Println(statusLine(result == pipeline.WaitOk, "wait-hash %s: %s (reprocess=%t)", args[0], label, reprocess))
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "pipeline", "full", "pipeline to wait on (full|preview|secondary)")
	cmd.Flags().StringVar(&dirFlag, "dir", "forward", "fingerprint direction (forward|backward)")
	cmd.Flags().IntVar(&rank, "rank", 0, "node rank to anchor the wait at")
	cmd.Flags().StringVar(&expected, "expected", "0x0", "expected fingerprint, as a decimal or 0x-prefixed hex value")

	return cmd
}
