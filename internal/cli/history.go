package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newLoadCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <image-id> <path>",
		Short: "Load an image's source and persisted history into the controller",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.ctrl.LoadImage(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(statusLine(true, "loaded %s: %d active entries, history_end=%d", args[0], len(st.History.Active()), st.History.HistoryEnd()))
			return nil
		},
	}
	return cmd
}

func newUnloadCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "unload <image-id>",
		Short: "Unload an image, tearing down its pipelines and scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root.ctrl.Unload(args[0])
			return nil
		},
	}
}

func newHistoryCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and navigate an image's history stack",
	}
	cmd.AddCommand(newHistoryShowCmd(root), newHistoryUndoCmd(root), newHistoryRedoCmd(root), newHistoryPopCmd(root), newHistoryReloadCmd(root))
	return cmd
}

func newHistoryShowCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "show <image-id>",
		Short: "Print the history stack's active entries as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := root.ctrl.State(args[0])
			if !ok {
				return fmt.Errorf("image %s is not loaded", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				HistoryEnd int `json:"history_end"`
				Active     any `json:"active"`
			}{st.History.HistoryEnd(), st.History.Active()})
		},
	}
}

func newHistoryUndoCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <image-id>",
		Short: "Step history_end back by one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, err := root.ctrl.Undo(args[0])
			if err != nil {
				return err
			}
			fmt.Println(statusLine(true, "undo: change_flag=%v", flag))
			return nil
		},
	}
}

func newHistoryRedoCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "redo <image-id>",
		Short: "Step history_end forward into the redo tail, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, err := root.ctrl.Redo(args[0])
			if err != nil {
				return err
			}
			fmt.Println(statusLine(true, "redo: change_flag=%v", flag))
			return nil
		},
	}
}

func newHistoryPopCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "pop <image-id> <n>",
		Short: "Set history_end to n, replaying module parameters from the new active prefix",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid history_end %q: %w", args[1], err)
			}
			flag, err := root.ctrl.PopHistory(args[0], n)
			if err != nil {
				return err
			}
			fmt.Println(statusLine(true, "pop: change_flag=%v", flag))
			return nil
		},
	}
}

func newHistoryReloadCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <image-id>",
		Short: "Reload history from the store, e.g. after an external sidecar edit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.ctrl.ReloadHistory(context.Background(), args[0])
		},
	}
}

func newReloadSourceCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "reload-source <image-id>",
		Short: "Re-decode an image's source file and mark every pipeline's input changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.ctrl.ReloadSource(context.Background(), args[0])
		},
	}
}

func newEditCmd(root *Root) *cobra.Command {
	var (
		priority    int
		enable      bool
		params      map[string]string
		blendParams map[string]string
		focusHash   string
	)

	cmd := &cobra.Command{
		Use:   "edit <image-id> <op>",
		Short: "Append a history entry for one module instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, err := root.ctrl.AddHistoryItem(context.Background(), args[0], editRequestFromFlags(args[1], priority, enable, params, blendParams, focusHash))
			if err != nil {
				return err
			}
			fmt.Println(statusLine(true, "edit: change_flag=%v", flag))
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "instance priority, for a second or later instance of the same op")
	cmd.Flags().BoolVar(&enable, "enable", true, "enable the instance (--enable=false disables it without removing it)")
	cmd.Flags().StringToStringVar(&params, "param", nil, "key=value parameter override, repeatable; values are parsed as JSON scalars")
	cmd.Flags().StringToStringVar(&blendParams, "blend", nil, "key=value blend-parameter override, repeatable")
	cmd.Flags().StringVar(&focusHash, "focus-hash", "", "widget focus hash; repeated edits with the same hash within the coalesce window replace the last entry instead of pushing a new one")

	return cmd
}
