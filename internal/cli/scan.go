package cli

import (
	"encoding/json"
	"fmt"

	"devengine/internal/fsutil"

	"github.com/spf13/cobra"
)

func newScanCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <dir>",
		Short: "List candidate source images under a directory, split by raw/processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := fsutil.ListImages(args[0])
			if err != nil {
				return fmt.Errorf("scan %s: %w", args[0], err)
			}
			raw, processed := fsutil.SeparateRAWAndProcessed(files)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Raw       []string `json:"raw"`
				Processed []string `json:"processed"`
			}{raw, processed})
		},
	}
}
