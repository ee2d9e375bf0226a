package main

import (
	"github.com/spf13/cobra"
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Print the effective memory layout",
	Long: `The layout command prints the layout kheapctl would use, after applying
--config or $KHEAP_CONFIG over the board defaults, as YAML. The output is a
valid layout file.

Example:
  kheapctl layout > board.yaml
  kheapctl layout --config board.yaml --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLayout()
	},
}

func init() {
	rootCmd.AddCommand(layoutCmd)
}

func runLayout() error {
	layout, err := loadLayout()
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(layout)
	}

	data, err := layout.Marshal()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
