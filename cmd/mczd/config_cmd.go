// cmd/mczd/config_cmd.go

package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd())
}

func configCmd() *cobra.Command {
	var addr string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the running configuration of a running mczd serve (plain text; --json for JSON)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := fetchRaw(addr, withFormat("/config", asJSON))
			if err != nil {
				return err
			}
			if asJSON {
				printRawJSON(body)
			} else {
				printPlain(body)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultServeAddr, "control-surface base URL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "request JSON instead of the plain-text default")
	return cmd
}
