// cmd/mczd/stats_cmd.go

package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd())
}

func statsCmd() *cobra.Command {
	var addr string
	var namespace string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print hot-path, trainer, GC, and efficiency-tracker counters from a running mczd serve (plain text; --json for JSON)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/stats"
			if namespace != "" {
				path = "/stats/" + namespace
			}
			body, err := fetchRaw(addr, withFormat(path, asJSON))
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
	cmd.Flags().StringVar(&namespace, "namespace", "", "show only this namespace's hot-path counters")
	cmd.Flags().BoolVar(&asJSON, "json", false, "request JSON instead of the plain-text default")
	return cmd
}
