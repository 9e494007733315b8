// cmd/mczd/sampler_cmd.go

package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(samplerCmd())
}

func samplerCmd() *cobra.Command {
	var addr string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sampler",
		Short: "Inspect or toggle the sampler spooler on a running mczd serve (plain text; --json for JSON)",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", defaultServeAddr, "control-surface base URL")
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "request JSON instead of the plain-text default")

	printResp := func(body []byte) {
		if asJSON {
			printRawJSON(body)
		} else {
			printPlain(body)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print sampler status",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := fetchRaw(addr, withFormat("/sampler", asJSON))
			if err != nil {
				return err
			}
			printResp(body)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the sampler background consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := postRaw(addr, withFormat("/sampler/start", asJSON))
			if err != nil {
				return err
			}
			printResp(body)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the sampler background consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := postRaw(addr, withFormat("/sampler/stop", asJSON))
			if err != nil {
				return err
			}
			printResp(body)
			return nil
		},
	})

	return cmd
}
