// cmd/mczd/namespaces_cmd.go

package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(namespacesCmd())
}

func namespacesCmd() *cobra.Command {
	var addr string
	var prefix string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "namespaces",
		Short: "List routing-table namespaces and their dictionaries from a running mczd serve (plain text; --json for JSON)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/namespaces"
			if prefix != "" {
				path = "/namespaces/" + prefix
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
	cmd.Flags().StringVar(&prefix, "prefix", "", "show only this namespace prefix")
	cmd.Flags().BoolVar(&asJSON, "json", false, "request JSON instead of the plain-text default")
	return cmd
}
