// cmd/mczd/main.go

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "mczd",
	Short:   "mczd - adaptive dictionary-compression core harness",
	Long:    "mczd runs the dictionary-compression core standalone for inspection and manual testing, with an in-memory key/value harness store standing in for a real cache engine.",
	Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
