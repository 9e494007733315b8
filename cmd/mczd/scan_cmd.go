// cmd/mczd/scan_cmd.go

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"mczcache/internal/config"
	"mczcache/internal/dictpool"
	"mczcache/internal/routing"
)

func init() {
	rootCmd.AddCommand(scanCmd())
}

func scanCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a dictionary directory standalone and print the resulting routing table",
		Long:  "scan rebuilds a routing table from --dict-dir without starting the core's background threads, showing a progress bar over the dict files as they are parsed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool := dictpool.New(cfg.ZstdLevel)

			progress := mpb.New(mpb.WithWidth(60))
			bar := progress.AddBar(0,
				mpb.PrependDecorators(decor.Name("scanning dicts", decor.WC{W: 16})),
				mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
			)

			table, err := routing.ScanDictDirWithProgress(cfg.DictDir, pool, cfg.DictRetainMax, cfg.ZstdLevel, 1, time.Now(),
				func(done, total int) {
					bar.SetTotal(int64(total), false)
					bar.SetCurrent(int64(done))
				})
			progress.Wait()
			if err != nil {
				return fmt.Errorf("scan %s: %w", cfg.DictDir, err)
			}

			fmt.Printf("namespaces: %d\n", len(table.Namespaces))
			for _, ns := range table.Namespaces {
				fmt.Printf("  %-20s %d dict(s), active id=%v\n", ns.Prefix, len(ns.Dicts), activeID(ns))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.DictDir, "dict-dir", cfg.DictDir, "directory holding dict files + manifests")
	cmd.Flags().IntVar(&cfg.DictRetainMax, "dict-retain-max", cfg.DictRetainMax, "dicts retained per namespace")
	cmd.Flags().IntVar(&cfg.ZstdLevel, "zstd-level", cfg.ZstdLevel, "fallback zstd level for dicts with no suggested level")
	return cmd
}

func activeID(ns routing.NamespaceEntry) any {
	if len(ns.Dicts) == 0 {
		return nil
	}
	return ns.Dicts[0].ID
}
