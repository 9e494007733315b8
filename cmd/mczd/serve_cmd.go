// cmd/mczd/serve_cmd.go

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mczcache/internal/config"
	"mczcache/internal/controlapi"
	"mczcache/pkg/mcz"
)

func init() {
	rootCmd.AddCommand(serveCmd())
}

func serveCmd() *cobra.Command {
	cfg := config.Default()
	var addr string
	var trainMode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dictionary-compression core with its control-surface HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := config.ParseTrainMode(trainMode)
			if err != nil {
				return err
			}
			cfg.TrainMode = mode

			core, err := mcz.Open(cfg)
			if err != nil {
				return fmt.Errorf("open core: %w", err)
			}
			defer core.Close()

			store := newHarnessStore(core)
			api := controlapi.New(core)

			mux := http.NewServeMux()
			mux.Handle("/", api)
			mux.HandleFunc("/harness/put", harnessPutHandler(store))
			mux.HandleFunc("/harness/get", harnessGetHandler(store))

			srv := &http.Server{Addr: addr, Handler: mux}

			fmt.Printf("mczd serving on %s (dict_dir=%s, spool_dir=%s)\n", addr, cfg.DictDir, cfg.SpoolDir)
			fmt.Println("  GET  /namespaces, /namespaces/{prefix}")
			fmt.Println("  GET  /config, /stats, /stats/{namespace}")
			fmt.Println("  GET  /sampler     POST /sampler/start, /sampler/stop")
			fmt.Println("  POST /harness/put?key=...   GET /harness/get?key=...")

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case <-sigCh:
				fmt.Println("\nshutting down...")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8077", "control-surface HTTP listen address")
	cmd.Flags().BoolVar(&cfg.EnableComp, "enable-comp", cfg.EnableComp, "enable compression")
	cmd.Flags().BoolVar(&cfg.EnableDict, "enable-dict", cfg.EnableDict, "enable dictionary-based compression")
	cmd.Flags().StringVar(&cfg.DictDir, "dict-dir", cfg.DictDir, "directory holding dict files + manifests")
	cmd.Flags().Int64Var(&cfg.DictSize, "dict-size", cfg.DictSize, "target dictionary size in bytes")
	cmd.Flags().IntVar(&cfg.ZstdLevel, "zstd-level", cfg.ZstdLevel, "zstd compression level (1-22)")
	cmd.Flags().Int64Var(&cfg.MinCompSize, "min-comp-size", cfg.MinCompSize, "values smaller than this bypass compression")
	cmd.Flags().Int64Var(&cfg.MaxCompSize, "max-comp-size", cfg.MaxCompSize, "values larger than this bypass compression")
	cmd.Flags().BoolVar(&cfg.EnableTraining, "enable-training", cfg.EnableTraining, "enable online dictionary training")
	cmd.Flags().DurationVar(&cfg.RetrainingInterval, "retraining-interval", cfg.RetrainingInterval, "minimum time between training attempts")
	cmd.Flags().Int64Var(&cfg.MinTrainingSize, "min-training-size", cfg.MinTrainingSize, "minimum accumulated sample bytes before training")
	cmd.Flags().Float64Var(&cfg.EWMAAlpha, "ewma-alpha", cfg.EWMAAlpha, "efficiency tracker EWMA smoothing factor")
	cmd.Flags().Float64Var(&cfg.RetrainDrop, "retrain-drop", cfg.RetrainDrop, "fractional ratio drift that triggers retraining")
	cmd.Flags().StringVar(&trainMode, "train-mode", cfg.TrainMode.String(), "fast|optimize")
	cmd.Flags().IntVar(&cfg.DictRetainMax, "dict-retain-max", cfg.DictRetainMax, "dicts retained per namespace")
	cmd.Flags().DurationVar(&cfg.GCCoolPeriod, "gc-cool-period", cfg.GCCoolPeriod, "cool-off before a retired table is reclaimed")
	cmd.Flags().DurationVar(&cfg.GCQuarantinePeriod, "gc-quarantine-period", cfg.GCQuarantinePeriod, "age before a retired dict id may be reused")
	cmd.Flags().BoolVar(&cfg.EnableSampling, "enable-sampling", cfg.EnableSampling, "enable the sampler spool")
	cmd.Flags().Float64Var(&cfg.SampleP, "sample-p", cfg.SampleP, "sampling probability")
	cmd.Flags().DurationVar(&cfg.SampleWindowDuration, "sample-window", cfg.SampleWindowDuration, "sampler stops this long after starting (0 = unbounded)")
	cmd.Flags().StringVar(&cfg.SpoolDir, "spool-dir", cfg.SpoolDir, "directory for sampler spool files")
	cmd.Flags().Int64Var(&cfg.SpoolMaxBytes, "spool-max-bytes", cfg.SpoolMaxBytes, "per-spool-file byte cap")

	return cmd
}

// harnessPutHandler reads the request body as the value and stores it
// under the "key" query parameter via the harness store.
func harnessPutHandler(store *harnessStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key query parameter", http.StatusBadRequest)
			return
		}
		value, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
		if err != nil {
			http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
			return
		}
		if err := store.Put(key, value); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// harnessGetHandler looks up the "key" query parameter and writes the
// decompressed value back as the response body.
func harnessGetHandler(store *harnessStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key query parameter", http.StatusBadRequest)
			return
		}
		value, ok, err := store.Get(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(value)
	}
}
