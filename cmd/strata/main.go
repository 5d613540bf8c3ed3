// Command strata is a thin CLI / embedding surface stub over the
// substrate and its primitives. Strata's intended facade -- an ergonomic
// wrapper binding a default run and stripping versions from results -- is
// named in the spec as an external collaborator's responsibility; this
// binary is the minimal real thing that wires flags to the substrate
// directly, in the spirit of the teacher's own single-binary cobra CLI.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/kv"
	"github.com/stratadb/strata/pkg/metrics"
	"github.com/stratadb/strata/pkg/runbundle"
	"github.com/stratadb/strata/pkg/slog"
	"github.com/stratadb/strata/pkg/storage"
	"github.com/stratadb/strata/pkg/value"
	"github.com/stratadb/strata/pkg/wal"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "strata",
	Short:   "Strata - an embedded multi-primitive database for agent workloads",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("strata version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("data-dir", "./strata-data", "Database directory")
	rootCmd.PersistentFlags().Bool("ephemeral", false, "Run with no on-disk state (discards everything on exit)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(kvCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(bundleCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	slog.Init(slog.Config{Level: slog.Level(level), JSONOutput: jsonOut})
}

func openDatabase(cmd *cobra.Command) (*storage.Database, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	ephemeral, _ := cmd.Flags().GetBool("ephemeral")
	return storage.Open(storage.Options{
		Dir:        dataDir,
		Ephemeral:  ephemeral,
		Durability: wal.DurabilityBuffered,
	})
}

func parseRunFlag(cmd *cobra.Command) (key.RunID, error) {
	runStr, _ := cmd.Flags().GetString("run")
	return key.ParseRunID(runStr)
}

// serve opens the database and blocks, serving /metrics until interrupted.
// It is the closest thing to an embedding entry point this stub offers:
// a real embedder links pkg/storage and the primitive packages directly
// rather than shelling out to this binary.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the database and serve a Prometheus /metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		addr, _ := cmd.Flags().GetString("metrics-addr")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server := &http.Server{Addr: addr, Handler: mux}

		errCh := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		slog.WithComponent("cmd/strata").Info().Str("addr", addr).Msg("metrics server started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
		case err := <-errCh:
			return fmt.Errorf("metrics server: %w", err)
		}
		return server.Close()
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve /metrics on")
}

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Key-value primitive operations",
}

var kvGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a key's value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		run, err := parseRunFlag(cmd)
		if err != nil {
			return err
		}
		v, err := kv.New(db).Get(run, args[0])
		if err != nil {
			return err
		}
		out, err := v.MarshalJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var kvPutCmd = &cobra.Command{
	Use:   "put KEY VALUE",
	Short: "Put a string value under KEY",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		run, err := parseRunFlag(cmd)
		if err != nil {
			return err
		}
		if err := kv.New(db).Put(run, args[0], value.String(args[1])); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var kvDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		run, err := parseRunFlag(cmd)
		if err != nil {
			return err
		}
		if err := kv.New(db).Delete(run, args[0]); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

func init() {
	kvCmd.AddCommand(kvGetCmd, kvPutCmd, kvDeleteCmd)
	for _, c := range []*cobra.Command{kvGetCmd, kvPutCmd, kvDeleteCmd} {
		c.Flags().String("run", "default", "Run ID (\"default\" or a UUID)")
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run lifecycle operations",
}

var runCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new run, printing its ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		id, err := key.NewRunID()
		if err != nil {
			return err
		}
		if err := db.Runs.CreateRun(id, value.Null(), storage.RetentionPolicy{}); err != nil {
			return err
		}
		fmt.Println(id.String())
		return nil
	},
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every run",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		for _, info := range db.Runs.ListRuns() {
			fmt.Printf("%-38s %s\n", info.ID.String(), info.State.String())
		}
		return nil
	},
}

var runCloseCmd = &cobra.Command{
	Use:   "close RUN_ID",
	Short: "Close a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		id, err := key.ParseRunID(args[0])
		if err != nil {
			return err
		}
		if err := db.Runs.CloseRun(id); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

func init() {
	runCmd.AddCommand(runCreateCmd, runListCmd, runCloseCmd)
}

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Run bundle archive operations (spec section 6.5)",
}

var bundleExportCmd = &cobra.Command{
	Use:   "export RUN_ID OUTPUT_FILE",
	Short: "Export a run as a zstd-over-tar bundle archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		id, err := key.ParseRunID(args[0])
		if err != nil {
			return err
		}
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		if err := runbundle.Export(db, id, f); err != nil {
			return err
		}
		fmt.Printf("exported run %s to %s\n", id.String(), args[1])
		return nil
	},
}

var bundleInspectCmd = &cobra.Command{
	Use:   "inspect BUNDLE_FILE",
	Short: "Validate a bundle archive and print its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		bundle, err := runbundle.Import(f)
		if err != nil {
			return err
		}
		fmt.Printf("run: %s (%s)\n", bundle.Run.ID, bundle.Run.State)
		fmt.Printf("format version: %d\n", bundle.Manifest.FormatVersion)
		fmt.Printf("records: %d\n", len(bundle.Records))
		return nil
	},
}

func init() {
	bundleCmd.AddCommand(bundleExportCmd, bundleInspectCmd)
}
