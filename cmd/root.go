// file: cmd/root.go
// version: 2.0.0
// guid: 4b5c6d7e-8f9a-0b1c-2d3e-4f5a6b7c8d9e

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdfalk/library-manager/internal/config"
	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/scanner"
	"github.com/jdfalk/library-manager/internal/server"
	"github.com/jdfalk/library-manager/internal/status"
	"github.com/jdfalk/library-manager/internal/worker"
)

var (
	cfgFile string
	rescan  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "library-manager",
	Short:   "Identify, verify, and rename audiobook and ebook folders",
	Version: config.Version,
	Long: `Library Manager keeps an audiobook and ebook library correctly named.

It scans the configured library and watch folders, identifies each book
through progressively more expensive verification layers (audio
fingerprinting, metadata lookups, AI verification, audio analysis), and
renames folders into a consistent Author/Title layout once identification
is confident enough.`,
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the continuous scan-and-verify worker",
	Long: `Run the worker loop: scan the library, process the verification
queue, then sleep until the next cycle. Also serves the status and
metrics endpoints. Stops cleanly on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()

		store, err := database.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		tracker := status.NewTracker()
		srv := server.New(cfg.StatusAddr, store, tracker)
		go func() {
			if err := srv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "status server error: %v\n", err)
			}
		}()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		w := worker.New(store, tracker)
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigs
			fmt.Printf("received %s, shutting down\n", sig)
			w.Stop()
			cancel()
		}()

		err = w.Run(ctx)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			fmt.Fprintf(os.Stderr, "status server shutdown error: %v\n", serr)
		}
		return err
	},
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the library once and queue new books",
	Long: `Scan all configured library paths and the watch folder, register
newly discovered book folders, and queue them for verification. Does not
process the queue; use run for that.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()

		store, err := database.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		sc := scanner.New(&cfg, store)
		var result *scanner.Result
		if rescan {
			result, err = sc.Rescan(cmd.Context())
		} else {
			result, err = sc.ScanAll(cmd.Context())
		}
		if err != nil {
			return fmt.Errorf("scan error: %w", err)
		}

		fmt.Printf("Scanned %d folders: %d new, %d queued, %d pruned\n",
			result.Scanned, result.New, result.Queued, result.Pruned)
		return nil
	},
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running worker",
	Long:  `Query the status endpoint of a running worker and print the result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get("http://" + cfg.StatusAddr + "/api/status")
		if err != nil {
			return fmt.Errorf("no worker reachable at %s: %w", cfg.StatusAddr, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading status response: %w", err)
		}
		var pretty map[string]any
		if err := json.Unmarshal(body, &pretty); err != nil {
			return fmt.Errorf("unexpected status response: %w", err)
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.library-manager.yaml)")
	rootCmd.PersistentFlags().String("db", "", "path to the SQLite database")
	rootCmd.PersistentFlags().String("status-addr", "", "address for the status and metrics endpoints")

	viper.BindPFlag("database_path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("status_addr", rootCmd.PersistentFlags().Lookup("status-addr"))

	scanCmd.Flags().BoolVar(&rescan, "rescan", false, "reset verification state and rescan everything")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".library-manager")
	}

	viper.SetEnvPrefix("LIBRARY_MANAGER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	// Ensure the database directory exists before anything opens it.
	if dbPath := viper.GetString("database_path"); dbPath != "" {
		dbDir := filepath.Dir(dbPath)
		if dbDir != "." {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				fmt.Printf("Error creating database directory: %v\n", err)
			}
		}
	}

	config.InitConfig()
}
