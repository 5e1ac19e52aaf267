// Package main is the management CLI: it edits the block list, the block
// action and the deletion delay in the store the daemon enforces from.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haukened/siteblock/internal/siteblock/common/clock"
	"github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/config"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore/bolt"
	"github.com/haukened/siteblock/internal/siteblock/services/delaytoggle"
	"github.com/haukened/siteblock/internal/siteblock/services/deletion"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0-dev"
	Commit    = "dev"
	BuildTime = "unknown"
)

// now is the clock every command reads.
var now clock.Clock = clock.RealClock{}

// session is the store and services one command runs against.
type session struct {
	cfg      *config.AppConfig
	store    *bolt.Store
	repo     *blocklist.Repository
	deletion *deletion.Service
	toggle   *delaytoggle.Service
}

var current *session

var verbose bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", userError(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "siteblock",
	Short: "Manage the site block list",
	Long: `siteblock edits the block list that siteblockd enforces in the browser.

Sites can be removed at once within 5 minutes of being added. With the
deletion delay enabled, later removals wait 24 hours, and turning the delay
off waits 24 hours too.`,
	Version:            Version,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  openSession,
	PersistentPostRunE: closeSession,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	// The store is not needed.
	PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
	PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
	RunE:               runVersion,
}

var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log store activity to stderr")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
}

func openSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	if err := log.Configure(cfg.Env, level); err != nil {
		return fmt.Errorf("logging configuration error: %w", err)
	}

	store, err := bolt.New(bolt.Options{
		Path:         cfg.Store.Path,
		Timeout:      cfg.Store.Timeout,
		PollInterval: cfg.Store.Poll,
		Logger:       log.Component("store"),
	})
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}
	repo := blocklist.New(store, blocklist.Options{Clock: now, Logger: log.Component("blocklist")})
	current = &session{
		cfg:      cfg,
		store:    store,
		repo:     repo,
		deletion: deletion.New(repo, deletion.Options{Clock: now, Logger: log.Component("deletion")}),
		toggle:   delaytoggle.New(repo, delaytoggle.Options{Clock: now, Logger: log.Component("delaytoggle")}),
	}
	// Removals that came due while the daemon was not running.
	if _, err := current.deletion.SweepExpired(); err != nil {
		return err
	}
	return nil
}

func closeSession(cmd *cobra.Command, args []string) error {
	if current == nil {
		return nil
	}
	err := current.store.Close()
	current = nil
	return err
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return json.NewEncoder(out).Encode(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
	}
	fmt.Fprintf(out, "siteblock %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	return nil
}
