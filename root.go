package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vheikkil/gdrive-go/internal/config"
	"github.com/vheikkil/gdrive-go/internal/drive"
	"github.com/vheikkil/gdrive-go/internal/remote"
	"github.com/vheikkil/gdrive-go/internal/transfer"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// cfg holds the effective configuration loaded by PersistentPreRunE and is
// available to all subcommands after the root pre-run phase completes.
var cfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gdrive-go",
		Short:   "Google Drive CLI client",
		Long:    "A resumable, checksum-verified Google Drive CLI client for Linux and macOS.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			resolved, err := config.Resolve(flagConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg = resolved

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newRmCmd())

	return cmd
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	format := "auto"
	if cfg != nil {
		format = cfg.Logging.LogFormat

		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	// "auto" picks text for interactive terminals, JSON when output is
	// captured (pipes, log collectors).
	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newHTTPClient builds an HTTP client with the configured timeouts.
func newHTTPClient() *http.Client {
	connectTimeout, _ := time.ParseDuration(cfg.Network.ConnectTimeout) //nolint:errcheck // validated at config load
	dataTimeout, _ := time.ParseDuration(cfg.Network.DataTimeout)      //nolint:errcheck // validated at config load

	return &http.Client{
		Timeout: dataTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
}

// cliSession bundles everything a file command needs: the API client, the
// transfer engine with its persistent session store, and the tree root.
type cliSession struct {
	logger *slog.Logger
	client *drive.Client
	engine *transfer.Engine
	store  *transfer.SessionStore
	root   *remote.Node
}

// newCLISession wires up the client, engine, session store, and tree root
// for a file command. Callers must Close() it.
func newCLISession(ctx context.Context) (*cliSession, error) {
	logger := buildLogger()

	creds := drive.ClientCredentials{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
	}

	ts, err := drive.TokenSourceFromPath(ctx, config.DefaultTokenPath(), creds, logger)
	if err != nil {
		if errors.Is(err, drive.ErrNotLoggedIn) {
			return nil, fmt.Errorf("not logged in — run 'gdrive-go login' first")
		}

		return nil, err
	}

	client := drive.NewClient(drive.DefaultBaseURL, drive.DefaultUploadBaseURL, newHTTPClient(), ts, logger)

	dbPath := config.DefaultSessionDBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil { //nolint:mnd // private data dir
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	store, err := transfer.NewSessionStore(dbPath, logger)
	if err != nil {
		return nil, err
	}

	if _, err := store.PurgeStale(ctx, transfer.StaleSessionAge); err != nil {
		logger.Warn("stale session purge failed", slog.String("error", err.Error()))
	}

	engine := transfer.NewEngine(client, store, logger)
	root := remote.NewRoot(client, engine)

	// Re-point the tree root at a configured sub-folder if requested.
	if cfg.Drive.RootFolder != "" {
		node, err := root.ResolvePath(ctx, cfg.Drive.RootFolder)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("resolving root_folder %q: %w", cfg.Drive.RootFolder, err)
		}

		if node == nil {
			store.Close()
			return nil, fmt.Errorf("root_folder %q does not exist", cfg.Drive.RootFolder)
		}

		if !node.IsFolder() {
			store.Close()
			return nil, fmt.Errorf("root_folder %q is a file, not a folder", cfg.Drive.RootFolder)
		}

		root = node
	}

	return &cliSession{
		logger: logger,
		client: client,
		engine: engine,
		store:  store,
		root:   root,
	}, nil
}

// Close releases the session store.
func (s *cliSession) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing session store", slog.String("error", err.Error()))
	}
}

// transferOptions builds engine options from config plus a progress printer.
func (s *cliSession) transferOptions(label string) transfer.Options {
	chunkSize, _ := config.ParseSize(cfg.Transfers.ChunkSize) //nolint:errcheck // validated at config load

	return transfer.Options{
		ChunkSize: chunkSize,
		Progress:  newProgressPrinter(label),
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
