package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/rhermens/git-watch/internal/activation"
	"github.com/rhermens/git-watch/internal/auth"
	"github.com/rhermens/git-watch/internal/config"
	"github.com/rhermens/git-watch/internal/git"
	"github.com/rhermens/git-watch/internal/sync"
	"github.com/rhermens/git-watch/internal/webhook"
)

// configName is the config file looked up below the XDG config directories.
const configName = "git-watch/config.yaml"

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	once      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "git-watch [flags] <repository-path>",
	Short: "Keep a Git working tree synchronized with its remote",
	Long: `git-watch keeps a local Git working tree and its remote in step.

Every cycle it fetches the remote and fast-forwards the current branch when
that is possible without merging, then commits local modifications that have
settled and pushes them. Cycles repeat until the process is stopped.

A diverged history is never merged: the cycle fails and the process exits so
a supervisor can alert or restart it.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "git-watch %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/"+configName+" if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")

	rootCmd.AddCommand(versionCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel(nil)

	logger := setupLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	repo, err := git.Open(args[0])
	if err != nil {
		return err
	}
	defer func() {
		_ = repo.Close()
	}()

	remote, err := repo.LookupRemote(cfg.Remote.Name)
	if err != nil {
		return err
	}

	creds := auth.NewSSHKeyProvider(cfg.Auth.SSHKeyFile, cfg.Auth.SSHPublicKeyFile).
		WithPassphraseFile(cfg.Auth.SSHKeyPassphraseFile).
		WithKnownHostsFile(cfg.Auth.KnownHostsFile).
		WithInsecureIgnoreHostKey(cfg.Auth.InsecureIgnoreHostKey)

	session := sync.NewSession(sync.FromGit(repo), remote, creds, cfg, logger)
	engine := sync.NewEngine(session, cfg.Sync.Interval, logger)

	logger.Info("watching repository",
		"path", repo.Path(),
		"remote", remote.Name,
		"url", remote.URL,
		"auth", cfg.AuthMethod(),
		"interval", cfg.Sync.Interval)

	if once {
		return engine.RunCycle(ctx)
	}

	if cfg.Serve.Enabled {
		if err := startWebhook(ctx, cancel, cfg.Serve, engine, logger); err != nil {
			return err
		}
	}

	if err := engine.Run(ctx); err != nil {
		return err
	}

	// A failed webhook server stops the loop through the context cause.
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}

	logger.Info("shutting down")
	return nil
}

// startWebhook serves webhook deliveries in the background. A server failure
// cancels ctx with the error as cause.
func startWebhook(ctx context.Context, cancel context.CancelCauseFunc, cfg config.ServeConfig, engine *sync.Engine, logger *slog.Logger) error {
	server, err := webhook.NewServer(cfg, engine, logger)
	if err != nil {
		return err
	}

	ln, err := activation.Listen(cfg.ListenAddr)
	if err != nil {
		return err
	}

	go func() {
		if err := server.Start(ctx, ln); err != nil {
			cancel(err)
		}
	}()
	return nil
}

// reportError prints err in the form `Error <code> [<Kind>]: <message>` and
// returns the exit code.
func reportError(w io.Writer, err error) int {
	code := sync.ExitCode(err)
	_, _ = fmt.Fprintf(w, "Error %d [%s]: %v\n", code, sync.KindOf(err), err)
	return code
}

func setupLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// loadConfig reads --config, or the XDG config file when one exists. Without
// either the built-in defaults apply.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		found, err := xdg.SearchConfigFile(configName)
		if err != nil {
			logger.Debug("no config file found, using defaults")
			return config.Default(), nil
		}
		configPath = found
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"remote", cfg.Remote.Name,
		"push_ref", cfg.Remote.PushRef,
		"interval", cfg.Sync.Interval,
		"debounce", cfg.Sync.Debounce,
		"on_diverged", cfg.Sync.OnDiverged,
		"serve", cfg.Serve.Enabled)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel(nil)
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
