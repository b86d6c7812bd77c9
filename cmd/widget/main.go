// Terminal client for the chat widget. It runs a widget engine in-process
// against the chat backend and renders it with Bubble Tea.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/chatwidget/internal/backend"
	"github.com/ashureev/chatwidget/internal/config"
	"github.com/ashureev/chatwidget/internal/speech"
	"github.com/ashureev/chatwidget/internal/storage"
	"github.com/ashureev/chatwidget/internal/tui"
	"github.com/ashureev/chatwidget/internal/widget"
)

// localVisitor keys the terminal user's items in the store.
const localVisitor = "local"

type options struct {
	apiURL      string
	model       string
	modelLabel  string
	storage     string
	dataDir     string
	profilePath string
	logFile     string
	style       string
	reveal      time.Duration
	inactivity  time.Duration
	timeout     time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "chatwidget",
		Short: "Chat with the widget backend from the terminal",
		Long: `Runs the chat widget in the terminal.

The transcript and the open flag are kept in a local store so the
conversation survives restarts, and are cleared after the inactivity
window just like in the browser.`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts)
		},
	}

	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.apiURL, "api-url", envOr("CHAT_API_URL", "http://localhost:8000/api/chat"), "chat backend endpoint")
	f.StringVar(&opts.model, "model", envOr("CHAT_MODEL", "meta-llama/llama-4-maverick:free"), "default model value")
	f.StringVar(&opts.modelLabel, "model-label", envOr("CHAT_MODEL_LABEL", "LLaMA 4"), "display name of the default model")
	f.StringVar(&opts.storage, "storage", config.StoragePebble, "local store: pebble or memory")
	f.StringVar(&opts.dataDir, "data-dir", defaultDataDir(), "directory for the local store")
	f.StringVar(&opts.profilePath, "profile", os.Getenv("WIDGET_PROFILE"), "YAML widget profile")
	f.StringVar(&opts.logFile, "log-file", "", "write JSON logs to this file (discarded when empty)")
	f.StringVar(&opts.style, "style", "auto", "glamour style for bot replies")
	f.DurationVar(&opts.reveal, "reveal-interval", 30*time.Millisecond, "delay between revealed characters")
	f.DurationVar(&opts.inactivity, "inactivity", 10*time.Minute, "clear the transcript after this much idle time")
	f.DurationVar(&opts.timeout, "timeout", 60*time.Second, "backend request timeout")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete the stored transcript and open flag",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReset(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	})

	return rootCmd
}

func runChat(ctx context.Context, opts *options) error {
	logger, closeLog, err := openLogger(opts.logFile)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	chat := config.ChatConfig{APIURL: opts.apiURL, Model: opts.model, ModelLabel: opts.modelLabel, RequestTimeout: opts.timeout}
	profiles, err := config.NewProfileSource(opts.profilePath, chat)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	provider, err := openStorage(opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := provider.Close(); closeErr != nil {
			logger.Error("Failed to close local store", "error", closeErr)
		}
	}()

	engine, err := widget.New(ctx, widget.Deps{
		Storage: provider.ForVisitor(localVisitor),
		Backend: backend.NewClient(opts.apiURL, opts.timeout, logger),
		Speech:  speech.Unsupported{},
		Profile: profiles.Current(),
		Logger:  logger,
	}, widget.Options{RevealInterval: opts.reveal, InactivityWindow: opts.inactivity})
	if err != nil {
		return fmt.Errorf("start widget: %w", err)
	}
	defer func() { _ = engine.Close() }()

	model := tui.New(ctx, engine, tui.Options{Style: opts.style})
	defer model.Close()

	logger.Info("Terminal widget started", "api_url", opts.apiURL, "storage", opts.storage)
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run terminal ui: %w", err)
	}
	return nil
}

func runReset(ctx context.Context, out io.Writer, opts *options) error {
	provider, err := openStorage(opts)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	s := provider.ForVisitor(localVisitor)
	for _, key := range []string{storage.KeyChatHistory, storage.KeyChatIsOpen} {
		if err := s.RemoveItem(ctx, key); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	_, err = fmt.Fprintln(out, "Local chat history cleared.")
	return err
}

func openStorage(opts *options) (storage.Provider, error) {
	switch opts.storage {
	case config.StorageMemory:
		return storage.NewMemoryProvider(), nil
	case config.StoragePebble:
		p, err := storage.OpenPebble(filepath.Join(opts.dataDir, "widget.pebble"))
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown storage %q (want pebble or memory)", opts.storage)
	}
}

// openLogger keeps logs off the terminal the UI is drawing on.
func openLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewJSONHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { _ = f.Close() }, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "chatwidget")
	}
	return ".chatwidget"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
