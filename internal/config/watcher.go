package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Watcher re-reads the configuration file on SIGHUP and hands the validated
// result to apply. Only sections that apply chooses to honour take effect;
// everything else still requires a restart.
type Watcher struct {
	path   string
	apply  func(*Config) error
	logger *slog.Logger
}

// NewWatcher returns a Watcher for the file at path.
func NewWatcher(path string, apply func(*Config) error, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:   path,
		apply:  apply,
		logger: logger.With(slog.String("component", "config_watcher")),
	}
}

// Reload loads, validates and applies the file once. A file that fails to
// load or validate leaves the running configuration untouched.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return fmt.Errorf("config: reload %s: %w", w.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: reload %s: %w", w.path, err)
	}
	if err := w.apply(cfg); err != nil {
		return fmt.Errorf("config: apply %s: %w", w.path, err)
	}
	return nil
}

// Run blocks until ctx is cancelled, reloading on every SIGHUP.
func (w *Watcher) Run(ctx context.Context) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sig:
			if err := w.Reload(); err != nil {
				w.logger.Error("config: reload rejected", slog.String("error", err.Error()))
				continue
			}
			w.logger.Info("config: reloaded", slog.String("path", w.path))
		}
	}
}
