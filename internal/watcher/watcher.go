package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/config"
	"github.com/daimoniac/docshield/internal/observability"
	"github.com/daimoniac/docshield/internal/posture"
	"github.com/fsnotify/fsnotify"
)

// ReloadFunc applies a freshly parsed policy
type ReloadFunc func(ctx context.Context, policy *config.PolicyFile) error

// Config contains configuration for the policy watcher
type Config struct {
	Path     string
	Debounce time.Duration
}

// PolicyWatcher reloads the policy file whenever it changes on disk
type PolicyWatcher struct {
	path     string
	debounce time.Duration
	reload   ReloadFunc
	logger   *slog.Logger
	metrics  *observability.Metrics
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	pending *time.Timer
}

// NewPolicyWatcher creates a watcher for cfg.Path. The parent directory is
// watched so that editors which replace the file are noticed.
func NewPolicyWatcher(cfg Config, reload ReloadFunc, logger *slog.Logger) (*PolicyWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 300 * time.Millisecond
	}

	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch policy directory: %w", err)
	}

	return &PolicyWatcher{
		path:     path,
		debounce: cfg.Debounce,
		reload:   reload,
		logger:   logger,
		metrics:  observability.GetMetrics(),
		fs:       fsWatcher,
	}, nil
}

// Start watches for policy changes until ctx is cancelled
func (w *PolicyWatcher) Start(ctx context.Context) error {
	w.logger.Info("starting policy watcher", "path", w.path, "debounce", w.debounce.String())
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("policy watcher shutting down")
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.schedule(ctx)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			if err != nil {
				w.logger.Error("policy watcher error", "error", err.Error())
			}
		}
	}
}

// Reload parses the policy file and applies it
func (w *PolicyWatcher) Reload(ctx context.Context) error {
	policy, err := config.ParsePolicy(w.path)
	if err != nil {
		w.metrics.PolicyReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := w.reload(ctx, policy); err != nil {
		w.metrics.PolicyReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to apply policy: %w", err)
	}
	w.metrics.PolicyReloads.WithLabelValues("success").Inc()
	w.logger.Info("policy reloaded", "path", w.path, "policy", policy.String())
	return nil
}

// schedule debounces bursts of writes into a single reload
func (w *PolicyWatcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.Reload(ctx); err != nil {
			// the previous policy stays active
			w.logger.Error("policy reload failed", "path", w.path, "error", err.Error())
		}
	})
}

func (w *PolicyWatcher) stop() {
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	w.fs.Close()
}

// Applier returns a ReloadFunc that pushes the hot-reloadable parts of a
// policy (score weights and posture expression) into running components.
// Sanitizer limits, rate limits and patterns apply on restart.
func Applier(auditor *audit.Auditor, engine *posture.Engine) ReloadFunc {
	return func(ctx context.Context, policy *config.PolicyFile) error {
		score, err := policy.ScorePolicy()
		if err != nil {
			return err
		}
		if engine != nil {
			if err := engine.Reload(policy.PostureConfig()); err != nil {
				return err
			}
		}
		if auditor != nil {
			if err := auditor.SetScorePolicy(score); err != nil {
				return err
			}
		}
		return nil
	}
}
