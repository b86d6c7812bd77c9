package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/ashureev/chatwidget/internal/shared"
	"github.com/ashureev/chatwidget/internal/store"
)

// RetentionHooks receives reaper counters. metrics.Collector implements it.
type RetentionHooks interface {
	VisitorsDeleted(n int64)
}

// ReaperConfig controls the sweep.
type ReaperConfig struct {
	Cron             string
	EngineIdleTTL    time.Duration
	VisitorRetention time.Duration
}

// Reaper evicts idle engines and deletes long-gone visitors on a cron
// schedule.
type Reaper struct {
	registry *Registry
	repo     store.Repository
	limiter  *SendLimiter
	cfg      ReaperConfig
	hooks    RetentionHooks
}

// NewReaper validates the schedule. repo, limiter and hooks may be nil.
func NewReaper(registry *Registry, repo store.Repository, limiter *SendLimiter, cfg ReaperConfig, hooks RetentionHooks) (*Reaper, error) {
	if cfg.Cron == "" {
		cfg.Cron = "*/5 * * * *"
	}
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid reaper cron expression: %s", cfg.Cron)
	}
	return &Reaper{registry: registry, repo: repo, limiter: limiter, cfg: cfg, hooks: hooks}, nil
}

// Start runs the sweep at every cron tick until ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	go func() {
		slog.Info("Reaper started", "cron", r.cfg.Cron, "engine_ttl", r.cfg.EngineIdleTTL, "retention", r.cfg.VisitorRetention)
		for {
			next, err := gronx.NextTickAfter(r.cfg.Cron, time.Now(), false)
			if err != nil {
				slog.Error("Reaper failed to compute next tick", "cron", r.cfg.Cron, "error", err)
				next = time.Now().Add(time.Minute)
			}

			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				slog.Info("Reaper shutting down", "reason", ctx.Err())
				return
			case <-timer.C:
			}
			r.RunOnce(ctx)
		}
	}()
}

// RunOnce performs one sweep and returns the number of engines closed and
// visitors deleted.
func (r *Reaper) RunOnce(ctx context.Context) (int, int64) {
	reaped := 0
	if r.cfg.EngineIdleTTL > 0 {
		reaped = r.registry.Reap(r.cfg.EngineIdleTTL)
		if reaped > 0 {
			slog.Info("Reaper closed idle engines", "count", reaped, "active", r.registry.Len())
		}
	}
	if r.limiter != nil {
		r.limiter.Prune()
	}

	var deleted int64
	if r.repo != nil && r.cfg.VisitorRetention > 0 {
		err := shared.RetryOnConflict(ctx, "delete idle visitors", func() error {
			n, err := r.repo.DeleteIdleVisitors(ctx, r.cfg.VisitorRetention)
			deleted = n
			return err
		})
		switch {
		case err != nil:
			slog.Error("Reaper failed to delete idle visitors", "error", err)
		case deleted > 0:
			slog.Info("Reaper deleted idle visitors", "count", deleted)
			if r.hooks != nil {
				r.hooks.VisitorsDeleted(deleted)
			}
		}
	}
	return reaped, deleted
}
