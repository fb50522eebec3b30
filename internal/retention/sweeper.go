// Package retention deletes events older than the configured retention period.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/snowdamiz/pulsekit/internal/metrics"
	"github.com/snowdamiz/pulsekit/internal/store"
)

// ErrInProgress is returned by RunOnce when another sweep holds the lock.
var ErrInProgress = errors.New("retention sweep already in progress")

// Store is the data the sweeper reads and deletes.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
	// DefaultDays applies when the log_retention_days setting is missing or
	// unparsable.
	DefaultDays int
}

// Sweeper runs a retention sweep shortly after Start and then every Interval.
type Sweeper struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSweeper(s Store, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.DefaultDays < 0 {
		cfg.DefaultDays = 0
	}
	return &Sweeper{
		store:  s,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start launches the periodic sweep. Calling Start on a running sweeper is a
// no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.logger.Warn("retention sweeper already running")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("retention sweeper started",
		"interval", s.cfg.Interval.String(),
		"initial_delay", s.cfg.InitialDelay.String(),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	initial := time.NewTimer(s.cfg.InitialDelay)
	defer initial.Stop()

	select {
	case <-initial.C:
		s.sweep(ctx)
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrInProgress) {
		s.logger.Error("retention sweep failed", "error", err)
	}
}

// RunOnce performs a single sweep and returns the number of events deleted.
// A retention of zero days keeps events forever and deletes nothing.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if !s.runMu.TryLock() {
		s.logger.Warn("retention sweep already in progress, skipping")
		return 0, ErrInProgress
	}
	defer s.runMu.Unlock()

	days := s.retentionDays(ctx)
	if days == 0 {
		metrics.RetentionRuns.WithLabelValues("skipped").Inc()
		s.logger.Debug("retention disabled, skipping sweep")
		return 0, nil
	}

	start := s.now()
	cutoff := start.UTC().Add(-time.Duration(days) * 24 * time.Hour)
	deleted, err := s.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		metrics.RetentionRuns.WithLabelValues("failure").Inc()
		return 0, fmt.Errorf("delete events before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	metrics.RetentionRuns.WithLabelValues("success").Inc()
	metrics.RetentionDeleted.Add(float64(deleted))
	s.logger.Info("retention sweep completed",
		"deleted_events", deleted,
		"retention_days", days,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return deleted, nil
}

func (s *Sweeper) retentionDays(ctx context.Context) int {
	raw, err := s.store.GetSetting(ctx, store.SettingLogRetentionDays)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read retention setting, using default", "error", err)
		}
		return s.cfg.DefaultDays
	}
	days, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || days < 0 {
		s.logger.Warn("invalid retention setting, using default", "value", raw)
		return s.cfg.DefaultDays
	}
	return days
}
