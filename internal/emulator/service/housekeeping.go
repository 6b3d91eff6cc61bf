package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authstate/internal/emulator/metrics"
	"github.com/aussiebroadwan/authstate/internal/emulator/store"
	"github.com/aussiebroadwan/authstate/pkg/clockx"
)

// HousekeepingService periodically deletes expired refresh tokens, action
// codes, phone verifications and pending second-factor sign-ins.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration
	Clock    clockx.Clock
	Metrics  *metrics.Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping worker. A non-positive
// interval defaults to one hour.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}

	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Interval: interval,
		Clock:    clockx.Real{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the worker in the background. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs one pass. Each table is cleaned independently so one failure
// does not stop the others. It returns the number of rows removed.
func (s *HousekeepingService) Cleanup(ctx context.Context) int64 {
	now := s.Clock.Now()

	tables := []struct {
		name  string
		clean func(context.Context, time.Time) (int64, error)
	}{
		{"refresh_tokens", s.Store.RefreshTokens().DeleteExpired},
		{"oob_codes", s.Store.OOBCodes().DeleteExpired},
		{"phone_sessions", s.Store.PhoneSessions().DeleteExpired},
		{"mfa_sessions", s.Store.MFASessions().DeleteExpired},
	}

	var total int64
	for _, t := range tables {
		n, err := t.clean(ctx, now)
		if err != nil {
			s.Logger.Error("housekeeping cleanup failed", "table", t.name, "error", err)
			continue
		}
		s.Metrics.Cleaned(t.name, n)
		total += n
		if n > 0 {
			s.Logger.Debug("deleted expired rows", "table", t.name, "count", n)
		}
	}

	s.Logger.Info("housekeeping cleanup completed", "deleted", total)
	return total
}
