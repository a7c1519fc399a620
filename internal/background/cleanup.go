package background

import (
	"context"
	"log/slog"
	"time"
)

// SessionSweeper drops idled-out sessions from an in-process store
type SessionSweeper interface {
	Sweep() int
}

// CleanupManager periodically sweeps idle sessions from the in-memory
// session store. Redis expires its keys itself and OTP rows are kept, so
// there is nothing else to clean.
type CleanupManager struct {
	sessions SessionSweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(sessions SessionSweeper, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sessions: sessions,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup()

	for {
		select {
		case <-ticker.C:
			cm.runCleanup()
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup() {
	if swept := cm.sessions.Sweep(); swept > 0 {
		cm.logger.Debug("idle sessions swept", slog.Int("sessions", swept))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
