package pipeline

import (
	"context"
	"time"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/config"
)

// RunWatchdog periodically force-fails sessions that have made no progress
// within the session timeout, so nothing stays non-terminal forever.
func (c *Coordinator) RunWatchdog(ctx context.Context) {
	c.runWatchdog(ctx, config.WatchdogSweepInterval)
}

func (c *Coordinator) runWatchdog(ctx context.Context, sweepInterval time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	c.logger.Info("Watchdog started", "sessionTimeout", c.cfg.SessionTimeout)
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-c.cfg.SessionTimeout)
			if err := c.driver.ExpireStale(ctx, cutoff); err != nil {
				c.logger.Error("stale session sweep failed", "error", err)
			}
		case <-ctx.Done():
			c.logger.Info("Watchdog stopped")
			return
		}
	}
}
