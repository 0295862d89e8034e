package bootstrap

import (
	"context"
	"log/slog"
	"time"
)

// Expirer хранилище, умеющее удалять протухшие записи.
type Expirer interface {
	ClearExpired(ctx context.Context, now time.Time) (int, error)
}

// SweepExpired периодически чистит хранилище до отмены ctx.
func SweepExpired(ctx context.Context, store Expirer, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.ClearExpired(ctx, now)
			if err != nil {
				logger.Warn("session sweep failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				logger.Debug("expired sessions removed", slog.Int("count", removed))
			}
		}
	}
}
