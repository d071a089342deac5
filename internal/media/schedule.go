package media

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// RunSchedule runs Cleanup at every tick of the cron expression until ctx is
// done. Each run gets at most timeout.
func (l *Library) RunSchedule(ctx context.Context, expr string, timeout time.Duration) {
	l.logger.Info("media cleanup scheduled", zap.String("cron", expr))
	for {
		now := time.Now()
		next, err := gronx.NextTickAfter(expr, now, false)
		if err != nil {
			l.logger.Error("media cleanup next tick failed", zap.String("cron", expr), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			l.runScheduled(ctx, timeout)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Library) runScheduled(ctx context.Context, timeout time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := l.Cleanup(runCtx, time.Now()); err != nil {
		l.logger.Error("media cleanup failed", zap.Error(err))
	}
}
