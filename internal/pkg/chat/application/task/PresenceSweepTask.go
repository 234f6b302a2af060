package task

import (
	"context"
	"log/slog"
	"time"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	qport "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/queue/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/usecase"
)

// PresenceSweepTaskType marks stale online users offline. It is meant to run periodically.
const PresenceSweepTaskType = "presence:sweep"

// sweepUniqueTTL keeps overlapping schedulers from piling up duplicate sweeps.
const sweepUniqueTTL = 30 * time.Second

func PresenceSweepHandler(f feed.Feed, clock schedule.Clock, logger *slog.Logger) qport.Handler {
	tracker := usecase.NewPresenceTracker(f, clock, logger)
	return func(ctx context.Context, _ qport.Task) error {
		n, err := tracker.Sweep(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("presence swept", "offline", n)
		}
		return nil
	}
}

func RegisterPresenceSweepTask(srv qport.Server, f feed.Feed, clock schedule.Clock, logger *slog.Logger) {
	srv.Register(PresenceSweepTaskType, PresenceSweepHandler(f, clock, logger))
}

// SchedulePresenceSweep registers the sweep with a periodic scheduler using a cron spec such as
// "@every 1m".
func SchedulePresenceSweep(s qport.Scheduler, spec string) (string, error) {
	return s.Register(spec, qport.Task{Type: PresenceSweepTaskType}, qport.EnqueueOption{
		UniqueTTL: sweepUniqueTTL,
	})
}
