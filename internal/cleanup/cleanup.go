package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/italolelis/crocstore/internal/logctx"
	"github.com/italolelis/crocstore/internal/storage"
)

// DeleteExpiredHistory removes history records that finished more than keep ago.
func DeleteExpiredHistory(ctx context.Context, repo storage.HistoryWriteRepository, keep time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)

	if keep <= 0 {
		logger.Debug("history retention disabled, skipping cleanup")

		return nil
	}

	cutoff := time.Now().Add(-keep)

	deleted, err := repo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		logger.Error("failed to delete expired history", "cutoff", cutoff, "err", err)

		return err
	}

	if deleted > 0 {
		logger.Info("deleted expired history", "count", deleted, "retention", keep.String())
	}

	return nil
}

// Schedule runs DeleteExpiredHistory on the cron expression and once at start.
// The returned scheduler is already started; call Shutdown to stop it.
func Schedule(ctx context.Context, repo storage.HistoryWriteRepository, cron string, keep time.Duration) (gocron.Scheduler, error) {
	logger := logctx.LoggerFromContext(ctx)

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.CronJob(cron, false),
		gocron.NewTask(func() {
			_ = DeleteExpiredHistory(ctx, repo, keep)
		}),
		gocron.WithName("history-cleanup"),
		gocron.WithTags("cleanup"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()

		return nil, fmt.Errorf("failed to schedule history cleanup %q: %w", cron, err)
	}

	s.Start()

	logger.Info("history cleanup scheduled", "cron", cron, "retention", keep.String())

	return s, nil
}
