package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/erpsync"
	"bitbucket.org/warelogic/counting_backend/models"
	"bitbucket.org/warelogic/counting_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type jobSchedule struct {
	snapshotHour  int
	flushInterval time.Duration
}

func getJobSchedule() jobSchedule {
	cfg := jobSchedule{
		snapshotHour:  3,
		flushInterval: 30 * time.Minute,
	}
	if v := os.Getenv("SNAPSHOT_SYNC_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			cfg.snapshotHour = n
		}
	}
	if v := os.Getenv("ADJUSTMENT_FLUSH_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.flushInterval = time.Duration(n) * time.Minute
		}
	}
	return cfg
}

// runSnapshotSyncJob refreshes snapshots and queue priorities once a day at
// the configured hour.
func runSnapshotSyncJob(ctx context.Context, logger *logrus.Logger) {
	cfg := getJobSchedule()
	for {
		next := nextRunAt(time.Now(), cfg.snapshotHour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		runExclusiveJob(ctx, logger, "snapshot_sync", models.JobTypeSnapshotSync, func(jobCtx context.Context) (int, string, error) {
			stats, err := erpsync.SyncAllSnapshots(jobCtx, config.GetDB(), logger, gateway)
			if err != nil {
				return 0, "", err
			}
			return stats.Products, fmt.Sprintf("%d products, %d queue items upserted", stats.Products, stats.QueueUpserted), nil
		})
	}
}

// runAdjustmentFlushJob periodically posts approved adjustments to the ERP.
func runAdjustmentFlushJob(ctx context.Context, logger *logrus.Logger) {
	cfg := getJobSchedule()
	ticker := time.NewTicker(cfg.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runExclusiveJob(ctx, logger, "adjustment_flush", models.JobTypeAdjustmentFlush, func(jobCtx context.Context) (int, string, error) {
			result, err := workflow.SyncPendingAdjustments(jobCtx, config.GetDB(), logger, gateway)
			if err != nil {
				return 0, "", err
			}
			return result.Processed, fmt.Sprintf("%d adjustments synced, %d notes created, %d failed", result.Processed, result.NotesCreated, result.Failed), nil
		})
	}
}

// runExclusiveJob wraps one job run with cross-instance serialization and a
// JobLog row. The Redis lock is a best-effort optimization; reliability must
// not depend on Redis, so the run also serializes via a MySQL advisory lock.
func runExclusiveJob(ctx context.Context, logger *logrus.Logger, name string, jobType models.JobType, run func(context.Context) (int, string, error)) {
	if gateway == nil {
		logger.WithFields(logrus.Fields{"field": name}).Warn("erp gateway not configured; skipping job run")
		return
	}

	correlationID := uuid.NewString()

	var lock *redislock.Lock
	if redisLock := config.GetRedisLock(); redisLock != nil {
		l, err := redisLock.Obtain(ctx, "lock:job:"+name, 30*time.Second, nil)
		if err == redislock.ErrNotObtained {
			logger.WithFields(logrus.Fields{"field": name}).Warn("another instance is running this job; skipping")
			return
		} else if err != nil {
			logger.WithFields(logrus.Fields{"field": name}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		} else {
			lock = l
		}
	}
	defer func() {
		if lock != nil {
			if releaseErr := lock.Release(ctx); releaseErr != nil {
				logger.WithFields(logrus.Fields{"field": name}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}
	}()

	db := config.GetDB()
	if err := workflow.AcquireJobLock(db, name); err != nil {
		logger.WithFields(logrus.Fields{"field": name}).Warn("could not acquire job lock: " + err.Error())
		return
	}
	defer workflow.ReleaseJobLock(db, name)

	processed, detail, err := run(ctx)

	jl := models.JobLog{
		Type:           jobType,
		Status:         models.JobStatusSuccess,
		ItemsProcessed: processed,
		Detail:         detail,
		CorrelationId:  correlationID,
	}
	if err != nil {
		jl.Status = models.JobStatusError
		jl.Error = err.Error()
		config.LogError(logger, "jobs.go", "runExclusiveJob", name, nil, err)
	} else {
		logger.WithFields(logrus.Fields{
			"field":          name,
			"processed":      processed,
			"correlation_id": correlationID,
		}).Info(detail)
	}
	if dbErr := db.WithContext(ctx).Create(&jl).Error; dbErr != nil {
		config.LogError(logger, "jobs.go", "runExclusiveJob", "job log write failed", name, dbErr)
	}
}

// nextRunAt returns the next occurrence of the given hour, local time.
func nextRunAt(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
