package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// JobRun records one execution of a scheduler job for operability:
// what ran, when, and how many subscriptions it touched or failed.
type JobRun struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Name       string       `gorm:"type:text;not null;index"`
	StartedAt  time.Time    `gorm:"not null"`
	FinishedAt *time.Time
	Processed  int `gorm:"not null;default:0"`
	Failed     int `gorm:"not null;default:0"`
}

func (JobRun) TableName() string { return "job_runs" }

func (s *Scheduler) startRun(ctx context.Context, name string) *JobRun {
	run := &JobRun{
		ID:        s.genID.Generate(),
		Name:      name,
		StartedAt: s.clock.Now(ctx),
	}
	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO job_runs (id, name, started_at, processed, failed) VALUES (?, ?, ?, 0, 0)`,
		run.ID, run.Name, run.StartedAt,
	).Error; err != nil {
		s.log.Warn("failed to record job run", zap.String("job", name), zap.Error(err))
	}
	s.log.Info("job started", zap.String("job", name))
	return run
}

func (s *Scheduler) finishRun(ctx context.Context, run *JobRun) {
	now := s.clock.Now(ctx)
	run.FinishedAt = &now
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE job_runs SET finished_at = ?, processed = ?, failed = ? WHERE id = ?`,
		now, run.Processed, run.Failed, run.ID,
	).Error; err != nil {
		s.log.Warn("failed to finalize job run", zap.String("job", run.Name), zap.Error(err))
	}
	s.log.Info("job finished",
		zap.String("job", run.Name),
		zap.Int("processed", run.Processed),
		zap.Int("failed", run.Failed),
		zap.Duration("took", now.Sub(run.StartedAt)),
	)
}
