package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/ShemaiahYaba/academic-repo/internal/jobs"
)

// SessionPruneJob deletes session audit rows whose refresh tokens have
// expired. Redis forgets the tokens on its own through key TTLs; this job
// keeps the Postgres side from growing without bound.
type SessionPruneJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSessionPruneJob initialises the prune handler.
func NewSessionPruneJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionPruneJob {
	return &SessionPruneJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the prune.
func (j *SessionPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("session prune: handler not configured")
	}
	tracker := j.Metrics.Track(TaskTypeSessionPrune)
	tag, err := j.Pool.Exec(ctx, `DELETE FROM auth_sessions WHERE expires_at < $1`, j.clock())
	if err != nil {
		j.Logger.Error("session prune failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Logger.Info("pruned expired sessions", slog.Int64("deleted", tag.RowsAffected()))
	return tracker.End(nil)
}
