package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/ShemaiahYaba/academic-repo/internal/jobs"
	"github.com/ShemaiahYaba/academic-repo/internal/profiles"
)

// ProfileSweepJob provisions profile rows for accounts that lack one. New
// sign-ups normally get their row from this sweep; the reconciliation
// engine retries its post-sign-in profile fetch to cover the gap.
type ProfileSweepJob struct {
	Pool     *pgxpool.Pool
	Profiles profiles.Store
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewProfileSweepJob initialises the sweep handler.
func NewProfileSweepJob(pool *pgxpool.Pool, store profiles.Store, logger *slog.Logger, metrics *jobmetrics.Metrics) *ProfileSweepJob {
	return &ProfileSweepJob{Pool: pool, Profiles: store, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep over accounts without a profile.
func (j *ProfileSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil || j.Profiles == nil {
		return errors.New("profile sweep: handler not configured")
	}
	tracker := j.Metrics.Track(TaskTypeProfileSweep)
	var resultErr error
	defer func() { _ = tracker.End(resultErr) }()

	const query = `
		SELECT u.id, u.email
		FROM auth_users u
		LEFT JOIN profiles p ON p.id = u.id
		WHERE p.id IS NULL`
	rows, err := j.Pool.Query(ctx, query)
	if err != nil {
		j.Logger.Error("profile sweep query failed", slog.Any("error", err))
		resultErr = err
		return resultErr
	}
	defer rows.Close()

	type orphan struct {
		id    string
		email string
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.id, &o.email); err != nil {
			resultErr = err
			return resultErr
		}
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		resultErr = err
		return resultErr
	}

	created := 0
	for _, o := range orphans {
		seed := profiles.Seed{
			Email:    o.email,
			Username: usernameFromEmail(o.email),
			Role:     profiles.RoleUser,
		}
		if _, err := j.Profiles.Create(ctx, o.id, seed); err != nil {
			j.Logger.Error("provision profile failed",
				slog.String("user_id", o.id),
				slog.Any("error", err),
			)
			continue
		}
		created++
	}

	j.Logger.Info("profile sweep complete",
		slog.Int("orphans", len(orphans)),
		slog.Int("created", created),
	)
	return nil
}

func usernameFromEmail(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
