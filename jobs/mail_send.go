package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// MailJob delivers transactional mail queued by the credential service.
type MailJob struct {
	logger *slog.Logger
}

// NewMailJob constructs a MailJob.
func NewMailJob(logger *slog.Logger) *MailJob {
	return &MailJob{logger: logger}
}

// Handle processes TaskTypeSendEmail tasks.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with SMTP/Mailpit in phase 2.
	j.logger.Info("send email",
		slog.String("to", payload.To),
		slog.String("subject", payload.Subject),
	)
	return nil
}
