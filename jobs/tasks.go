// Package jobs hosts the Asynq background workers: transactional mail,
// session pruning and the profile provisioning sweep.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeSessionPrune removes expired session audit rows.
	TaskTypeSessionPrune = "sessions:prune"
	// TaskTypeProfileSweep provisions profile rows for accounts that lack one.
	TaskTypeProfileSweep = "profiles:sweep"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewSessionPruneTask constructs a session prune task.
func NewSessionPruneTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSessionPrune, nil)
}

// NewProfileSweepTask constructs a profile sweep task.
func NewProfileSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeProfileSweep, nil)
}
