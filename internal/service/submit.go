package service

import (
	"FetchVault/internal/events"
	"FetchVault/internal/mq"
	"FetchVault/internal/repo"
	"FetchVault/model"
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResolveMessage is the payload sent to the resolver worker.
type ResolveMessage struct {
	TaskID  string `json:"task_id"`
	Attempt int    `json:"attempt"`
}

// SubmitResult reports the task a submission landed on.
type SubmitResult struct {
	Task   *model.Task
	Reused bool
}

// Submit validates a source, dedups it against non-terminal tasks with
// the same identifier, and creates plus enqueues a new task otherwise.
func Submit(ctx context.Context, sourceKind, source, mode, label string) (*SubmitResult, error) {
	if err := ValidateSubmission(sourceKind, source, mode, label); err != nil {
		return nil, err
	}
	identifier, err := DeriveIdentifier(sourceKind, source)
	if err != nil {
		return nil, err
	}

	var existing model.Task
	err = repo.Db.
		Where("identifier = ? AND status NOT IN ?", identifier, model.TerminalStatuses).
		Order("created_at DESC").
		First(&existing).Error
	if err == nil {
		return &SubmitResult{Task: &existing, Reused: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	task := &model.Task{
		ID:         uuid.NewString(),
		Identifier: identifier,
		SourceKind: sourceKind,
		Source:     source,
		Mode:       mode,
		Label:      label,
		Status:     model.TaskQueued,
	}
	if err := repo.Db.Create(task).Error; err != nil {
		return nil, err
	}

	if err := EnqueueResolve(ctx, task.ID, 0); err != nil {
		markTaskFailed(ctx, task.ID, err.Error())
		return nil, err
	}
	events.PublishState(ctx, task.ID, model.TaskQueued, "")
	return &SubmitResult{Task: task}, nil
}

// EnqueueResolve publishes a resolve message for a task.
func EnqueueResolve(ctx context.Context, taskID string, attempt int) error {
	body, err := json.Marshal(ResolveMessage{TaskID: taskID, Attempt: attempt})
	if err != nil {
		return err
	}
	publisher, err := mq.GetPublisher()
	if err != nil {
		return err
	}
	return publisher.PublishResolve(ctx, body)
}

func markTaskFailed(ctx context.Context, taskID, reason string) {
	res := repo.Db.Model(&model.Task{}).
		Where("id = ? AND status NOT IN ?", taskID, model.TerminalStatuses).
		Updates(map[string]interface{}{
			"status":    model.TaskFailed,
			"error_msg": reason,
		})
	if res.Error == nil && res.RowsAffected > 0 {
		events.PublishState(ctx, taskID, model.TaskFailed, reason)
	}
}
