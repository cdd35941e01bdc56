package service

import (
	"FetchVault/internal/events"
	"FetchVault/internal/repo"
	"FetchVault/internal/storage"
	"FetchVault/model"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrTaskNotFound is returned for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// FindTask loads a task with its files.
func FindTask(taskID string) (*model.Task, error) {
	var task model.Task
	err := repo.Db.Preload("Files", func(db *gorm.DB) *gorm.DB {
		return db.Order("idx ASC")
	}).Where("id = ?", taskID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks lists tasks, optionally filtered by status.
func ListTasks(status string, limit int) ([]model.Task, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q := repo.Db.Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tasks []model.Task
	err := q.Find(&tasks).Error
	return tasks, err
}

// SelectFiles marks the chosen files of a select-mode task as selected.
// Files left unchosen stay listed and are not required for readiness.
func SelectFiles(ctx context.Context, taskID string, fileIDs []string) error {
	task, err := FindTask(taskID)
	if err != nil {
		return err
	}
	if task.Mode != model.ModeSelect {
		return &ValidationError{Reason: "task is not in select mode"}
	}
	if task.IsTerminal() {
		return &ValidationError{Reason: "task already finished"}
	}
	if len(fileIDs) == 0 {
		return &ValidationError{Reason: "no files chosen"}
	}
	res := repo.Db.Model(&model.TaskFile{}).
		Where("task_id = ? AND id IN ? AND state = ?", taskID, fileIDs, model.FileListed).
		Update("state", model.FileSelected)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ValidationError{Reason: "no selectable files matched"}
	}
	// Selection changes file state, not task status: observers learn about
	// it through per-file events, STATE stays reserved for status moves.
	var selected []model.TaskFile
	if err := repo.Db.Where("task_id = ? AND id IN ?", taskID, fileIDs).
		Order("idx ASC").
		Find(&selected).Error; err == nil {
		for _, f := range selected {
			info := FileInfoOf(f)
			events.Publish(ctx, events.Event{
				Type:   events.TypeFileProgress,
				TaskID: taskID,
				File:   &info,
			})
		}
	}
	return nil
}

// Cancel requests cooperative cancellation of a task. Whichever loop is
// acting on the task unwinds at its next iteration boundary.
func Cancel(ctx context.Context, taskID string) error {
	task, err := FindTask(taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return &ValidationError{Reason: "task already finished"}
	}
	return events.RequestCancel(ctx, taskID)
}

// DeleteTask removes a terminal task, its file rows and its on-disk
// data, then retires the event topic. Live tasks must be canceled first.
func DeleteTask(ctx context.Context, taskID string) error {
	task, err := FindTask(taskID)
	if err != nil {
		return err
	}
	if !task.IsTerminal() {
		return &ValidationError{Reason: "task is still running, cancel it first"}
	}
	if err := storage.RemoveTaskDir(taskID); err != nil {
		return err
	}
	err = repo.Db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&model.TaskFile{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", taskID).Delete(&model.Task{}).Error
	})
	if err != nil {
		return err
	}
	events.ClearTopic(ctx, taskID)
	return nil
}

// FileInfoOf maps a stored file row to its event payload shape.
func FileInfoOf(f model.TaskFile) events.FileInfo {
	return events.FileInfo{
		ID:            f.ID,
		Index:         f.Idx,
		Name:          f.Name,
		RelativePath:  f.RelativePath,
		SizeBytes:     f.SizeBytes,
		ReceivedBytes: f.ReceivedBytes,
		State:         f.State,
		Error:         f.ErrorMsg,
	}
}

// Snapshot synthesizes the current persisted picture of a task as an
// event, used to prime new subscriptions.
func Snapshot(ctx context.Context, taskID string) (events.Event, error) {
	task, err := FindTask(taskID)
	if err != nil {
		return events.Event{}, err
	}
	files := make([]events.FileInfo, 0, len(task.Files))
	var received, total int64
	for _, f := range task.Files {
		files = append(files, FileInfoOf(f))
		received += f.ReceivedBytes
		total += f.SizeBytes
	}
	return events.Event{
		Type:          events.TypeSnapshot,
		TaskID:        task.ID,
		Status:        task.Status,
		Message:       task.ErrorMsg,
		Files:         files,
		ReceivedBytes: received,
		TotalBytes:    total,
		Pct:           events.Pct(received, total),
		Ts:            time.Now(),
	}, nil
}
