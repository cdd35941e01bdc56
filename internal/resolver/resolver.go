package resolver

import (
	"FetchVault/config"
	"FetchVault/internal/events"
	"FetchVault/internal/provider"
	"FetchVault/internal/repo"
	"FetchVault/model"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrResolutionTimeout marks a provider that never reached a terminal
// state within the poll ceiling, as opposed to one that rejected the
// source explicitly.
var ErrResolutionTimeout = errors.New("resolution_timeout")

// errCanceled stops processing after a cancel flag was observed. Never
// escapes this package.
var errCanceled = errors.New("task canceled")

// Resolver turns a submitted source into a concrete file list by driving
// the unlocking provider through a bounded poll loop.
type Resolver struct {
	provider provider.Provider
}

func New(p provider.Provider) *Resolver {
	return &Resolver{provider: p}
}

// Process resolves one task. Exactly one worker wins the queued->resolving
// claim; losers return nil without acting. Transient provider errors on
// the initial call surface to the caller for MQ-level retry; everything
// after the claim is handled inside the poll loop.
func (r *Resolver) Process(ctx context.Context, taskID string) error {
	var task model.Task
	if err := repo.Db.Where("id = ?", taskID).First(&task).Error; err != nil {
		return err
	}
	if task.IsTerminal() {
		return nil
	}
	if events.IsCanceled(ctx, task.ID) {
		markCanceled(ctx, task.ID)
		return nil
	}

	res := repo.Db.Model(&model.Task{}).
		Where("id = ? AND status = ?", task.ID, model.TaskQueued).
		Update("status", model.TaskResolving)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	task.Status = model.TaskResolving
	events.PublishState(ctx, task.ID, model.TaskResolving, "")

	resolution, err := r.provider.Resolve(ctx, task.SourceKind, task.Source)
	if err != nil {
		return err
	}
	if resolution.Ref != "" && resolution.Ref != task.ProviderRef {
		if err := repo.Db.Model(&model.Task{}).
			Where("id = ?", task.ID).
			Update("provider_ref", resolution.Ref).Error; err != nil {
			return err
		}
		task.ProviderRef = resolution.Ref
	}

	resolution, err = r.pollUntilSettled(ctx, &task, resolution)
	if errors.Is(err, errCanceled) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.populate(ctx, &task, resolution)
}

// pollUntilSettled drives the provider until ready or error, bounded by
// wall clock against the configured ceiling. Transient poll failures are
// retried on the next tick; permanent ones surface immediately.
func (r *Resolver) pollUntilSettled(ctx context.Context, task *model.Task, resolution provider.Resolution) (provider.Resolution, error) {
	interval := config.AppConfig.ResolvePollInterval
	ceiling := config.AppConfig.ResolvePollCeiling
	start := time.Now()

	for {
		switch resolution.Status {
		case provider.StatusReady:
			return resolution, nil
		case provider.StatusError:
			msg := resolution.Message
			if msg == "" {
				msg = "provider reported an error"
			}
			return resolution, &provider.Error{Message: msg}
		}

		if events.IsCanceled(ctx, task.ID) {
			markCanceled(ctx, task.ID)
			return resolution, errCanceled
		}
		if time.Since(start) > ceiling {
			return resolution, ErrResolutionTimeout
		}

		events.Publish(ctx, events.Event{
			Type:    events.TypeResolutionProgress,
			TaskID:  task.ID,
			Status:  model.TaskResolving,
			Message: resolution.Message,
		})

		select {
		case <-ctx.Done():
			return resolution, ctx.Err()
		case <-time.After(interval):
		}

		next, err := r.provider.PollStatus(ctx, task.ProviderRef)
		if err != nil {
			var pe *provider.Error
			if errors.As(err, &pe) && pe.Transient {
				log.Printf("resolver: transient poll failure for task %s: %v", task.ID, err)
				continue
			}
			return resolution, err
		}
		resolution = next
	}
}

// populate writes the resolved file list and advances the task. A ready
// resolution with zero files short-circuits straight to ready.
func (r *Resolver) populate(ctx context.Context, task *model.Task, resolution provider.Resolution) error {
	// Re-read in case cancellation won the race inside the poll loop.
	if err := repo.Db.Where("id = ?", task.ID).First(task).Error; err != nil {
		return err
	}
	if model.IsTerminalStatus(task.Status) {
		return nil
	}

	if len(resolution.Files) == 0 {
		res := repo.Db.Model(&model.Task{}).
			Where("id = ? AND status = ?", task.ID, model.TaskResolving).
			Update("status", model.TaskReady)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			events.PublishState(ctx, task.ID, model.TaskReady, "no files to download")
		}
		return nil
	}

	state := model.FileListed
	if task.Mode == model.ModeAuto {
		state = model.FileSelected
	}
	infos := make([]events.FileInfo, 0, len(resolution.Files))
	err := repo.Db.Transaction(func(tx *gorm.DB) error {
		for _, fd := range resolution.Files {
			var existing model.TaskFile
			err := tx.Where("task_id = ? AND idx = ?", task.ID, fd.Index).First(&existing).Error
			if err == nil {
				infos = append(infos, fileInfo(existing))
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			file := model.TaskFile{
				ID:           uuid.NewString(),
				TaskID:       task.ID,
				Idx:          fd.Index,
				Name:         fd.Name,
				RelativePath: fd.Name,
				SizeBytes:    fd.SizeBytes,
				State:        state,
				ProviderLink: fd.Link,
			}
			if err := tx.Create(&file).Error; err != nil {
				return err
			}
			infos = append(infos, fileInfo(file))
		}
		return nil
	})
	if err != nil {
		return err
	}

	events.Publish(ctx, events.Event{
		Type:    events.TypeResolved,
		TaskID:  task.ID,
		Status:  model.TaskResolving,
		Message: fmt.Sprintf("%d files listed", len(infos)),
		Files:   infos,
	})

	res := repo.Db.Model(&model.Task{}).
		Where("id = ? AND status = ?", task.ID, model.TaskResolving).
		Update("status", model.TaskDownloading)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		events.PublishState(ctx, task.ID, model.TaskDownloading, "")
	}
	return nil
}

func fileInfo(f model.TaskFile) events.FileInfo {
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

// markCanceled settles a task whose cancel flag was observed.
func markCanceled(ctx context.Context, taskID string) {
	res := repo.Db.Model(&model.Task{}).
		Where("id = ? AND status NOT IN ?", taskID, model.TerminalStatuses).
		Update("status", model.TaskCanceled)
	if res.Error != nil {
		log.Printf("resolver: cancel update failed for task %s: %v", taskID, res.Error)
		return
	}
	if res.RowsAffected > 0 {
		events.PublishState(ctx, taskID, model.TaskCanceled, "")
	}
}
