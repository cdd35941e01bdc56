package downloader

import (
	"FetchVault/config"
	"FetchVault/internal/backend"
	"FetchVault/internal/events"
	"FetchVault/internal/notify"
	"FetchVault/internal/provider"
	"FetchVault/internal/repo"
	"FetchVault/internal/storage"
	"FetchVault/model"
	"context"
	"errors"
	"log"
	"time"
)

const schedulerLockKey = "downloader:schedule:lock"

// Driver admits eligible files to the download backend under per-task and
// global concurrency caps with storage gating, and tracks their progress.
type Driver struct {
	provider provider.Provider
	backend  backend.Backend
}

func New(p provider.Provider, b backend.Backend) *Driver {
	return &Driver{provider: p, backend: b}
}

// SchedulePass runs one scan-and-act scheduling cycle. A Redis lock keeps
// concurrent workers from double-counting cap headroom; losing the lock
// just skips the pass.
func (d *Driver) SchedulePass(ctx context.Context) error {
	lock := repo.NewRedisLock(repo.Redis, schedulerLockKey, 30*time.Second)
	if err := lock.Lock(ctx); err != nil {
		if errors.Is(err, repo.ErrLockBusy) {
			return nil
		}
		return err
	}
	defer lock.Unlock(ctx)

	var globalActive int64
	if err := repo.Db.Model(&model.TaskFile{}).
		Where("state = ?", model.FileDownloading).
		Count(&globalActive).Error; err != nil {
		return err
	}
	globalHeadroom := config.AppConfig.GlobalActiveMax - int(globalActive)

	var tasks []model.Task
	if err := repo.Db.Where("status = ?", model.TaskDownloading).
		Order("created_at ASC").
		Find(&tasks).Error; err != nil {
		return err
	}

	for i := range tasks {
		task := &tasks[i]
		if events.IsCanceled(ctx, task.ID) {
			d.cancelTask(ctx, task)
			continue
		}
		started, err := d.scheduleTask(ctx, task, globalHeadroom)
		if err != nil {
			log.Printf("downloader: schedule failed for task %s: %v", task.ID, err)
			continue
		}
		globalHeadroom -= started
		d.aggregateTask(ctx, task.ID)
	}
	return nil
}

// scheduleTask admits as many selected files of one task as both caps and
// the storage floor allow. Waiting is silent: a file that finds no
// headroom is simply not scheduled this pass.
func (d *Driver) scheduleTask(ctx context.Context, task *model.Task, globalHeadroom int) (int, error) {
	if globalHeadroom <= 0 {
		return 0, nil
	}
	var taskActive int64
	if err := repo.Db.Model(&model.TaskFile{}).
		Where("task_id = ? AND state = ?", task.ID, model.FileDownloading).
		Count(&taskActive).Error; err != nil {
		return 0, err
	}
	headroom := config.AppConfig.PerTaskActiveMax - int(taskActive)
	if headroom > globalHeadroom {
		headroom = globalHeadroom
	}
	if headroom <= 0 {
		return 0, nil
	}

	// All eligible files, not a fixed window: storage-gated entries at the
	// front must not shadow admissible ones behind them.
	var candidates []model.TaskFile
	if err := repo.Db.Where("task_id = ? AND state = ?", task.ID, model.FileSelected).
		Order("idx ASC").
		Find(&candidates).Error; err != nil {
		return 0, err
	}

	started := 0
	storageStalled := false
	for i := range candidates {
		if started >= headroom {
			break
		}
		f := &candidates[i]

		// Re-checked every pass: space may free up as other files finish.
		remaining := f.SizeBytes - f.ReceivedBytes
		if remaining < 0 {
			remaining = 0
		}
		ok, err := storage.HasRoomFor(remaining)
		if err != nil {
			return started, err
		}
		if !ok {
			if !storageStalled {
				storageStalled = true
				events.PublishError(ctx, task.ID, "storage: free space below floor, downloads waiting")
			}
			continue
		}

		if err := d.startFile(ctx, task, f); err != nil {
			d.noteFileFault(ctx, task.ID, f, err)
			continue
		}
		started++
	}
	return started, nil
}

// startFile unlocks the provider link, hands the URL to the backend and
// claims the selected->downloading transition.
func (d *Driver) startFile(ctx context.Context, task *model.Task, f *model.TaskFile) error {
	url, err := d.provider.Unlock(ctx, f.ProviderLink)
	if err != nil {
		return err
	}
	dir, err := storage.TaskDir(task.ID)
	if err != nil {
		return err
	}
	gid, err := d.backend.Start(ctx, url, dir, f.Name)
	if err != nil {
		return err
	}

	now := time.Now()
	res := repo.Db.Model(&model.TaskFile{}).
		Where("id = ? AND state = ?", f.ID, model.FileSelected).
		Updates(map[string]interface{}{
			"state":            model.FileDownloading,
			"download_gid":     gid,
			"last_progress_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the claim; stop the duplicate transfer.
		_ = d.backend.Cancel(ctx, gid)
		return nil
	}
	f.State = model.FileDownloading
	f.DownloadGID = gid
	events.Publish(ctx, events.Event{
		Type:   events.TypeFileProgress,
		TaskID: task.ID,
		File:   fileInfoPtr(*f),
	})
	return nil
}

// noteFileFault applies the bounded retry budget to an admission failure.
// Transient provider faults don't consume budget; the file is retried on
// a later pass.
func (d *Driver) noteFileFault(ctx context.Context, taskID string, f *model.TaskFile, cause error) {
	var pe *provider.Error
	if errors.As(cause, &pe) && pe.Transient {
		log.Printf("downloader: transient fault for file %s: %v", f.ID, cause)
		return
	}
	retries := f.RetryCount + 1
	if retries <= config.AppConfig.FileRetryMax {
		if err := repo.Db.Model(&model.TaskFile{}).
			Where("id = ?", f.ID).
			Update("retry_count", retries).Error; err != nil {
			log.Printf("downloader: retry bump failed for file %s: %v", f.ID, err)
		}
		return
	}
	failFile(ctx, taskID, f, cause.Error())
}

// cancelTask stops active transfers and settles the task as canceled.
// Files already done stay done.
func (d *Driver) cancelTask(ctx context.Context, task *model.Task) {
	var active []model.TaskFile
	if err := repo.Db.Where("task_id = ? AND state = ?", task.ID, model.FileDownloading).
		Find(&active).Error; err != nil {
		log.Printf("downloader: cancel scan failed for task %s: %v", task.ID, err)
		return
	}
	for _, f := range active {
		if f.DownloadGID == "" {
			continue
		}
		if err := d.backend.Cancel(ctx, f.DownloadGID); err != nil {
			log.Printf("downloader: backend cancel failed for file %s: %v", f.ID, err)
		}
	}
	// Settle the interrupted rows in the same pass: left in downloading
	// they would keep counting against the caps until the stall window.
	if err := repo.Db.Model(&model.TaskFile{}).
		Where("task_id = ? AND state = ?", task.ID, model.FileDownloading).
		Updates(map[string]interface{}{
			"state":        model.FileFailed,
			"download_gid": "",
			"error_msg":    "task canceled",
		}).Error; err != nil {
		log.Printf("downloader: cancel settle failed for task %s: %v", task.ID, err)
	}
	res := repo.Db.Model(&model.Task{}).
		Where("id = ? AND status NOT IN ?", task.ID, model.TerminalStatuses).
		Update("status", model.TaskCanceled)
	if res.Error != nil {
		log.Printf("downloader: cancel update failed for task %s: %v", task.ID, res.Error)
		return
	}
	if res.RowsAffected > 0 {
		events.PublishState(ctx, task.ID, model.TaskCanceled, "")
		notify.TaskTerminal(task.ID, model.TaskCanceled, task.Label)
	}
}

// aggregateTask recomputes task-level status from file states. Partial
// success (some done, some failed) reports ready with per-file failure
// visible.
func (d *Driver) aggregateTask(ctx context.Context, taskID string) {
	var files []model.TaskFile
	if err := repo.Db.Where("task_id = ?", taskID).Find(&files).Error; err != nil {
		log.Printf("downloader: aggregate scan failed for task %s: %v", taskID, err)
		return
	}

	required := 0
	done := 0
	failed := 0
	for _, f := range files {
		if f.State == model.FileListed {
			continue
		}
		required++
		switch f.State {
		case model.FileDone:
			done++
		case model.FileFailed:
			failed++
		}
	}
	// Nothing selected yet (select mode) or files still moving.
	if required == 0 || done+failed < required {
		return
	}

	status := model.TaskReady
	message := ""
	if done == 0 {
		status = model.TaskFailed
		message = "all files failed"
	}
	updates := map[string]interface{}{"status": status}
	if message != "" {
		updates["error_msg"] = message
	}
	res := repo.Db.Model(&model.Task{}).
		Where("id = ? AND status = ?", taskID, model.TaskDownloading).
		Updates(updates)
	if res.Error != nil {
		log.Printf("downloader: aggregate update failed for task %s: %v", taskID, res.Error)
		return
	}
	if res.RowsAffected > 0 {
		events.PublishState(ctx, taskID, status, message)
		var task model.Task
		if err := repo.Db.Where("id = ?", taskID).First(&task).Error; err == nil {
			notify.TaskTerminal(task.ID, status, task.Label)
		}
	}
}

func failFile(ctx context.Context, taskID string, f *model.TaskFile, reason string) {
	res := repo.Db.Model(&model.TaskFile{}).
		Where("id = ? AND state NOT IN ?", f.ID, []string{model.FileDone, model.FileFailed}).
		Updates(map[string]interface{}{
			"state":     model.FileFailed,
			"error_msg": reason,
		})
	if res.Error != nil {
		log.Printf("downloader: fail update failed for file %s: %v", f.ID, res.Error)
		return
	}
	if res.RowsAffected > 0 {
		f.State = model.FileFailed
		f.ErrorMsg = reason
		events.Publish(ctx, events.Event{
			Type:    events.TypeError,
			TaskID:  taskID,
			Message: reason,
			File:    fileInfoPtr(*f),
		})
	}
}

func fileInfoPtr(f model.TaskFile) *events.FileInfo {
	return &events.FileInfo{
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
