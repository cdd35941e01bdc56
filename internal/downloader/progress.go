package downloader

import (
	"FetchVault/config"
	"FetchVault/internal/backend"
	"FetchVault/internal/events"
	"FetchVault/internal/repo"
	"FetchVault/internal/storage"
	"FetchVault/model"
	"context"
	"log"
	"path/filepath"
	"time"
)

// ProgressPass polls the backend for every active transfer, persists byte
// movement and settles completed or failed files. Runs on a fixed cadence
// independent of the scheduling pass.
func (d *Driver) ProgressPass(ctx context.Context) error {
	var active []model.TaskFile
	if err := repo.Db.Where("state = ?", model.FileDownloading).
		Find(&active).Error; err != nil {
		return err
	}

	touched := map[string]bool{}
	for i := range active {
		f := &active[i]
		if moved := d.trackFile(ctx, f); moved {
			touched[f.TaskID] = true
		}
	}

	for taskID := range touched {
		d.publishOverall(ctx, taskID)
		d.aggregateTask(ctx, taskID)
	}
	return nil
}

// trackFile reconciles one active file against the backend. Returns true
// when the file's task needs an aggregate refresh.
func (d *Driver) trackFile(ctx context.Context, f *model.TaskFile) bool {
	p, err := d.backend.Progress(ctx, f.DownloadGID)
	if err != nil {
		log.Printf("downloader: progress poll failed for file %s: %v", f.ID, err)
		return d.checkStall(ctx, f)
	}

	switch p.State {
	case backend.StateError:
		d.retryOrFail(ctx, f, p.Message)
		return true
	case backend.StateComplete:
		d.finishFile(ctx, f, p)
		return true
	}

	received := p.ReceivedBytes
	if f.SizeBytes > 0 && received > f.SizeBytes {
		received = f.SizeBytes
	}

	updates := map[string]interface{}{}
	if f.SizeBytes == 0 && p.TotalBytes > 0 {
		f.SizeBytes = p.TotalBytes
		updates["size_bytes"] = p.TotalBytes
	}
	if received != f.ReceivedBytes {
		now := time.Now()
		f.ReceivedBytes = received
		f.LastProgressAt = &now
		updates["received_bytes"] = received
		updates["last_progress_at"] = &now
	}
	if len(updates) > 0 {
		if err := repo.Db.Model(&model.TaskFile{}).
			Where("id = ?", f.ID).
			Updates(updates).Error; err != nil {
			log.Printf("downloader: progress update failed for file %s: %v", f.ID, err)
			return false
		}
		events.Publish(ctx, events.Event{
			Type:          events.TypeFileProgress,
			TaskID:        f.TaskID,
			File:          fileInfoPtr(*f),
			ReceivedBytes: f.ReceivedBytes,
			TotalBytes:    f.SizeBytes,
			Pct:           events.Pct(f.ReceivedBytes, f.SizeBytes),
		})
		// A file at 100% of a known size is settled even if the backend
		// hasn't flipped its state yet.
		if f.SizeBytes > 0 && f.ReceivedBytes >= f.SizeBytes {
			d.finishFile(ctx, f, p)
		}
		return true
	}
	return d.checkStall(ctx, f)
}

// checkStall treats a file with no byte movement inside the stall window
// as a transient backend fault.
func (d *Driver) checkStall(ctx context.Context, f *model.TaskFile) bool {
	window := config.AppConfig.StallWindow
	if window <= 0 || f.LastProgressAt == nil {
		return false
	}
	if time.Since(*f.LastProgressAt) < window {
		return false
	}
	if f.DownloadGID != "" {
		_ = d.backend.Cancel(ctx, f.DownloadGID)
	}
	d.retryOrFail(ctx, f, "no progress within stall window")
	return true
}

// retryOrFail puts a faulted file back in line for rescheduling until its
// retry budget runs out, then fails it with the backend's message.
func (d *Driver) retryOrFail(ctx context.Context, f *model.TaskFile, reason string) {
	retries := f.RetryCount + 1
	if retries <= config.AppConfig.FileRetryMax {
		res := repo.Db.Model(&model.TaskFile{}).
			Where("id = ? AND state = ?", f.ID, model.FileDownloading).
			Updates(map[string]interface{}{
				"state":        model.FileSelected,
				"download_gid": "",
				"retry_count":  retries,
			})
		if res.Error != nil {
			log.Printf("downloader: retry update failed for file %s: %v", f.ID, res.Error)
			return
		}
		if res.RowsAffected > 0 {
			log.Printf("downloader: file %s retry %d/%d: %s", f.ID, retries, config.AppConfig.FileRetryMax, reason)
		}
		return
	}
	failFile(ctx, f.TaskID, f, reason)
}

// finishFile settles a completed transfer: received bytes pinned to the
// known total, local path recorded, optional archive upload.
func (d *Driver) finishFile(ctx context.Context, f *model.TaskFile, p backend.Progress) {
	size := f.SizeBytes
	if size == 0 {
		size = p.TotalBytes
	}
	if size == 0 {
		size = p.ReceivedBytes
	}
	dir, err := storage.TaskDir(f.TaskID)
	if err != nil {
		log.Printf("downloader: task dir failed for file %s: %v", f.ID, err)
		return
	}
	localPath := filepath.Join(dir, f.Name)
	res := repo.Db.Model(&model.TaskFile{}).
		Where("id = ? AND state = ?", f.ID, model.FileDownloading).
		Updates(map[string]interface{}{
			"state":          model.FileDone,
			"size_bytes":     size,
			"received_bytes": size,
			"local_path":     localPath,
		})
	if res.Error != nil {
		log.Printf("downloader: finish update failed for file %s: %v", f.ID, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		return
	}
	f.State = model.FileDone
	f.SizeBytes = size
	f.ReceivedBytes = size
	f.LocalPath = localPath
	events.Publish(ctx, events.Event{
		Type:          events.TypeFileProgress,
		TaskID:        f.TaskID,
		File:          fileInfoPtr(*f),
		ReceivedBytes: size,
		TotalBytes:    size,
		Pct:           100,
	})
	if config.AppConfig.ArchiveEnable {
		if err := storage.ArchiveFile(ctx, f.TaskID, localPath, f.Name); err != nil {
			log.Printf("downloader: archive failed for file %s: %v", f.ID, err)
		}
	}
}

// publishOverall emits the task-wide progress aggregate.
func (d *Driver) publishOverall(ctx context.Context, taskID string) {
	var files []model.TaskFile
	if err := repo.Db.Where("task_id = ?", taskID).Find(&files).Error; err != nil {
		log.Printf("downloader: overall scan failed for task %s: %v", taskID, err)
		return
	}
	received, total, pct := OverallProgress(files)
	events.Publish(ctx, events.Event{
		Type:          events.TypeOverallProgress,
		TaskID:        taskID,
		ReceivedBytes: received,
		TotalBytes:    total,
		Pct:           pct,
	})
}

// OverallProgress aggregates received over total across files with known
// sizes; with no sizes known it falls back to a completed-count ratio.
func OverallProgress(files []model.TaskFile) (received, total int64, pct float64) {
	done := 0
	counted := 0
	for _, f := range files {
		if f.State == model.FileListed {
			continue
		}
		counted++
		if f.State == model.FileDone {
			done++
		}
		if f.SizeBytes > 0 {
			total += f.SizeBytes
			r := f.ReceivedBytes
			if r > f.SizeBytes {
				r = f.SizeBytes
			}
			received += r
		}
	}
	if total > 0 {
		return received, total, events.Pct(received, total)
	}
	if counted == 0 {
		return 0, 0, 0
	}
	return 0, 0, float64(done) / float64(counted) * 100
}
