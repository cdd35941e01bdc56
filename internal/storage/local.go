package storage

import (
	"FetchVault/config"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// TaskDir returns the on-disk directory for a task's files, creating it
// if needed.
func TaskDir(taskID string) (string, error) {
	dir := filepath.Join(config.AppConfig.StorageRoot, taskID, "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// RemoveTaskDir deletes everything stored on disk for a task.
func RemoveTaskDir(taskID string) error {
	if taskID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(config.AppConfig.StorageRoot, taskID))
}

// FreeBytes reports the free space on the volume holding the storage root.
func FreeBytes() (int64, error) {
	usage, err := disk.Usage(config.AppConfig.StorageRoot)
	if err != nil {
		return 0, err
	}
	return int64(usage.Free), nil
}

// HasRoomFor reports whether admitting size more bytes keeps free space
// above the configured floor. Unknown sizes (zero) only check the floor.
func HasRoomFor(size int64) (bool, error) {
	free, err := FreeBytes()
	if err != nil {
		return false, err
	}
	return free-size >= config.AppConfig.MinFreeBytes, nil
}
