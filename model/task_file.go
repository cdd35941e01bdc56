package model

import "time"

// TaskFile states.
const (
	FileListed      = "listed"
	FileSelected    = "selected"
	FileDownloading = "downloading"
	FileDone        = "done"
	FileFailed      = "failed"
)

type TaskFile struct {
	ID     string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TaskID string `gorm:"column:task_id;type:varchar(36);index;not null" json:"task_id"`
	Idx    int    `gorm:"column:idx;not null" json:"index"`

	Name         string `gorm:"column:name;type:varchar(255);not null" json:"name"`
	RelativePath string `gorm:"column:relative_path;type:varchar(1024)" json:"relative_path"`

	// SizeBytes is zero until resolution reports it.
	SizeBytes     int64 `gorm:"column:size_bytes;default:0" json:"size_bytes"`
	ReceivedBytes int64 `gorm:"column:received_bytes;default:0" json:"received_bytes"`

	State    string `gorm:"column:state;type:varchar(32);index;not null" json:"state"`
	ErrorMsg string `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`

	// ProviderLink is the provider-side retrieval handle for this file.
	ProviderLink string `gorm:"column:provider_link;type:text" json:"-"`

	// DownloadGID is the backend handle of the active transfer.
	DownloadGID string `gorm:"column:download_gid;type:varchar(64)" json:"-"`
	RetryCount  int    `gorm:"column:retry_count;default:0" json:"-"`
	LocalPath   string `gorm:"column:local_path;type:varchar(1024)" json:"-"`

	// LastProgressAt feeds stall detection; bumped whenever bytes move.
	LastProgressAt *time.Time `gorm:"column:last_progress_at" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (TaskFile) TableName() string {
	return "task_file"
}

// IsSettled reports whether the file needs no further driving.
func (f *TaskFile) IsSettled() bool {
	return f.State == FileDone || f.State == FileFailed
}
