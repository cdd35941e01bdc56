package model

import "time"

// Task statuses. Ready, failed and canceled are terminal.
const (
	TaskQueued      = "queued"
	TaskResolving   = "resolving"
	TaskDownloading = "downloading"
	TaskReady       = "ready"
	TaskFailed      = "failed"
	TaskCanceled    = "canceled"
)

// Task source kinds.
const (
	SourceSwarm     = "swarm"
	SourceDirectURL = "url"
)

// Task modes.
const (
	ModeAuto   = "auto"
	ModeSelect = "select"
)

// TerminalStatuses lists statuses from which no transition occurs.
var TerminalStatuses = []string{TaskReady, TaskFailed, TaskCanceled}

type Task struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	// Identifier is the dedup fingerprint of the source: the swarm
	// descriptor's infohash, or a content hash for direct URLs.
	Identifier string `gorm:"column:identifier;type:varchar(64);index;not null" json:"identifier"`

	SourceKind string `gorm:"column:source_kind;type:varchar(16);not null" json:"source_kind"`
	Source     string `gorm:"column:source;type:text;not null" json:"-"`
	Mode       string `gorm:"column:mode;type:varchar(16);not null" json:"mode"`
	Label      string `gorm:"column:label;type:varchar(500)" json:"label"`

	Status      string `gorm:"column:status;type:varchar(32);index;not null" json:"status"`
	ProviderRef string `gorm:"column:provider_ref;type:text" json:"-"`
	ErrorMsg    string `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`

	Files []TaskFile `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"files,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Task) TableName() string {
	return "task"
}

// IsTerminal reports whether the task reached a terminal status.
func (t *Task) IsTerminal() bool {
	return IsTerminalStatus(t.Status)
}

// IsTerminalStatus reports whether a status is terminal.
func IsTerminalStatus(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}
