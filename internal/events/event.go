package events

import "time"

// Event types carried on a task topic.
const (
	TypeState              = "STATE"
	TypeResolutionProgress = "RESOLUTION_PROGRESS"
	TypeResolved           = "RESOLVED"
	TypeFileProgress       = "FILE_PROGRESS"
	TypeOverallProgress    = "OVERALL_PROGRESS"
	TypeError              = "ERROR"
	TypeCleared            = "CLEARED"

	// Synthesized per subscription, never published to the topic.
	TypeSnapshot  = "SNAPSHOT"
	TypeHeartbeat = "HEARTBEAT"
)

// FileInfo is the per-file payload embedded in events and snapshots.
type FileInfo struct {
	ID            string `json:"fileId"`
	Index         int    `json:"index"`
	Name          string `json:"name"`
	RelativePath  string `json:"relativePath,omitempty"`
	SizeBytes     int64  `json:"sizeBytes"`
	ReceivedBytes int64  `json:"receivedBytes"`
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`
}

// Event is the JSON shape delivered to observers.
type Event struct {
	Type          string     `json:"type"`
	TaskID        string     `json:"taskId"`
	Status        string     `json:"status,omitempty"`
	Message       string     `json:"message,omitempty"`
	File          *FileInfo  `json:"file,omitempty"`
	Files         []FileInfo `json:"files,omitempty"`
	ReceivedBytes int64      `json:"receivedBytes,omitempty"`
	TotalBytes    int64      `json:"totalBytes,omitempty"`
	Pct           float64    `json:"pct,omitempty"`
	Ts            time.Time  `json:"ts"`
}

// Pct computes a 0-100 progress percentage, guarding the zero-total case.
func Pct(received, total int64) float64 {
	if total <= 0 {
		return 0
	}
	if received > total {
		received = total
	}
	return float64(received) / float64(total) * 100
}
