package dto

import (
	"FetchVault/model"
	"time"
)

// SubmitTaskResponse reports where a submission landed. Reused is true
// when an equivalent live task absorbed the request.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Reused bool   `json:"reused"`
}

// TaskFileResponse is one resolved file of a task.
type TaskFileResponse struct {
	ID            string `json:"id"`
	Index         int    `json:"index"`
	Name          string `json:"name"`
	RelativePath  string `json:"relative_path"`
	SizeBytes     int64  `json:"size_bytes"`
	ReceivedBytes int64  `json:"received_bytes"`
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`
	LocalPath     string `json:"local_path,omitempty"`
}

// TaskResponse is the full persisted picture of a task.
type TaskResponse struct {
	ID         string             `json:"id"`
	SourceKind string             `json:"source_kind"`
	Mode       string             `json:"mode"`
	Status     string             `json:"status"`
	Label      string             `json:"label,omitempty"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Files      []TaskFileResponse `json:"files,omitempty"`
}

// StreamTokenResponse carries a short-lived token for the event stream.
type StreamTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// FromTaskFile maps a stored file row to its API shape.
func FromTaskFile(f model.TaskFile) TaskFileResponse {
	return TaskFileResponse{
		ID:            f.ID,
		Index:         f.Idx,
		Name:          f.Name,
		RelativePath:  f.RelativePath,
		SizeBytes:     f.SizeBytes,
		ReceivedBytes: f.ReceivedBytes,
		State:         f.State,
		Error:         f.ErrorMsg,
		LocalPath:     f.LocalPath,
	}
}

// FromTask maps a stored task, files included, to its API shape.
func FromTask(task *model.Task) TaskResponse {
	resp := TaskResponse{
		ID:         task.ID,
		SourceKind: task.SourceKind,
		Mode:       task.Mode,
		Status:     task.Status,
		Label:      task.Label,
		Error:      task.ErrorMsg,
		CreatedAt:  task.CreatedAt,
		UpdatedAt:  task.UpdatedAt,
	}
	for _, f := range task.Files {
		resp.Files = append(resp.Files, FromTaskFile(f))
	}
	return resp
}
