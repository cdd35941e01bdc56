package dto

// SubmitTaskRequest creates a new download task from a content source.
type SubmitTaskRequest struct {
	SourceKind string `json:"source_kind" binding:"required"`
	Source     string `json:"source" binding:"required"`
	Mode       string `json:"mode"`
	Label      string `json:"label"`
}

// SelectFilesRequest marks the listed files a select-mode task should
// actually download.
type SelectFilesRequest struct {
	FileIDs []string `json:"file_ids" binding:"required"`
}
