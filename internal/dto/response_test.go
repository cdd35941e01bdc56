package dto

import (
	"FetchVault/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTask(t *testing.T) {
	task := &model.Task{
		ID:         "t1",
		SourceKind: model.SourceSwarm,
		Mode:       model.ModeSelect,
		Status:     model.TaskDownloading,
		Label:      "linux isos",
		Files: []model.TaskFile{
			{ID: "f1", Idx: 0, Name: "a.iso", SizeBytes: 100, ReceivedBytes: 40, State: model.FileDownloading},
			{ID: "f2", Idx: 1, Name: "b.iso", State: model.FileListed},
		},
	}
	resp := FromTask(task)
	assert.Equal(t, "t1", resp.ID)
	assert.Equal(t, model.TaskDownloading, resp.Status)
	require.Len(t, resp.Files, 2)
	assert.Equal(t, "f1", resp.Files[0].ID)
	assert.Equal(t, int64(40), resp.Files[0].ReceivedBytes)
	assert.Equal(t, model.FileListed, resp.Files[1].State)
}

func TestFromTaskNoFiles(t *testing.T) {
	resp := FromTask(&model.Task{ID: "t2", Status: model.TaskQueued})
	assert.Equal(t, "t2", resp.ID)
	assert.Nil(t, resp.Files)
}
