package downloader

import (
	"FetchVault/model"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverallProgressByteRatio(t *testing.T) {
	files := []model.TaskFile{
		{State: model.FileDone, SizeBytes: 1000, ReceivedBytes: 1000},
		{State: model.FileDownloading, SizeBytes: 1000, ReceivedBytes: 250},
		{State: model.FileSelected, SizeBytes: 2000, ReceivedBytes: 0},
	}
	received, total, pct := OverallProgress(files)
	assert.Equal(t, int64(1250), received)
	assert.Equal(t, int64(4000), total)
	assert.InDelta(t, 31.25, pct, 0.001)
}

func TestOverallProgressIgnoresListed(t *testing.T) {
	files := []model.TaskFile{
		{State: model.FileListed, SizeBytes: 9999, ReceivedBytes: 0},
		{State: model.FileDone, SizeBytes: 100, ReceivedBytes: 100},
	}
	received, total, pct := OverallProgress(files)
	assert.Equal(t, int64(100), received)
	assert.Equal(t, int64(100), total)
	assert.Equal(t, 100.0, pct)
}

func TestOverallProgressUnknownSizesFallBackToCount(t *testing.T) {
	files := []model.TaskFile{
		{State: model.FileDone},
		{State: model.FileDone},
		{State: model.FileDownloading},
		{State: model.FileFailed},
	}
	received, total, pct := OverallProgress(files)
	assert.Equal(t, int64(0), received)
	assert.Equal(t, int64(0), total)
	assert.Equal(t, 50.0, pct)
}

func TestOverallProgressClampsOvershoot(t *testing.T) {
	files := []model.TaskFile{
		{State: model.FileDownloading, SizeBytes: 100, ReceivedBytes: 150},
	}
	received, total, pct := OverallProgress(files)
	assert.Equal(t, int64(100), received)
	assert.Equal(t, int64(100), total)
	assert.Equal(t, 100.0, pct)
}

func TestOverallProgressEmpty(t *testing.T) {
	received, total, pct := OverallProgress(nil)
	assert.Equal(t, int64(0), received)
	assert.Equal(t, int64(0), total)
	assert.Equal(t, 0.0, pct)
}
