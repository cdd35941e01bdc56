package downloader

import (
	"FetchVault/config"
	"FetchVault/internal/backend"
	"FetchVault/internal/events"
	"FetchVault/internal/provider"
	"FetchVault/internal/repo"
	"FetchVault/internal/storage"
	"FetchVault/model"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

// TestMain sets up the test environment.
func TestMain(m *testing.M) {
	config.InitConfig()
	repo.InitMysqlTest()
	repo.InitRedis()

	dir, err := os.MkdirTemp("", "fetchvault-test")
	if err != nil {
		panic(err)
	}
	config.AppConfig.StorageRoot = dir
	config.AppConfig.MinFreeBytes = 0

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	require.NoError(t, repo.Db.Exec("DELETE FROM task_file").Error)
	require.NoError(t, repo.Db.Exec("DELETE FROM task").Error)
}

func withCaps(t *testing.T, perTask, global int) {
	t.Helper()
	oldPer := config.AppConfig.PerTaskActiveMax
	oldGlobal := config.AppConfig.GlobalActiveMax
	config.AppConfig.PerTaskActiveMax = perTask
	config.AppConfig.GlobalActiveMax = global
	t.Cleanup(func() {
		config.AppConfig.PerTaskActiveMax = oldPer
		config.AppConfig.GlobalActiveMax = oldGlobal
	})
}

func withStorageFloor(t *testing.T, floor int64) {
	t.Helper()
	old := config.AppConfig.MinFreeBytes
	config.AppConfig.MinFreeBytes = floor
	t.Cleanup(func() { config.AppConfig.MinFreeBytes = old })
}

type stubProvider struct{}

func (stubProvider) Resolve(ctx context.Context, sourceKind, source string) (provider.Resolution, error) {
	return provider.Resolution{}, &provider.Error{Message: "not used"}
}

func (stubProvider) PollStatus(ctx context.Context, ref string) (provider.Resolution, error) {
	return provider.Resolution{}, &provider.Error{Message: "not used"}
}

func (stubProvider) Unlock(ctx context.Context, link string) (string, error) {
	return "http://cdn/" + link, nil
}

type fakeBackend struct {
	mu       sync.Mutex
	started  []string
	canceled []string
	progress map[string]backend.Progress
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{progress: map[string]backend.Progress{}}
}

func (b *fakeBackend) Start(ctx context.Context, url, dir, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	gid := fmt.Sprintf("gid-%d", len(b.started)+1)
	b.started = append(b.started, gid)
	return gid, nil
}

func (b *fakeBackend) Progress(ctx context.Context, gid string) (backend.Progress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.progress[gid]
	if !ok {
		return backend.Progress{}, &backend.Error{Message: "GID not found"}
	}
	return p, nil
}

func (b *fakeBackend) Cancel(ctx context.Context, gid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled = append(b.canceled, gid)
	return nil
}

func (b *fakeBackend) setProgress(gid string, p backend.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress[gid] = p
}

func (b *fakeBackend) canceledGids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.canceled...)
}

func createDownloadingTask(t *testing.T, fileCount int, sizes ...int64) *model.Task {
	t.Helper()
	task := &model.Task{
		ID:         uuid.NewString(),
		Identifier: uuid.NewString(),
		SourceKind: model.SourceSwarm,
		Source:     "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
		Mode:       model.ModeAuto,
		Status:     model.TaskDownloading,
	}
	require.NoError(t, repo.Db.Create(task).Error)
	for i := 0; i < fileCount; i++ {
		var size int64 = 100
		if i < len(sizes) {
			size = sizes[i]
		}
		file := &model.TaskFile{
			ID:           uuid.NewString(),
			TaskID:       task.ID,
			Idx:          i,
			Name:         fmt.Sprintf("file_%d.bin", i),
			SizeBytes:    size,
			State:        model.FileSelected,
			ProviderLink: fmt.Sprintf("link-%d", i),
		}
		require.NoError(t, repo.Db.Create(file).Error)
	}
	return task
}

func countByState(t *testing.T, taskID, state string) int64 {
	t.Helper()
	var n int64
	q := repo.Db.Model(&model.TaskFile{}).Where("state = ?", state)
	if taskID != "" {
		q = q.Where("task_id = ?", taskID)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func TestSchedulePassGlobalCap(t *testing.T) {
	resetTables(t)
	withCaps(t, 5, 2)

	task := createDownloadingTask(t, 3)
	d := New(stubProvider{}, newFakeBackend())
	require.NoError(t, d.SchedulePass(context.Background()))

	assert.Equal(t, int64(2), countByState(t, "", model.FileDownloading))
	assert.Equal(t, int64(1), countByState(t, task.ID, model.FileSelected))

	// No headroom left: a second pass admits nothing more.
	require.NoError(t, d.SchedulePass(context.Background()))
	assert.Equal(t, int64(2), countByState(t, "", model.FileDownloading))
}

func TestSchedulePassPerTaskCap(t *testing.T) {
	resetTables(t)
	withCaps(t, 1, 8)

	taskA := createDownloadingTask(t, 2)
	taskB := createDownloadingTask(t, 2)
	d := New(stubProvider{}, newFakeBackend())
	require.NoError(t, d.SchedulePass(context.Background()))

	assert.Equal(t, int64(1), countByState(t, taskA.ID, model.FileDownloading))
	assert.Equal(t, int64(1), countByState(t, taskB.ID, model.FileDownloading))
	assert.Equal(t, int64(2), countByState(t, "", model.FileDownloading))
}

func TestSchedulePassStorageGate(t *testing.T) {
	resetTables(t)
	withCaps(t, 5, 8)

	free, err := storage.FreeBytes()
	require.NoError(t, err)
	// Leave roughly a kilobyte of headroom above the floor.
	withStorageFloor(t, free-1000)

	task := createDownloadingTask(t, 2, free*2, 100)
	d := New(stubProvider{}, newFakeBackend())
	require.NoError(t, d.SchedulePass(context.Background()))

	var files []model.TaskFile
	require.NoError(t, repo.Db.Where("task_id = ?", task.ID).Order("idx ASC").Find(&files).Error)
	require.Len(t, files, 2)
	assert.Equal(t, model.FileSelected, files[0].State)
	assert.Equal(t, model.FileDownloading, files[1].State)
}

func TestSchedulePassGatedFilesDoNotShadowLaterOnes(t *testing.T) {
	resetTables(t)
	withCaps(t, 1, 1)

	free, err := storage.FreeBytes()
	require.NoError(t, err)
	withStorageFloor(t, free-1000)

	// Three oversized files ahead of one admissible file; with headroom 1
	// the small file must still be reached within the same pass.
	task := createDownloadingTask(t, 4, free*2, free*2, free*2, 100)
	d := New(stubProvider{}, newFakeBackend())
	require.NoError(t, d.SchedulePass(context.Background()))

	var small model.TaskFile
	require.NoError(t, repo.Db.Where("task_id = ? AND idx = ?", task.ID, 3).First(&small).Error)
	assert.Equal(t, model.FileDownloading, small.State)
	assert.Equal(t, int64(1), countByState(t, task.ID, model.FileDownloading))
}

func TestSchedulePassCancelSettlesActiveFiles(t *testing.T) {
	resetTables(t)
	withCaps(t, 5, 8)

	task := createDownloadingTask(t, 0)
	doneFile := &model.TaskFile{
		ID: uuid.NewString(), TaskID: task.ID, Idx: 0, Name: "done.bin",
		SizeBytes: 100, ReceivedBytes: 100, State: model.FileDone,
	}
	activeFile := &model.TaskFile{
		ID: uuid.NewString(), TaskID: task.ID, Idx: 1, Name: "active.bin",
		SizeBytes: 100, ReceivedBytes: 40, State: model.FileDownloading, DownloadGID: "g1",
	}
	require.NoError(t, repo.Db.Create(doneFile).Error)
	require.NoError(t, repo.Db.Create(activeFile).Error)

	require.NoError(t, events.RequestCancel(context.Background(), task.ID))

	back := newFakeBackend()
	require.NoError(t, New(stubProvider{}, back).SchedulePass(context.Background()))

	var got model.Task
	require.NoError(t, repo.Db.Where("id = ?", task.ID).First(&got).Error)
	assert.Equal(t, model.TaskCanceled, got.Status)
	assert.Contains(t, back.canceledGids(), "g1")

	// The interrupted row settles immediately and stops counting against
	// the caps; finished files are retained.
	var active, done model.TaskFile
	require.NoError(t, repo.Db.Where("id = ?", activeFile.ID).First(&active).Error)
	assert.Equal(t, model.FileFailed, active.State)
	assert.Empty(t, active.DownloadGID)
	require.NoError(t, repo.Db.Where("id = ?", doneFile.ID).First(&done).Error)
	assert.Equal(t, model.FileDone, done.State)
}

func TestProgressPassTracksAndFinishes(t *testing.T) {
	resetTables(t)

	task := createDownloadingTask(t, 0)
	file := &model.TaskFile{
		ID: uuid.NewString(), TaskID: task.ID, Idx: 0, Name: "a.bin",
		SizeBytes: 1000, State: model.FileDownloading, DownloadGID: "g1",
	}
	require.NoError(t, repo.Db.Create(file).Error)

	back := newFakeBackend()
	back.setProgress("g1", backend.Progress{ReceivedBytes: 400, TotalBytes: 1000, State: backend.StateActive})
	d := New(stubProvider{}, back)

	require.NoError(t, d.ProgressPass(context.Background()))
	var got model.TaskFile
	require.NoError(t, repo.Db.Where("id = ?", file.ID).First(&got).Error)
	assert.Equal(t, int64(400), got.ReceivedBytes)
	assert.Equal(t, model.FileDownloading, got.State)

	// Received bytes never exceed the known size.
	back.setProgress("g1", backend.Progress{ReceivedBytes: 1500, TotalBytes: 1000, State: backend.StateActive})
	require.NoError(t, d.ProgressPass(context.Background()))
	require.NoError(t, repo.Db.Where("id = ?", file.ID).First(&got).Error)
	assert.Equal(t, int64(1000), got.ReceivedBytes)
	assert.Equal(t, model.FileDone, got.State)

	// The only required file is done, so the task settles ready.
	var gotTask model.Task
	require.NoError(t, repo.Db.Where("id = ?", task.ID).First(&gotTask).Error)
	assert.Equal(t, model.TaskReady, gotTask.Status)
}

func TestProgressPassBackendErrorRetriesThenFails(t *testing.T) {
	resetTables(t)
	oldRetry := config.AppConfig.FileRetryMax
	config.AppConfig.FileRetryMax = 1
	t.Cleanup(func() { config.AppConfig.FileRetryMax = oldRetry })

	task := createDownloadingTask(t, 0)
	file := &model.TaskFile{
		ID: uuid.NewString(), TaskID: task.ID, Idx: 0, Name: "a.bin",
		SizeBytes: 1000, State: model.FileDownloading, DownloadGID: "g1",
	}
	require.NoError(t, repo.Db.Create(file).Error)

	back := newFakeBackend()
	back.setProgress("g1", backend.Progress{State: backend.StateError, Message: "connection reset"})
	d := New(stubProvider{}, back)

	// First fault goes back to selected with the retry budget consumed.
	require.NoError(t, d.ProgressPass(context.Background()))
	var got model.TaskFile
	require.NoError(t, repo.Db.Where("id = ?", file.ID).First(&got).Error)
	assert.Equal(t, model.FileSelected, got.State)
	assert.Equal(t, 1, got.RetryCount)

	// Simulate the rescheduled attempt faulting again: budget exhausted.
	require.NoError(t, repo.Db.Model(&model.TaskFile{}).Where("id = ?", file.ID).
		Updates(map[string]interface{}{"state": model.FileDownloading, "download_gid": "g1"}).Error)
	require.NoError(t, d.ProgressPass(context.Background()))
	require.NoError(t, repo.Db.Where("id = ?", file.ID).First(&got).Error)
	assert.Equal(t, model.FileFailed, got.State)
	assert.Equal(t, "connection reset", got.ErrorMsg)

	// All required files failed: the task follows.
	var gotTask model.Task
	require.NoError(t, repo.Db.Where("id = ?", task.ID).First(&gotTask).Error)
	assert.Equal(t, model.TaskFailed, gotTask.Status)
	assert.Equal(t, "all files failed", gotTask.ErrorMsg)
}
