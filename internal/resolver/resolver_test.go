package resolver

import (
	"FetchVault/config"
	"FetchVault/internal/events"
	"FetchVault/internal/provider"
	"FetchVault/internal/repo"
	"FetchVault/model"
	"errors"
	"os"
	"testing"
	"time"

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
	os.Exit(m.Run())
}

func resetTables(t *testing.T) {
	t.Helper()
	require.NoError(t, repo.Db.Exec("DELETE FROM task_file").Error)
	require.NoError(t, repo.Db.Exec("DELETE FROM task").Error)
}

type fakeProvider struct {
	resolveFunc func(ctx context.Context, sourceKind, source string) (provider.Resolution, error)
	pollFunc    func(ctx context.Context, ref string) (provider.Resolution, error)
}

func (f *fakeProvider) Resolve(ctx context.Context, sourceKind, source string) (provider.Resolution, error) {
	return f.resolveFunc(ctx, sourceKind, source)
}

func (f *fakeProvider) PollStatus(ctx context.Context, ref string) (provider.Resolution, error) {
	if f.pollFunc != nil {
		return f.pollFunc(ctx, ref)
	}
	return provider.Resolution{Status: provider.StatusPending, Ref: ref}, nil
}

func (f *fakeProvider) Unlock(ctx context.Context, link string) (string, error) {
	return "http://cdn/" + link, nil
}

func createQueuedTask(t *testing.T, mode string) *model.Task {
	t.Helper()
	task := &model.Task{
		ID:         uuid.NewString(),
		Identifier: uuid.NewString(),
		SourceKind: model.SourceSwarm,
		Source:     "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
		Mode:       mode,
		Status:     model.TaskQueued,
	}
	require.NoError(t, repo.Db.Create(task).Error)
	return task
}

func withPollWindow(t *testing.T, interval, ceiling time.Duration) {
	t.Helper()
	oldInterval := config.AppConfig.ResolvePollInterval
	oldCeiling := config.AppConfig.ResolvePollCeiling
	config.AppConfig.ResolvePollInterval = interval
	config.AppConfig.ResolvePollCeiling = ceiling
	t.Cleanup(func() {
		config.AppConfig.ResolvePollInterval = oldInterval
		config.AppConfig.ResolvePollCeiling = oldCeiling
	})
}

func TestProcessResolutionTimeout(t *testing.T) {
	resetTables(t)
	withPollWindow(t, 20*time.Millisecond, 150*time.Millisecond)

	prov := &fakeProvider{
		resolveFunc: func(ctx context.Context, sourceKind, source string) (provider.Resolution, error) {
			return provider.Resolution{Status: provider.StatusPending, Ref: "m1"}, nil
		},
	}
	task := createQueuedTask(t, model.ModeAuto)

	err := New(prov).Process(context.Background(), task.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResolutionTimeout))
	assert.Equal(t, "resolution_timeout", ErrResolutionTimeout.Error())
}

func TestProcessReadyPopulatesFiles(t *testing.T) {
	resetTables(t)
	withPollWindow(t, 20*time.Millisecond, time.Second)

	prov := &fakeProvider{
		resolveFunc: func(ctx context.Context, sourceKind, source string) (provider.Resolution, error) {
			return provider.Resolution{
				Status: provider.StatusReady,
				Ref:    "m1",
				Files: []provider.FileDescriptor{
					{Index: 0, Name: "a.mkv", SizeBytes: 1000, Link: "l-a"},
					{Index: 1, Name: "b.srt", SizeBytes: 10, Link: "l-b"},
				},
			}, nil
		},
	}
	task := createQueuedTask(t, model.ModeAuto)
	require.NoError(t, New(prov).Process(context.Background(), task.ID))

	var got model.Task
	require.NoError(t, repo.Db.Where("id = ?", task.ID).First(&got).Error)
	assert.Equal(t, model.TaskDownloading, got.Status)
	assert.Equal(t, "m1", got.ProviderRef)

	var files []model.TaskFile
	require.NoError(t, repo.Db.Where("task_id = ?", task.ID).Order("idx ASC").Find(&files).Error)
	require.Len(t, files, 2)
	// Auto mode goes straight to selected.
	assert.Equal(t, model.FileSelected, files[0].State)
	assert.Equal(t, "l-a", files[0].ProviderLink)
	assert.Equal(t, int64(1000), files[0].SizeBytes)

	// A second delivery finds the claim gone and changes nothing.
	require.NoError(t, New(prov).Process(context.Background(), task.ID))
	var count int64
	require.NoError(t, repo.Db.Model(&model.TaskFile{}).Where("task_id = ?", task.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestProcessSelectModeKeepsFilesListed(t *testing.T) {
	resetTables(t)
	withPollWindow(t, 20*time.Millisecond, time.Second)

	prov := &fakeProvider{
		resolveFunc: func(ctx context.Context, sourceKind, source string) (provider.Resolution, error) {
			return provider.Resolution{
				Status: provider.StatusReady,
				Ref:    "m2",
				Files:  []provider.FileDescriptor{{Index: 0, Name: "a.mkv", SizeBytes: 1000, Link: "l-a"}},
			}, nil
		},
	}
	task := createQueuedTask(t, model.ModeSelect)
	require.NoError(t, New(prov).Process(context.Background(), task.ID))

	var files []model.TaskFile
	require.NoError(t, repo.Db.Where("task_id = ?", task.ID).Find(&files).Error)
	require.Len(t, files, 1)
	assert.Equal(t, model.FileListed, files[0].State)
}

func TestProcessZeroFilesShortCircuitsReady(t *testing.T) {
	resetTables(t)
	withPollWindow(t, 20*time.Millisecond, time.Second)

	prov := &fakeProvider{
		resolveFunc: func(ctx context.Context, sourceKind, source string) (provider.Resolution, error) {
			return provider.Resolution{Status: provider.StatusReady, Ref: "m3"}, nil
		},
	}
	task := createQueuedTask(t, model.ModeAuto)
	require.NoError(t, New(prov).Process(context.Background(), task.ID))

	var got model.Task
	require.NoError(t, repo.Db.Where("id = ?", task.ID).First(&got).Error)
	assert.Equal(t, model.TaskReady, got.Status)
}

func TestProcessHonorsCancelFlag(t *testing.T) {
	resetTables(t)
	withPollWindow(t, 20*time.Millisecond, time.Second)

	prov := &fakeProvider{
		resolveFunc: func(ctx context.Context, sourceKind, source string) (provider.Resolution, error) {
			t.Fatal("provider must not be called for a canceled task")
			return provider.Resolution{}, nil
		},
	}
	task := createQueuedTask(t, model.ModeAuto)
	require.NoError(t, events.RequestCancel(context.Background(), task.ID))

	require.NoError(t, New(prov).Process(context.Background(), task.ID))

	var got model.Task
	require.NoError(t, repo.Db.Where("id = ?", task.ID).First(&got).Error)
	assert.Equal(t, model.TaskCanceled, got.Status)
}

func TestProcessProviderErrorSurfacesMessage(t *testing.T) {
	resetTables(t)
	withPollWindow(t, 20*time.Millisecond, time.Second)

	prov := &fakeProvider{
		resolveFunc: func(ctx context.Context, sourceKind, source string) (provider.Resolution, error) {
			return provider.Resolution{Status: provider.StatusError, Ref: "m4", Message: "no seeders found"}, nil
		},
	}
	task := createQueuedTask(t, model.ModeAuto)

	err := New(prov).Process(context.Background(), task.ID)
	require.Error(t, err)
	var pe *provider.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "no seeders found", pe.Message)
	assert.False(t, pe.Transient)
}
