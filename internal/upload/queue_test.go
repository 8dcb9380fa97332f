package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/coursedrive/coursedrive/internal/dedupe"
	"github.com/coursedrive/coursedrive/internal/models"
	"github.com/coursedrive/coursedrive/internal/remote"
	"github.com/coursedrive/coursedrive/internal/remote/mocks"
	"github.com/coursedrive/coursedrive/internal/store"
)

const eventually = 5 * time.Second

type recorderStub struct {
	mu    sync.Mutex
	bytes int64
	files int
}

func (r *recorderStub) AddSavings(_ time.Time, bytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bytes += bytes
	r.files++

	return nil
}

func (r *recorderStub) total() (int64, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.bytes, r.files
}

type queueFixture struct {
	queue    *Queue
	store    *store.Store
	svc      *mocks.MockService
	recorder *recorderStub
}

func newQueueFixture(t *testing.T, cfg Config) *queueFixture {
	t.Helper()

	svc := mocks.NewMockService(gomock.NewController(t))
	st := store.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := &recorderStub{}

	// Long grace period keeps completed tasks visible for assertions.
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = time.Hour
	}

	return &queueFixture{
		queue:    New(st, svc, dedupe.New(svc, logger), recorder, logger, cfg),
		store:    st,
		svc:      svc,
		recorder: recorder,
	}
}

func (f *queueFixture) start(t *testing.T) {
	t.Helper()

	f.queue.Start(context.Background())
	t.Cleanup(f.queue.Stop)
}

func (f *queueFixture) waitStatus(t *testing.T, taskID string, status models.UploadStatus) {
	t.Helper()

	require.Eventually(t, func() bool {
		task, ok := f.store.Task(taskID)

		return ok && task.Status == status
	}, eventually, 10*time.Millisecond, "task %s never reached %s", taskID, status)
}

func pdf(name, content string) Source {
	return BytesSource(name, "application/pdf", []byte(content))
}

// --- enqueue and validation ---

func TestEnqueue_BatchPartialValidation(t *testing.T) {
	f := newQueueFixture(t, Config{Policy: Policy{MaxFileSize: 10}})

	handles, rejections := f.queue.Enqueue([]Source{
		pdf("ok-1.pdf", "small"),
		pdf("too-big.pdf", "way too much content"),
		pdf("ok-2.pdf", "tiny"),
		pdf("", "nameless"),
		pdf("ok-3.pdf", "fine"),
	}, "course-1", "")

	assert.Len(t, handles, 3)
	require.Len(t, rejections, 2)
	for _, r := range rejections {
		assert.True(t, remote.IsValidation(r.Err))
	}

	// Only accepted files become tasks, all queued.
	tasks := f.store.Tasks()
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, models.UploadQueued, task.Status)
	}
}

// --- transfer lifecycle ---

func TestQueue_CompletedUpload(t *testing.T) {
	f := newQueueFixture(t, Config{})
	f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req remote.UploadRequest) (models.File, error) {
			assert.Equal(t, "course-1", req.CourseID)
			assert.Equal(t, "notes.pdf", req.Name)
			assert.NotEmpty(t, req.Fingerprint)
			req.Progress(50)

			data, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, "content", string(data))

			return models.File{ID: "f-1", Name: req.Name, Size: req.Size}, nil
		})
	f.start(t)

	handles, rejections := f.queue.Enqueue([]Source{pdf("notes.pdf", "content")}, "course-1", "")

	require.Empty(t, rejections)
	require.Len(t, handles, 1)
	f.waitStatus(t, handles[0].TaskID, models.UploadCompleted)

	task, _ := f.store.Task(handles[0].TaskID)
	assert.Equal(t, 100, task.Progress)
	_, ok := f.store.File("f-1")
	assert.True(t, ok, "confirmed file lands in the store")
}

func TestQueue_FailedUploadIsNotAutoRetried(t *testing.T) {
	f := newQueueFixture(t, Config{})
	f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
		Return(models.File{}, remote.NewError(remote.KindNetwork, "upload", errors.New("timeout"))).
		Times(1)
	f.start(t)

	handles, _ := f.queue.Enqueue([]Source{pdf("notes.pdf", "content")}, "course-1", "")

	require.Len(t, handles, 1)
	f.waitStatus(t, handles[0].TaskID, models.UploadFailed)

	task, _ := f.store.Task(handles[0].TaskID)
	assert.NotEmpty(t, task.Error)

	// The task stays failed until the user acts on it.
	time.Sleep(100 * time.Millisecond)
	task, _ = f.store.Task(handles[0].TaskID)
	assert.Equal(t, models.UploadFailed, task.Status)
}

func TestQueue_RetryAfterFailure(t *testing.T) {
	f := newQueueFixture(t, Config{})
	gomock.InOrder(
		f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
			Return(models.File{}, remote.NewError(remote.KindNetwork, "upload", errors.New("timeout"))),
		f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
			Return(models.File{ID: "f-1", Name: "notes.pdf"}, nil),
	)
	f.start(t)

	handles, _ := f.queue.Enqueue([]Source{pdf("notes.pdf", "content")}, "course-1", "")
	require.Len(t, handles, 1)
	taskID := handles[0].TaskID
	f.waitStatus(t, taskID, models.UploadFailed)

	require.NoError(t, f.queue.Retry(taskID))

	f.waitStatus(t, taskID, models.UploadCompleted)
}

func TestQueue_RetryRequiresFailedStatus(t *testing.T) {
	f := newQueueFixture(t, Config{})

	handles, _ := f.queue.Enqueue([]Source{pdf("notes.pdf", "content")}, "course-1", "")
	require.Len(t, handles, 1)

	// Still queued, never started: nothing to retry.
	assert.Error(t, f.queue.Retry(handles[0].TaskID))
	assert.Error(t, f.queue.Retry("unknown-task"))
}

// --- bounded concurrency ---

func TestQueue_ConcurrencyBound(t *testing.T) {
	f := newQueueFixture(t, Config{Concurrency: 2})

	var (
		mu             sync.Mutex
		inFlight, peak int
	)
	release := make(chan struct{})
	f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, remote.UploadRequest) (models.File, error) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()

			<-release

			mu.Lock()
			inFlight--
			mu.Unlock()

			return models.File{ID: models.NewTempID()}, nil
		}).
		Times(4)
	f.start(t)

	handles, _ := f.queue.Enqueue([]Source{
		pdf("a.pdf", "1"), pdf("b.pdf", "2"), pdf("c.pdf", "3"), pdf("d.pdf", "4"),
	}, "course-1", "")
	require.Len(t, handles, 4)

	// Both workers saturate while the other two tasks stay queued.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return inFlight == 2
	}, eventually, 10*time.Millisecond)

	queued := 0
	for _, task := range f.store.Tasks() {
		if task.Status == models.UploadQueued {
			queued++
		}
	}
	assert.Equal(t, 2, queued)

	close(release)
	for _, h := range handles {
		f.waitStatus(t, h.TaskID, models.UploadCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, peak, "transfers in flight must never exceed the configured bound")
}

// --- pause, resume, cancel ---

func TestQueue_PauseAndResume(t *testing.T) {
	f := newQueueFixture(t, Config{Concurrency: 1})

	uploading := make(chan struct{}, 2)
	gomock.InOrder(
		f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ remote.UploadRequest) (models.File, error) {
				uploading <- struct{}{}
				<-ctx.Done()

				return models.File{}, ctx.Err()
			}),
		f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
			Return(models.File{ID: "f-1", Name: "notes.pdf"}, nil),
	)
	f.start(t)

	handles, _ := f.queue.Enqueue([]Source{pdf("notes.pdf", "content")}, "course-1", "")
	require.Len(t, handles, 1)
	taskID := handles[0].TaskID
	<-uploading

	require.NoError(t, f.queue.Pause(taskID))
	f.waitStatus(t, taskID, models.UploadPaused)

	// Pause rewinds: no ranged resume, the retry starts from zero.
	task, _ := f.store.Task(taskID)
	assert.Zero(t, task.Progress)

	require.NoError(t, f.queue.Resume(taskID))
	f.waitStatus(t, taskID, models.UploadCompleted)
}

func TestQueue_CancelAfterPauseResumeDiscardsUpload(t *testing.T) {
	f := newQueueFixture(t, Config{Concurrency: 2})

	firstStarted := make(chan struct{})
	firstRelease := make(chan struct{})
	secondStarted := make(chan struct{})
	secondRelease := make(chan struct{})
	gomock.InOrder(
		f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ remote.UploadRequest) (models.File, error) {
				close(firstStarted)
				<-ctx.Done()
				// The aborted transfer unwinds slowly.
				<-firstRelease

				return models.File{}, ctx.Err()
			}),
		f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, remote.UploadRequest) (models.File, error) {
				close(secondStarted)
				// This transfer runs to completion despite the later abort.
				<-secondRelease

				return models.File{ID: "f-1", Name: "notes.pdf"}, nil
			}),
	)
	f.start(t)

	handles, _ := f.queue.Enqueue([]Source{pdf("notes.pdf", "content")}, "course-1", "")
	require.Len(t, handles, 1)
	taskID := handles[0].TaskID
	<-firstStarted

	require.NoError(t, f.queue.Pause(taskID))
	f.waitStatus(t, taskID, models.UploadPaused)
	require.NoError(t, f.queue.Resume(taskID))
	<-secondStarted
	f.waitStatus(t, taskID, models.UploadUploading)

	// The first attempt finishes unwinding while the resumed transfer is
	// mid-flight. Its outcome is stale and must not touch the task.
	close(firstRelease)
	time.Sleep(100 * time.Millisecond)
	task, ok := f.store.Task(taskID)
	require.True(t, ok)
	assert.Equal(t, models.UploadUploading, task.Status)

	require.NoError(t, f.queue.Cancel(taskID))

	close(secondRelease)
	time.Sleep(100 * time.Millisecond)
	_, ok = f.store.Task(taskID)
	assert.False(t, ok, "cancelled task must leave the queue")
	assert.Empty(t, f.store.Files(), "a cancelled upload must not register a file")
}

func TestQueue_PauseRequiresActiveTransfer(t *testing.T) {
	f := newQueueFixture(t, Config{})
	f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req remote.UploadRequest) (models.File, error) {
			if req.Name == "bad.pdf" {
				return models.File{}, remote.NewError(remote.KindNetwork, "upload", errors.New("timeout"))
			}

			return models.File{ID: "f-1", Name: req.Name}, nil
		}).
		Times(2)
	f.start(t)

	handles, _ := f.queue.Enqueue([]Source{pdf("bad.pdf", "a"), pdf("good.pdf", "b")}, "course-1", "")
	require.Len(t, handles, 2)
	failedID, completedID := handles[0].TaskID, handles[1].TaskID
	f.waitStatus(t, failedID, models.UploadFailed)
	f.waitStatus(t, completedID, models.UploadCompleted)

	// Neither terminal state can be rewound to paused.
	assert.Error(t, f.queue.Pause(failedID))
	assert.Error(t, f.queue.Pause(completedID))
	assert.Error(t, f.queue.Pause("unknown-task"))

	task, _ := f.store.Task(failedID)
	assert.Equal(t, models.UploadFailed, task.Status)
	assert.NotEmpty(t, task.Error)
	task, _ = f.store.Task(completedID)
	assert.Equal(t, models.UploadCompleted, task.Status)
}

func TestQueue_ResumeRequiresPausedStatus(t *testing.T) {
	f := newQueueFixture(t, Config{})

	handles, _ := f.queue.Enqueue([]Source{pdf("notes.pdf", "content")}, "course-1", "")
	require.Len(t, handles, 1)

	assert.Error(t, f.queue.Resume(handles[0].TaskID))
	assert.Error(t, f.queue.Resume("unknown-task"))
}

func TestQueue_CancelInFlight(t *testing.T) {
	f := newQueueFixture(t, Config{Concurrency: 1})

	uploading := make(chan struct{})
	f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ remote.UploadRequest) (models.File, error) {
			close(uploading)
			<-ctx.Done()

			return models.File{}, ctx.Err()
		})
	f.start(t)

	handles, _ := f.queue.Enqueue([]Source{pdf("notes.pdf", "content")}, "course-1", "")
	require.Len(t, handles, 1)
	<-uploading

	require.NoError(t, f.queue.Cancel(handles[0].TaskID))

	require.Eventually(t, func() bool {
		_, ok := f.store.Task(handles[0].TaskID)

		return !ok
	}, eventually, 10*time.Millisecond, "cancelled task must leave the queue")
}

func TestQueue_CancelWhileQueued(t *testing.T) {
	f := newQueueFixture(t, Config{Concurrency: 1})

	uploading := make(chan struct{})
	release := make(chan struct{})
	// Only the first task's transfer ever starts.
	f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, remote.UploadRequest) (models.File, error) {
			close(uploading)
			<-release

			return models.File{ID: "f-1"}, nil
		})
	f.start(t)

	handles, _ := f.queue.Enqueue([]Source{
		pdf("first.pdf", "a"),
		pdf("second.pdf", "b"),
	}, "course-1", "")
	require.Len(t, handles, 2)
	<-uploading

	require.NoError(t, f.queue.Cancel(handles[1].TaskID))
	_, ok := f.store.Task(handles[1].TaskID)
	assert.False(t, ok)

	close(release)
	f.waitStatus(t, handles[0].TaskID, models.UploadCompleted)
}

// --- duplicate-aware enqueue ---

func TestEnqueueChecked_DuplicateSubstitutedWithoutUpload(t *testing.T) {
	f := newQueueFixture(t, Config{})
	existing := models.File{ID: "f-existing", Name: "syllabus.pdf"}
	f.svc.EXPECT().CheckDuplicate(gomock.Any(), gomock.Any()).
		Return(remote.DuplicateResult{IsDuplicate: true, Existing: &existing}, nil)
	f.svc.EXPECT().CreateFile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, file models.File) (models.File, error) {
			file.ID = "f-ref"

			return file, nil
		})

	handles, rejections := f.queue.EnqueueChecked(context.Background(),
		[]Source{pdf("syllabus-copy.pdf", "same content")}, "course-1", "d-1", nil)

	assert.Empty(t, handles, "a duplicate produces no upload task")
	assert.Empty(t, rejections)
	assert.Empty(t, f.store.Tasks())

	created, ok := f.store.File("f-ref")
	require.True(t, ok)
	assert.Equal(t, "syllabus-copy.pdf", created.Name)
	assert.Equal(t, "d-1", created.FolderID)

	bytes, files := f.recorder.total()
	assert.Equal(t, int64(len("same content")), bytes)
	assert.Equal(t, 1, files)
}

func TestEnqueueChecked_OverrideForcesUpload(t *testing.T) {
	f := newQueueFixture(t, Config{})
	existing := models.File{ID: "f-existing"}
	f.svc.EXPECT().CheckDuplicate(gomock.Any(), gomock.Any()).
		Return(remote.DuplicateResult{IsDuplicate: true, Existing: &existing}, nil)

	handles, _ := f.queue.EnqueueChecked(context.Background(),
		[]Source{pdf("copy.pdf", "same content")}, "course-1", "",
		func(Source, dedupe.Match) bool { return true })

	require.Len(t, handles, 1, "override turns the duplicate into a real upload")
	assert.Len(t, f.store.Tasks(), 1)

	bytes, files := f.recorder.total()
	assert.Zero(t, bytes)
	assert.Zero(t, files)
}

func TestEnqueueChecked_CheckFailureDegradesToUpload(t *testing.T) {
	f := newQueueFixture(t, Config{})
	f.svc.EXPECT().CheckDuplicate(gomock.Any(), gomock.Any()).
		Return(remote.DuplicateResult{}, remote.NewError(remote.KindNetwork, "check duplicate", errors.New("timeout")))

	handles, rejections := f.queue.EnqueueChecked(context.Background(),
		[]Source{pdf("notes.pdf", "content")}, "course-1", "", nil)

	assert.Empty(t, rejections)
	assert.Len(t, handles, 1, "a failed check never blocks the file")
}

func TestEnqueueChecked_SubstitutionFailureFallsBackToUpload(t *testing.T) {
	f := newQueueFixture(t, Config{})
	existing := models.File{ID: "f-existing"}
	f.svc.EXPECT().CheckDuplicate(gomock.Any(), gomock.Any()).
		Return(remote.DuplicateResult{IsDuplicate: true, Existing: &existing}, nil)
	f.svc.EXPECT().CreateFile(gomock.Any(), gomock.Any()).
		Return(models.File{}, remote.NewError(remote.KindQuota, "create file", errors.New("storage full")))

	handles, _ := f.queue.EnqueueChecked(context.Background(),
		[]Source{pdf("copy.pdf", "same content")}, "course-1", "", nil)

	require.Len(t, handles, 1)

	bytes, _ := f.recorder.total()
	assert.Zero(t, bytes, "no savings recorded when the substitution did not take")
}

func TestEnqueueChecked_InvalidFilesSkipDuplicateCheck(t *testing.T) {
	f := newQueueFixture(t, Config{Policy: Policy{MaxFileSize: 4}})

	// No CheckDuplicate expectation: the rejected file must never reach
	// the detector.
	handles, rejections := f.queue.EnqueueChecked(context.Background(),
		[]Source{pdf("big.pdf", "far past the cap")}, "course-1", "", nil)

	assert.Empty(t, handles)
	require.Len(t, rejections, 1)
	assert.True(t, remote.IsValidation(rejections[0].Err))
}

func TestQueue_CompletedTaskLeavesAfterGracePeriod(t *testing.T) {
	f := newQueueFixture(t, Config{GracePeriod: 50 * time.Millisecond})
	f.svc.EXPECT().Upload(gomock.Any(), gomock.Any()).
		Return(models.File{ID: "f-1"}, nil)
	f.start(t)

	handles, _ := f.queue.Enqueue([]Source{pdf("notes.pdf", "content")}, "course-1", "")
	require.Len(t, handles, 1)

	require.Eventually(t, func() bool {
		_, ok := f.store.Task(handles[0].TaskID)

		return !ok
	}, eventually, 10*time.Millisecond, "completed task lingers then leaves the queue")
}
