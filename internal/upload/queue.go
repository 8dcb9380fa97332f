// Package upload drives file transfers through a bounded-concurrency
// queue. Each accepted file becomes an UploadTask in the state store;
// workers promote queued tasks to uploading and stream progress back as
// monotonic 0-100 events.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coursedrive/coursedrive/internal/dedupe"
	"github.com/coursedrive/coursedrive/internal/models"
	"github.com/coursedrive/coursedrive/internal/remote"
	"github.com/coursedrive/coursedrive/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultConcurrency is the number of transfers in flight at once
	// when the config does not say otherwise.
	defaultConcurrency = 3

	// defaultGracePeriod is how long a completed task stays visible in
	// the queue before it is removed.
	defaultGracePeriod = 4 * time.Second

	// jobChanSize buffers submissions so Enqueue does not block while
	// all workers are busy.
	jobChanSize = 128
)

// Config tunes the queue.
type Config struct {
	Concurrency int
	Policy      Policy
	GracePeriod time.Duration
}

// Handle identifies an accepted upload for later pause/cancel/retry.
type Handle struct {
	TaskID string
}

// Rejection reports one file that failed validation. The rest of the
// batch is unaffected.
type Rejection struct {
	Name string
	Err  error
}

// savingsRecorder receives avoided-upload tallies when a duplicate
// check lets the client skip a transfer.
type savingsRecorder interface {
	AddSavings(t time.Time, bytes int64) error
}

type job struct {
	taskID      string
	src         Source
	courseID    string
	folderID    string
	fingerprint string

	mu        sync.Mutex
	abort     context.CancelFunc // set while the transfer is in flight
	paused    bool
	cancelled bool
	// enqueued is true while the job sits in the jobs channel. Resume
	// and Retry only push when it is false, so a job can never be
	// delivered to two workers.
	enqueued bool
	// attempt counts transfer starts. An aborted attempt can still be
	// unwinding when a resume hands the job to another worker; only the
	// worker whose attempt number is current may write the outcome.
	attempt int
}

func (j *job) requestPause() {
	j.mu.Lock()
	j.paused = true
	abort := j.abort
	j.mu.Unlock()

	if abort != nil {
		abort()
	}
}

func (j *job) requestCancel() {
	j.mu.Lock()
	j.cancelled = true
	abort := j.abort
	j.mu.Unlock()

	if abort != nil {
		abort()
	}
}

// settle closes out a transfer attempt. It clears the abort handle and
// reports the pause/cancel flags, but only when the attempt still owns
// the job; a stale attempt keeps its hands off task state entirely.
func (j *job) settle(attempt int) (paused, cancelled, owns bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.attempt != attempt {
		return false, false, false
	}

	j.abort = nil

	return j.paused, j.cancelled, true
}

// Queue accepts validated files and uploads them with bounded
// concurrency. Tasks beyond the limit stay queued until a slot frees.
type Queue struct {
	store    *store.Store
	svc      remote.Service
	detector *dedupe.Detector
	savings  savingsRecorder
	logger   *slog.Logger
	cfg      Config

	jobs   chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]*job
}

// New creates a queue. The savings recorder may be nil, in which case
// duplicate substitutions are not tallied.
func New(st *store.Store, svc remote.Service, detector *dedupe.Detector, savings savingsRecorder, logger *slog.Logger, cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}

	return &Queue{
		store:    st,
		svc:      svc,
		detector: detector,
		savings:  savings,
		logger:   logger,
		cfg:      cfg,
		jobs:     make(chan *job, jobChanSize),
		active:   make(map[string]*job),
	}
}

// Start launches the worker pool. Workers run until Stop or ctx
// cancellation.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)

		go func() {
			defer q.wg.Done()

			for {
				select {
				case <-q.ctx.Done():
					return
				case j := <-q.jobs:
					q.run(j)
				}
			}
		}()
	}
}

// Stop cancels in-flight transfers and waits for workers to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Enqueue validates a batch and creates an UploadTask for each accepted
// file. Invalid files are reported individually and create no task;
// valid files in the same batch proceed regardless.
func (q *Queue) Enqueue(sources []Source, courseID, folderID string) ([]Handle, []Rejection) {
	var (
		handles   []Handle
		rejection []Rejection
	)

	for _, src := range sources {
		if err := q.cfg.Policy.Validate(src); err != nil {
			rejection = append(rejection, Rejection{Name: src.Name, Err: err})
			continue
		}

		handles = append(handles, q.submit(src, courseID, folderID, ""))
	}

	return handles, rejection
}

// EnqueueChecked is Enqueue with a duplicate check per file, run
// concurrently across the batch before any upload begins. When a
// file's content already exists in the library, the existing file is
// referenced instead of transferred and no task is created — unless
// override returns true, forcing a real upload. A failed check
// degrades to not-duplicate and never blocks the file.
func (q *Queue) EnqueueChecked(ctx context.Context, sources []Source, courseID, folderID string, override func(Source, dedupe.Match) bool) ([]Handle, []Rejection) {
	var (
		mu        sync.Mutex
		handles   []Handle
		rejection []Rejection
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, src := range sources {
		if err := q.cfg.Policy.Validate(src); err != nil {
			rejection = append(rejection, Rejection{Name: src.Name, Err: err})
			continue
		}

		src := src
		g.Go(func() error {
			fingerprint, err := fingerprintSource(src)
			if err != nil {
				q.logger.Warn("fingerprinting failed, uploading without duplicate check",
					slog.String("name", src.Name),
					slog.String("error", err.Error()),
				)
			}

			var match dedupe.Match
			if fingerprint != "" {
				match = q.detector.CheckLenient(gctx, fingerprint)
			}

			if match.IsDuplicate && (override == nil || !override(src, match)) {
				if q.substitute(gctx, src, match.Existing, courseID, folderID, fingerprint) {
					return nil
				}
				// Substitution failed; fall through to a normal upload.
			}

			mu.Lock()
			handles = append(handles, q.submit(src, courseID, folderID, fingerprint))
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait()

	return handles, rejection
}

// substitute references existing content instead of uploading: a
// metadata-only create, zero bytes transferred. Reports whether the
// substitution took.
func (q *Queue) substitute(ctx context.Context, src Source, existing models.File, courseID, folderID, fingerprint string) bool {
	created, err := q.svc.CreateFile(ctx, models.File{
		CourseID:    courseID,
		FolderID:    folderID,
		Name:        src.Name,
		Size:        src.Size,
		MIMEType:    src.MIMEType,
		Fingerprint: fingerprint,
	})
	if err != nil {
		q.logger.Warn("duplicate substitution failed, uploading instead",
			slog.String("name", src.Name),
			slog.String("error", err.Error()),
		)

		return false
	}

	q.store.PutFile(created)

	if q.savings != nil {
		if err := q.savings.AddSavings(time.Now(), src.Size); err != nil {
			q.logger.Warn("recording savings", slog.String("error", err.Error()))
		}
	}

	q.logger.Info("upload avoided, content already in library",
		slog.String("name", src.Name),
		slog.String("existing_id", existing.ID),
		slog.Int64("bytes_saved", src.Size),
	)

	return true
}

func fingerprintSource(src Source) (string, error) {
	rc, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("opening %q: %w", src.Name, err)
	}
	defer rc.Close()

	return dedupe.Fingerprint(rc)
}

// submit creates the task record and hands the job to the pool.
func (q *Queue) submit(src Source, courseID, folderID, fingerprint string) Handle {
	j := &job{
		taskID:      uuid.NewString(),
		src:         src,
		courseID:    courseID,
		folderID:    folderID,
		fingerprint: fingerprint,
	}

	q.store.PutTask(models.UploadTask{
		ID:     j.taskID,
		Name:   src.Name,
		Size:   src.Size,
		Status: models.UploadQueued,
	})

	j.enqueued = true

	q.mu.Lock()
	q.active[j.taskID] = j
	q.mu.Unlock()

	q.jobs <- j

	return Handle{TaskID: j.taskID}
}

// run executes one transfer on a worker goroutine.
func (q *Queue) run(j *job) {
	ctx, abort := context.WithCancel(q.ctx)
	defer abort()

	j.mu.Lock()
	j.enqueued = false
	if j.paused || j.cancelled {
		// Pause/cancel arrived while the job sat in the channel. A
		// paused job stays registered and re-enters via Resume; a
		// cancelled one is already gone from the store.
		j.mu.Unlock()
		return
	}
	j.attempt++
	attempt := j.attempt
	j.abort = abort
	j.mu.Unlock()

	q.store.SetTaskStatus(j.taskID, models.UploadUploading, "")

	fingerprint := j.fingerprint
	if fingerprint == "" {
		fp, err := fingerprintSource(j.src)
		if err != nil {
			if _, _, owns := j.settle(attempt); owns {
				q.fail(j, err)
			}
			return
		}
		fingerprint = fp
		j.fingerprint = fp
	}

	rc, err := j.src.Open()
	if err != nil {
		if _, _, owns := j.settle(attempt); owns {
			q.fail(j, err)
		}
		return
	}
	defer rc.Close()

	started := time.Now()

	file, err := q.svc.Upload(ctx, remote.UploadRequest{
		CourseID:    j.courseID,
		FolderID:    j.folderID,
		Name:        j.src.Name,
		MIMEType:    j.src.MIMEType,
		Fingerprint: fingerprint,
		Size:        j.src.Size,
		Body:        rc,
		Progress: func(percent int) {
			q.store.SetTaskProgress(j.taskID, percent)
		},
	})

	paused, cancelled, owns := j.settle(attempt)
	if !owns {
		// A resume already handed the job to another worker while this
		// aborted transfer was unwinding. The outcome belongs to that
		// attempt, not this one.
		return
	}

	if err != nil {
		switch {
		case cancelled:
			q.drop(j.taskID)
		case paused:
			q.store.ResetTask(j.taskID, models.UploadPaused)
		default:
			q.fail(j, err)
		}

		return
	}

	if cancelled {
		// The transfer finished before the abort took effect. The user
		// asked for the upload to be discarded, so the result is not
		// registered.
		q.drop(j.taskID)
		return
	}

	elapsed := time.Since(started)

	q.store.PutFile(file)
	q.store.SetTaskProgress(j.taskID, 100)
	if elapsed > 0 {
		q.store.SetTaskRate(j.taskID, float64(j.src.Size)/elapsed.Seconds())
	}
	q.store.SetTaskStatus(j.taskID, models.UploadCompleted, "")

	q.logger.Info("upload completed",
		slog.String("name", j.src.Name),
		slog.String("file_id", file.ID),
		slog.Int64("size", j.src.Size),
		slog.Duration("elapsed", elapsed),
	)

	// Completed tasks linger briefly so the UI can show the final state,
	// then leave the queue.
	taskID := j.taskID
	time.AfterFunc(q.cfg.GracePeriod, func() {
		q.drop(taskID)
	})
}

// fail marks a task failed. Failed tasks are never retried by the
// queue itself; retry is an explicit user action.
func (q *Queue) fail(j *job, err error) {
	q.store.SetTaskStatus(j.taskID, models.UploadFailed, err.Error())
	q.logger.Warn("upload failed",
		slog.String("name", j.src.Name),
		slog.String("error", err.Error()),
	)
}

// drop removes a task from the store and the active set.
func (q *Queue) drop(taskID string) {
	q.store.RemoveTask(taskID)

	q.mu.Lock()
	delete(q.active, taskID)
	q.mu.Unlock()
}

// Pause stops a task from making progress. The transport does not
// support ranged resume, so pause aborts the transfer and the task
// restarts from zero on resume.
func (q *Queue) Pause(taskID string) error {
	j := q.lookup(taskID)
	if j == nil {
		return fmt.Errorf("no upload task %s", taskID)
	}

	task, ok := q.store.Task(taskID)
	if !ok || (task.Status != models.UploadQueued && task.Status != models.UploadUploading) {
		return fmt.Errorf("task %s is not in progress", taskID)
	}

	j.requestPause()
	q.store.ResetTask(taskID, models.UploadPaused)

	return nil
}

// Resume re-queues a paused task.
func (q *Queue) Resume(taskID string) error {
	j := q.lookup(taskID)
	if j == nil {
		return fmt.Errorf("no upload task %s", taskID)
	}

	task, ok := q.store.Task(taskID)
	if !ok || task.Status != models.UploadPaused {
		return fmt.Errorf("task %s is not paused", taskID)
	}

	q.store.ResetTask(taskID, models.UploadQueued)

	j.mu.Lock()
	j.paused = false
	alreadyQueued := j.enqueued
	j.enqueued = true
	j.mu.Unlock()

	if !alreadyQueued {
		q.jobs <- j
	}

	return nil
}

// Cancel aborts a task and removes it from the queue. Partial data the
// server may hold is the server's to garbage-collect.
func (q *Queue) Cancel(taskID string) error {
	j := q.lookup(taskID)
	if j == nil {
		return fmt.Errorf("no upload task %s", taskID)
	}

	j.requestCancel()
	q.drop(taskID)

	return nil
}

// Retry re-queues a failed task using the same validated source.
func (q *Queue) Retry(taskID string) error {
	j := q.lookup(taskID)
	if j == nil {
		return fmt.Errorf("no upload task %s", taskID)
	}

	task, ok := q.store.Task(taskID)
	if !ok || task.Status != models.UploadFailed {
		return fmt.Errorf("task %s has not failed", taskID)
	}

	q.store.ResetTask(taskID, models.UploadQueued)

	j.mu.Lock()
	alreadyQueued := j.enqueued
	j.enqueued = true
	j.mu.Unlock()

	if !alreadyQueued {
		q.jobs <- j
	}

	return nil
}

func (q *Queue) lookup(taskID string) *job {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.active[taskID]
}
