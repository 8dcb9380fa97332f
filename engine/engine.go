// Package engine bundles the coursedrive core — state store, mutation
// coordinator, upload queue, duplicate detector, and folder tree — into
// the surface the UI layer consumes: command functions for every
// mutation kind and read-only selectors over the store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursedrive/coursedrive/internal/dedupe"
	"github.com/coursedrive/coursedrive/internal/foldertree"
	"github.com/coursedrive/coursedrive/internal/logging"
	"github.com/coursedrive/coursedrive/internal/models"
	"github.com/coursedrive/coursedrive/internal/mutate"
	"github.com/coursedrive/coursedrive/internal/remote"
	"github.com/coursedrive/coursedrive/internal/store"
	"github.com/coursedrive/coursedrive/internal/upload"
)

// SavingsRecorder receives avoided-upload tallies. *stats.DB satisfies
// it; pass nil to disable tracking.
type SavingsRecorder interface {
	AddSavings(t time.Time, bytes int64) error
}

// Config assembles an Engine.
type Config struct {
	CourseID    string
	Service     remote.Service
	Savings     SavingsRecorder
	Logger      *slog.Logger
	Concurrency int
	Policy      upload.Policy
	GracePeriod time.Duration
}

// Engine is the client-resident core. All entity writes flow through
// its commands; the UI reads through its selectors and never holds a
// mutable reference.
type Engine struct {
	courseID string
	store    *store.Store
	mutator  *mutate.Coordinator
	queue    *upload.Queue
	detector *dedupe.Detector
	svc      remote.Service
}

// New assembles an engine. Call Start before enqueueing uploads and
// Stop when done.
func New(cfg Config) *Engine {
	st := store.New()
	detector := dedupe.New(cfg.Service, logging.ForComponent(cfg.Logger, "dedupe"))
	queue := upload.New(st, cfg.Service, detector, cfg.Savings, logging.ForComponent(cfg.Logger, "upload"), upload.Config{
		Concurrency: cfg.Concurrency,
		Policy:      cfg.Policy,
		GracePeriod: cfg.GracePeriod,
	})

	return &Engine{
		courseID: cfg.CourseID,
		store:    st,
		mutator:  mutate.New(st, cfg.Service, logging.ForComponent(cfg.Logger, "mutate")),
		queue:    queue,
		detector: detector,
		svc:      cfg.Service,
	}
}

// Start launches the upload workers.
func (e *Engine) Start(ctx context.Context) {
	e.queue.Start(ctx)
}

// Stop aborts in-flight uploads and waits for workers to exit.
func (e *Engine) Stop() {
	e.queue.Stop()
}

// Hydrate loads the remote folder and file listings into the store.
func (e *Engine) Hydrate(ctx context.Context) error {
	folders, err := e.svc.ListFolders(ctx, e.courseID)
	if err != nil {
		return fmt.Errorf("listing folders: %w", err)
	}
	e.store.SetFolders(folders)

	files, err := e.svc.ListFiles(ctx, e.courseID)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}
	e.store.SetFiles(files)

	return nil
}

// --- selectors ---

// Files returns the course's files.
func (e *Engine) Files() []models.File {
	return e.store.FilesByCourse(e.courseID)
}

// FilesByFolder returns the files directly inside a folder; empty id
// selects unfiled files.
func (e *Engine) FilesByFolder(folderID string) []models.File {
	return e.store.FilesByFolder(folderID)
}

// Folders returns all folders ordered by parent and display order.
func (e *Engine) Folders() []models.Folder {
	return e.store.Folders()
}

// FolderTree builds the hierarchical folder view with the given
// expansion set. Pure function of current state; cheap to recompute.
func (e *Engine) FolderTree(expanded map[string]bool) []*models.FolderNode {
	return foldertree.Build(e.store.Folders(), e.store.Files(), expanded)
}

// UploadQueue returns the upload task snapshot in enqueue order.
func (e *Engine) UploadQueue() []models.UploadTask {
	return e.store.Tasks()
}

// PendingMutations returns the in-flight mutation log, oldest first.
func (e *Engine) PendingMutations() []models.PendingMutation {
	return e.mutator.Pending()
}

// --- folder commands ---

// CreateFolder creates a folder optimistically.
func (e *Engine) CreateFolder(ctx context.Context, name string) (models.Folder, error) {
	return e.mutator.CreateFolder(ctx, e.courseID, name)
}

// DeleteFolder removes a folder; its files are retained and unfiled.
func (e *Engine) DeleteFolder(ctx context.Context, id string) error {
	return e.mutator.DeleteFolder(ctx, id)
}

// ReorderFolder moves draggedID to targetID's position within the root
// sibling list and persists the dense renumbering as one batch. The
// whole operation is optimistic; a remote failure restores the
// pre-reorder ordering.
func (e *Engine) ReorderFolder(ctx context.Context, draggedID, targetID string) error {
	dragged, ok := e.store.Folder(draggedID)
	if !ok {
		return remote.NewError(remote.KindNotFound, "reorder folder", fmt.Errorf("folder %s not in store", draggedID))
	}

	var siblings []models.Folder
	for _, f := range e.store.Folders() {
		if f.ParentID == dragged.ParentID && f.CourseID == dragged.CourseID {
			siblings = append(siblings, f)
		}
	}

	re, err := foldertree.Reorder(draggedID, targetID, siblings)
	if err != nil {
		return remote.NewError(remote.KindValidation, "reorder folder", err)
	}

	return e.mutator.ApplyReorder(ctx, re.Payload)
}

// --- file commands ---

// RenameFile renames a file optimistically.
func (e *Engine) RenameFile(ctx context.Context, id, name string) (models.File, error) {
	return e.mutator.RenameFile(ctx, id, name)
}

// DeleteFile deletes a single file optimistically.
func (e *Engine) DeleteFile(ctx context.Context, id string) error {
	return e.mutator.DeleteFile(ctx, id)
}

// DeleteFiles deletes a batch with partial-failure semantics.
func (e *Engine) DeleteFiles(ctx context.Context, ids []string) mutate.BatchResult {
	return e.mutator.DeleteFiles(ctx, ids)
}

// MoveFiles moves a batch into a folder (empty id unfiles).
func (e *Engine) MoveFiles(ctx context.Context, ids []string, folderID string) mutate.BatchResult {
	return e.mutator.MoveFiles(ctx, ids, folderID)
}

// Drop consumes a drag-and-drop payload at a target folder. File drags
// become a batch move; folder drags become a sibling reorder. The
// payload is validated here, at the boundary.
func (e *Engine) Drop(ctx context.Context, payload models.DragPayload, targetFolderID string) error {
	if err := payload.Validate(); err != nil {
		return remote.NewError(remote.KindValidation, "drop", err)
	}

	switch payload.Kind {
	case models.DragFiles:
		result := e.mutator.MoveFiles(ctx, payload.FileIDs, targetFolderID)
		return result.Err()
	case models.DragFolder:
		return e.ReorderFolder(ctx, payload.FolderID, targetFolderID)
	}

	return nil
}

// --- upload commands ---

// Upload validates and enqueues a batch with duplicate checks, each
// rejection reported individually.
func (e *Engine) Upload(ctx context.Context, sources []upload.Source, folderID string) ([]upload.Handle, []upload.Rejection) {
	return e.queue.EnqueueChecked(ctx, sources, e.courseID, folderID, nil)
}

// UploadForced enqueues without the duplicate short-circuit: the
// explicit user override for "upload anyway".
func (e *Engine) UploadForced(sources []upload.Source, folderID string) ([]upload.Handle, []upload.Rejection) {
	return e.queue.Enqueue(sources, e.courseID, folderID)
}

// Paste wraps clipboard image bytes into a synthetic file and uploads
// it through the ordinary path.
func (e *Engine) Paste(ctx context.Context, data []byte, mimeType string, folderID string) ([]upload.Handle, []upload.Rejection) {
	src := upload.PasteSource(data, mimeType, time.Now())
	return e.queue.EnqueueChecked(ctx, []upload.Source{src}, e.courseID, folderID, nil)
}

// PauseUpload, ResumeUpload, CancelUpload, and RetryUpload control a
// task by id.
func (e *Engine) PauseUpload(taskID string) error  { return e.queue.Pause(taskID) }
func (e *Engine) ResumeUpload(taskID string) error { return e.queue.Resume(taskID) }
func (e *Engine) CancelUpload(taskID string) error { return e.queue.Cancel(taskID) }
func (e *Engine) RetryUpload(taskID string) error  { return e.queue.Retry(taskID) }

// Queue exposes the upload queue for components that feed it directly,
// such as the drop-directory watcher.
func (e *Engine) Queue() *upload.Queue {
	return e.queue
}

// DownloadLink fetches a time-limited download URL for a file.
func (e *Engine) DownloadLink(ctx context.Context, fileID string) (remote.DownloadLink, error) {
	return e.svc.GetDownloadURL(ctx, fileID)
}
