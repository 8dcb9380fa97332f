// Package store holds the engine's single in-memory source of truth:
// files, folders, and upload tasks. The UI layer reads through the
// selectors; every entity write comes from the mutation coordinator or
// the upload queue, never from UI code.
package store

import (
	"sort"
	"sync"

	"github.com/coursedrive/coursedrive/internal/models"
)

// Store is the mutable state container. All methods are safe for
// concurrent use. Selectors return copies, so readers never observe a
// partially applied mutation.
type Store struct {
	mu      sync.RWMutex
	files   map[string]models.File
	folders map[string]models.Folder

	tasks map[string]models.UploadTask
	// taskOrder preserves enqueue order for queue snapshots.
	taskOrder []string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		files:   make(map[string]models.File),
		folders: make(map[string]models.Folder),
		tasks:   make(map[string]models.UploadTask),
	}
}

// SetFiles replaces the file set. Used for initial hydration from the
// remote listing.
func (s *Store) SetFiles(files []models.File) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = make(map[string]models.File, len(files))
	for _, f := range files {
		s.files[f.ID] = f
	}
}

// SetFolders replaces the folder set. Used for initial hydration.
func (s *Store) SetFolders(folders []models.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.folders = make(map[string]models.Folder, len(folders))
	for _, f := range folders {
		s.folders[f.ID] = f
	}
}

// File returns a file by id.
func (s *Store) File(id string) (models.File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]

	return f, ok
}

// Folder returns a folder by id.
func (s *Store) Folder(id string) (models.Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.folders[id]

	return f, ok
}

// Files returns all files, sorted by creation time then id for a
// stable listing.
func (s *Store) Files() []models.File {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortFiles(s.files, func(models.File) bool { return true })
}

// FilesByCourse returns the files belonging to a course.
func (s *Store) FilesByCourse(courseID string) []models.File {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortFiles(s.files, func(f models.File) bool { return f.CourseID == courseID })
}

// FilesByFolder returns the files directly inside a folder. An empty
// folderID selects unfiled files.
func (s *Store) FilesByFolder(folderID string) []models.File {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortFiles(s.files, func(f models.File) bool { return f.FolderID == folderID })
}

func sortFiles(m map[string]models.File, keep func(models.File) bool) []models.File {
	out := make([]models.File, 0, len(m))
	for _, f := range m {
		if keep(f) {
			out = append(out, f)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// Folders returns all folders, sorted by parent then display order.
func (s *Store) Folders() []models.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ParentID != out[j].ParentID {
			return out[i].ParentID < out[j].ParentID
		}
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// PutFile inserts or replaces a file.
func (s *Store) PutFile(f models.File) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[f.ID] = f
}

// RemoveFile deletes a file by id.
func (s *Store) RemoveFile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.files, id)
}

// PutFolder inserts or replaces a folder.
func (s *Store) PutFolder(f models.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.folders[f.ID] = f
}

// RemoveFolder deletes a folder by id.
func (s *Store) RemoveFolder(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.folders, id)
}

// ClearFolderRef unfiles every file referencing the given folder and
// returns the ids that were touched, so the caller can snapshot them.
func (s *Store) ClearFolderRef(folderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched []string

	for id, f := range s.files {
		if f.FolderID == folderID {
			f.FolderID = ""
			s.files[id] = f
			touched = append(touched, id)
		}
	}

	return touched
}

// ReplaceFolderID swaps a temporary folder id for the server-assigned
// one, rewriting the folder entry and every file that referenced it.
// After the swap no entity anywhere retains the temporary id.
func (s *Store) ReplaceFolderID(tempID string, confirmed models.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.folders, tempID)
	s.folders[confirmed.ID] = confirmed

	for id, f := range s.files {
		if f.FolderID == tempID {
			f.FolderID = confirmed.ID
			s.files[id] = f
		}
	}
}

// ReplaceFileID swaps a temporary file id for the server-assigned one.
func (s *Store) ReplaceFileID(tempID string, confirmed models.File) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.files, tempID)
	s.files[confirmed.ID] = confirmed
}

// FileSnapshot captures the prior state of a set of files for rollback.
type FileSnapshot struct {
	entries map[string]*models.File // nil value = did not exist
}

// SnapshotFiles captures the current state of the given file ids.
func (s *Store) SnapshotFiles(ids ...string) FileSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := FileSnapshot{entries: make(map[string]*models.File, len(ids))}
	for _, id := range ids {
		if f, ok := s.files[id]; ok {
			copied := f
			snap.entries[id] = &copied
		} else {
			snap.entries[id] = nil
		}
	}

	return snap
}

// RestoreFiles puts every captured file back exactly as it was.
// Ids that did not exist at capture time are removed again.
func (s *Store) RestoreFiles(snap FileSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, f := range snap.entries {
		if f == nil {
			delete(s.files, id)
		} else {
			s.files[id] = *f
		}
	}
}

// RestoreFile restores a single id from the snapshot, leaving the rest
// untouched. Used for batch partial failure where only the failed
// targets roll back.
func (s *Store) RestoreFile(snap FileSnapshot, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := snap.entries[id]
	if !ok {
		return
	}

	if f == nil {
		delete(s.files, id)
	} else {
		s.files[id] = *f
	}
}

// FolderSnapshot captures the prior state of a set of folders.
type FolderSnapshot struct {
	entries map[string]*models.Folder
}

// SnapshotFolders captures the current state of the given folder ids.
func (s *Store) SnapshotFolders(ids ...string) FolderSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := FolderSnapshot{entries: make(map[string]*models.Folder, len(ids))}
	for _, id := range ids {
		if f, ok := s.folders[id]; ok {
			copied := f
			snap.entries[id] = &copied
		} else {
			snap.entries[id] = nil
		}
	}

	return snap
}

// RestoreFolders puts every captured folder back exactly as it was.
func (s *Store) RestoreFolders(snap FolderSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, f := range snap.entries {
		if f == nil {
			delete(s.folders, id)
		} else {
			s.folders[id] = *f
		}
	}
}

// --- upload tasks ---

// PutTask registers a new upload task at the end of the queue order.
func (s *Store) PutTask(t models.UploadTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; !exists {
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	s.tasks[t.ID] = t
}

// Task returns an upload task by id.
func (s *Store) Task(id string) (models.UploadTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]

	return t, ok
}

// Tasks returns the upload queue snapshot in enqueue order.
func (s *Store) Tasks() []models.UploadTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.UploadTask, 0, len(s.tasks))
	for _, id := range s.taskOrder {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t)
		}
	}

	return out
}

// SetTaskProgress updates a task's progress. Progress events may race
// with pause/cancel handling, so a value lower than the current one is
// ignored to keep progress monotonically non-decreasing.
func (s *Store) SetTaskProgress(id string, percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || percent <= t.Progress {
		return
	}
	if percent > 100 {
		percent = 100
	}

	t.Progress = percent
	s.tasks[id] = t
}

// SetTaskStatus updates a task's status and error message.
func (s *Store) SetTaskStatus(id string, status models.UploadStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return
	}

	t.Status = status
	t.Error = errMsg
	s.tasks[id] = t
}

// SetTaskRate records the measured throughput of a finished transfer.
func (s *Store) SetTaskRate(id string, bytesPerSec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return
	}

	t.BytesPerSec = bytesPerSec
	s.tasks[id] = t
}

// ResetTask rewinds a task to queued for a user-initiated retry or a
// pause requeue. Progress restarts from zero, which is the one place a
// task's progress may move backwards: a reset is a new attempt, not a
// progress event.
func (s *Store) ResetTask(id string, status models.UploadStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return
	}

	t.Status = status
	t.Progress = 0
	t.Error = ""
	t.BytesPerSec = 0
	s.tasks[id] = t
}

// RemoveTask drops a task from the queue.
func (s *Store) RemoveTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, id)

	for i, tid := range s.taskOrder {
		if tid == id {
			s.taskOrder = append(s.taskOrder[:i], s.taskOrder[i+1:]...)
			break
		}
	}
}
