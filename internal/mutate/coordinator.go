// Package mutate implements the optimistic mutation coordinator: every
// create, update, delete, move, and reorder is applied to the local
// store first, then confirmed against the remote service, rolling back
// to the captured snapshot on failure.
package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coursedrive/coursedrive/internal/models"
	"github.com/coursedrive/coursedrive/internal/remote"
	"github.com/coursedrive/coursedrive/internal/store"
	"golang.org/x/sync/errgroup"
)

// Coordinator is the sole writer of entity state. Mutations against the
// same entity id are serialized: a second mutation waits for the
// first's outcome before its local apply, so a rollback can never race
// a later optimistic write. Mutations against different ids run freely.
type Coordinator struct {
	store  *store.Store
	svc    remote.Service
	logger *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*entityLock

	pendingMu sync.Mutex
	pending   map[string]models.PendingMutation
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a coordinator writing through the given store.
func New(st *store.Store, svc remote.Service, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:   st,
		svc:     svc,
		logger:  logger,
		locks:   make(map[string]*entityLock),
		pending: make(map[string]models.PendingMutation),
	}
}

// lockEntity acquires the per-entity mutex, creating it on first use
// and dropping it once no mutation holds or awaits it.
func (c *Coordinator) lockEntity(id string) func() {
	c.locksMu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &entityLock{}
		c.locks[id] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.locksMu.Unlock()
	}
}

// lockEntities acquires several entity locks in a stable order so two
// overlapping batches cannot deadlock.
func (c *Coordinator) lockEntities(ids []string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, id := range sorted {
		unlocks = append(unlocks, c.lockEntity(id))
	}

	return func() {
		// Release in reverse acquisition order.
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// begin registers a pending mutation at the moment of the local apply.
func (c *Coordinator) begin(kind models.MutationKind, entityType models.EntityType, entityID string) models.PendingMutation {
	pm := models.PendingMutation{
		ID:         models.NewTempID(),
		Kind:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     models.MutationApplied,
		CreatedAt:  time.Now(),
	}

	c.pendingMu.Lock()
	c.pending[pm.ID] = pm
	c.pendingMu.Unlock()

	return pm
}

// finish resolves a pending mutation and removes it from the log.
func (c *Coordinator) finish(pm models.PendingMutation, status models.MutationStatus) {
	c.pendingMu.Lock()
	delete(c.pending, pm.ID)
	c.pendingMu.Unlock()

	if status == models.MutationRolledBack {
		c.logger.Warn("mutation rolled back",
			slog.String("kind", string(pm.Kind)),
			slog.String("entity", string(pm.EntityType)),
			slog.String("id", pm.EntityID),
		)
	}
}

// Pending returns the in-flight mutation log, oldest first.
func (c *Coordinator) Pending() []models.PendingMutation {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	out := make([]models.PendingMutation, 0, len(c.pending))
	for _, pm := range c.pending {
		out = append(out, pm)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}

// BatchResult summarizes a batch mutation with partial-failure
// semantics: failed targets rolled back, successes left committed.
type BatchResult struct {
	Succeeded int
	Failed    int
	Errors    map[string]error // keyed by target entity id
}

// Err returns nil when every target succeeded, otherwise a summary
// error for UI surfacing.
func (r BatchResult) Err() error {
	if r.Failed == 0 {
		return nil
	}

	return fmt.Errorf("%d of %d targets failed", r.Failed, r.Succeeded+r.Failed)
}

// CreateFolder optimistically inserts a folder with a temporary id at
// the end of the root sibling order, then swaps in the server's
// canonical record on confirmation. Any file that referenced the
// temporary id is rewritten to the server id.
func (c *Coordinator) CreateFolder(ctx context.Context, courseID, name string) (models.Folder, error) {
	temp := models.Folder{
		ID:           models.NewTempID(),
		CourseID:     courseID,
		Name:         name,
		DisplayOrder: c.nextRootOrder(courseID),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	unlock := c.lockEntity(temp.ID)
	defer unlock()

	c.store.PutFolder(temp)
	pm := c.begin(models.MutationCreate, models.EntityFolder, temp.ID)

	confirmed, err := c.svc.CreateFolder(ctx, courseID, name)
	if err != nil {
		c.store.RemoveFolder(temp.ID)
		c.finish(pm, models.MutationRolledBack)

		return models.Folder{}, fmt.Errorf("creating folder %q: %w", name, err)
	}

	c.store.ReplaceFolderID(temp.ID, confirmed)
	c.finish(pm, models.MutationConfirmed)

	return confirmed, nil
}

func (c *Coordinator) nextRootOrder(courseID string) int {
	next := 0
	for _, f := range c.store.Folders() {
		if f.CourseID == courseID && f.ParentID == "" && f.DisplayOrder >= next {
			next = f.DisplayOrder + 1
		}
	}

	return next
}

// RenameFile optimistically renames a file and confirms remotely.
func (c *Coordinator) RenameFile(ctx context.Context, id, name string) (models.File, error) {
	unlock := c.lockEntity(id)
	defer unlock()

	f, ok := c.store.File(id)
	if !ok {
		return models.File{}, remote.NewError(remote.KindNotFound, "rename file", fmt.Errorf("file %s not in store", id))
	}

	snap := c.store.SnapshotFiles(id)
	f.Name = name
	c.store.PutFile(f)
	pm := c.begin(models.MutationUpdate, models.EntityFile, id)

	updated, err := c.svc.UpdateFile(ctx, id, remote.FilePatch{Name: &name})
	if err != nil {
		c.store.RestoreFiles(snap)
		c.finish(pm, models.MutationRolledBack)

		return models.File{}, fmt.Errorf("renaming file %s: %w", id, err)
	}

	c.store.PutFile(updated)
	c.finish(pm, models.MutationConfirmed)

	return updated, nil
}

// DeleteFile optimistically removes a file and confirms remotely.
func (c *Coordinator) DeleteFile(ctx context.Context, id string) error {
	unlock := c.lockEntity(id)
	defer unlock()

	if _, ok := c.store.File(id); !ok {
		return remote.NewError(remote.KindNotFound, "delete file", fmt.Errorf("file %s not in store", id))
	}

	snap := c.store.SnapshotFiles(id)
	c.store.RemoveFile(id)
	pm := c.begin(models.MutationDelete, models.EntityFile, id)

	if err := c.svc.DeleteFile(ctx, id); err != nil {
		c.store.RestoreFiles(snap)
		c.finish(pm, models.MutationRolledBack)

		return fmt.Errorf("deleting file %s: %w", id, err)
	}

	c.finish(pm, models.MutationConfirmed)

	return nil
}

// DeleteFiles removes a batch of files as one optimistic step. Remote
// calls run in parallel; targets whose call fails are restored while
// successes stay committed.
func (c *Coordinator) DeleteFiles(ctx context.Context, ids []string) BatchResult {
	unlock := c.lockEntities(ids)
	defer unlock()

	snap := c.store.SnapshotFiles(ids...)
	pms := make(map[string]models.PendingMutation, len(ids))
	for _, id := range ids {
		c.store.RemoveFile(id)
		pms[id] = c.begin(models.MutationDelete, models.EntityFile, id)
	}

	result := BatchResult{Errors: make(map[string]error)}

	var resultMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := c.svc.DeleteFile(gctx, id)

			resultMu.Lock()
			defer resultMu.Unlock()

			if err != nil {
				c.store.RestoreFile(snap, id)
				c.finish(pms[id], models.MutationRolledBack)
				result.Failed++
				result.Errors[id] = err

				return nil
			}

			c.finish(pms[id], models.MutationConfirmed)
			result.Succeeded++

			return nil
		})
	}
	_ = g.Wait()

	return result
}

// MoveFiles moves a batch of files into a folder (empty folderID
// unfiles them) as one optimistic step with per-target confirmation.
// The target folder must exist locally; a move into an unknown folder
// is rejected before any network activity.
func (c *Coordinator) MoveFiles(ctx context.Context, ids []string, folderID string) BatchResult {
	result := BatchResult{Errors: make(map[string]error)}

	if folderID != "" {
		if _, ok := c.store.Folder(folderID); !ok {
			err := remote.NewError(remote.KindValidation, "move files", fmt.Errorf("folder %s not in store", folderID))
			for _, id := range ids {
				result.Failed++
				result.Errors[id] = err
			}

			return result
		}
	}

	unlock := c.lockEntities(ids)
	defer unlock()

	snap := c.store.SnapshotFiles(ids...)
	pms := make(map[string]models.PendingMutation, len(ids))

	for _, id := range ids {
		f, ok := c.store.File(id)
		if !ok {
			result.Failed++
			result.Errors[id] = remote.NewError(remote.KindNotFound, "move files", fmt.Errorf("file %s not in store", id))

			continue
		}

		f.FolderID = folderID
		c.store.PutFile(f)
		pms[id] = c.begin(models.MutationMove, models.EntityFile, id)
	}

	var resultMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for id, pm := range pms {
		id, pm := id, pm
		g.Go(func() error {
			updated, err := c.svc.UpdateFile(gctx, id, remote.FilePatch{FolderID: &folderID})

			resultMu.Lock()
			defer resultMu.Unlock()

			if err != nil {
				c.store.RestoreFile(snap, id)
				c.finish(pm, models.MutationRolledBack)
				result.Failed++
				result.Errors[id] = err

				return nil
			}

			c.store.PutFile(updated)
			c.finish(pm, models.MutationConfirmed)
			result.Succeeded++

			return nil
		})
	}
	_ = g.Wait()

	return result
}

// DeleteFolder removes a folder. Files inside it are retained and
// become unfiled: folder deletion is structural, never a cascade.
// Special folders are refused locally with zero network cost.
func (c *Coordinator) DeleteFolder(ctx context.Context, id string) error {
	unlock := c.lockEntity(id)
	defer unlock()

	folder, ok := c.store.Folder(id)
	if !ok {
		return remote.NewError(remote.KindNotFound, "delete folder", fmt.Errorf("folder %s not in store", id))
	}

	if folder.Special {
		return remote.NewError(remote.KindValidation, "delete folder", fmt.Errorf("folder %q is system-managed", folder.Name))
	}

	contained := c.store.FilesByFolder(id)
	fileIDs := make([]string, 0, len(contained))
	for _, f := range contained {
		fileIDs = append(fileIDs, f.ID)
	}

	folderSnap := c.store.SnapshotFolders(id)
	fileSnap := c.store.SnapshotFiles(fileIDs...)

	c.store.RemoveFolder(id)
	c.store.ClearFolderRef(id)
	pm := c.begin(models.MutationDelete, models.EntityFolder, id)

	if err := c.svc.DeleteFolder(ctx, id); err != nil {
		c.store.RestoreFolders(folderSnap)
		c.store.RestoreFiles(fileSnap)
		c.finish(pm, models.MutationRolledBack)

		return fmt.Errorf("deleting folder %s: %w", id, err)
	}

	c.finish(pm, models.MutationConfirmed)

	return nil
}

// ApplyReorder applies a computed sibling ordering optimistically and
// persists it as one batch update. On failure the entire pre-reorder
// ordering is restored. Unknown folders are refused locally, as is any
// order that would move a special folder; a special folder appearing at
// its unchanged position in a dense renumbering is allowed, since it
// was not the subject of the drag.
func (c *Coordinator) ApplyReorder(ctx context.Context, orders []models.FolderOrder) error {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		folder, ok := c.store.Folder(o.ID)
		if !ok {
			return remote.NewError(remote.KindNotFound, "reorder folders", fmt.Errorf("folder %s not in store", o.ID))
		}
		if folder.Special && folder.DisplayOrder != o.DisplayOrder {
			return remote.NewError(remote.KindValidation, "reorder folders", fmt.Errorf("folder %q is system-managed", folder.Name))
		}

		ids = append(ids, o.ID)
	}

	unlock := c.lockEntities(ids)
	defer unlock()

	snap := c.store.SnapshotFolders(ids...)
	pms := make([]models.PendingMutation, 0, len(orders))

	for _, o := range orders {
		folder, _ := c.store.Folder(o.ID)
		folder.DisplayOrder = o.DisplayOrder
		folder.UpdatedAt = time.Now()
		c.store.PutFolder(folder)
		pms = append(pms, c.begin(models.MutationReorder, models.EntityFolder, o.ID))
	}

	if err := c.svc.ReorderFolders(ctx, orders); err != nil {
		c.store.RestoreFolders(snap)
		for _, pm := range pms {
			c.finish(pm, models.MutationRolledBack)
		}

		return fmt.Errorf("reordering folders: %w", err)
	}

	for _, pm := range pms {
		c.finish(pm, models.MutationConfirmed)
	}

	return nil
}
