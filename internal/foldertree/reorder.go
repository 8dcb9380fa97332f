package foldertree

import (
	"errors"
	"fmt"

	"github.com/coursedrive/coursedrive/internal/models"
)

// Reorder errors. All of them are local guards: no remote call is ever
// issued for a refused drop.
var (
	ErrSpecialFolder = errors.New("special folders cannot be reordered")
	ErrNotSiblings   = errors.New("dragged and target folders are not siblings")
	ErrUnknownFolder = errors.New("folder not in sibling set")
)

// Reordering is the outcome of a drop: the sibling list in its new
// order and the batch payload to persist it.
type Reordering struct {
	Siblings []models.Folder
	Payload  []models.FolderOrder
}

// Reorder computes the new sibling ordering after dragging draggedID
// onto targetID within one sibling set. The dragged folder is removed
// from its position and reinserted at the target's, then display order
// is reassigned as a dense 0..n-1 sequence. Reordering is restricted to
// a single parent scope; cross-parent drops are refused.
func Reorder(draggedID, targetID string, siblings []models.Folder) (Reordering, error) {
	if draggedID == targetID {
		return Reordering{}, fmt.Errorf("%w: dropped onto itself", ErrNotSiblings)
	}

	ordered := append([]models.Folder(nil), siblings...)
	sortSiblings(ordered)

	dragIdx, targetIdx := -1, -1
	parentID := ""

	for i, f := range ordered {
		if i == 0 {
			parentID = f.ParentID
		} else if f.ParentID != parentID {
			return Reordering{}, fmt.Errorf("%w: mixed parents in sibling set", ErrNotSiblings)
		}

		if f.Special && (f.ID == draggedID || f.ID == targetID) {
			return Reordering{}, fmt.Errorf("%w: %q", ErrSpecialFolder, f.Name)
		}

		switch f.ID {
		case draggedID:
			dragIdx = i
		case targetID:
			targetIdx = i
		}
	}

	if dragIdx < 0 {
		return Reordering{}, fmt.Errorf("%w: dragged %s", ErrUnknownFolder, draggedID)
	}
	if targetIdx < 0 {
		return Reordering{}, fmt.Errorf("%w: target %s", ErrUnknownFolder, targetID)
	}

	dragged := ordered[dragIdx]
	ordered = append(ordered[:dragIdx], ordered[dragIdx+1:]...)

	// The target's index after removal is where the dragged folder lands.
	insertAt := targetIdx
	if dragIdx < targetIdx {
		insertAt--
	}

	ordered = append(ordered, models.Folder{})
	copy(ordered[insertAt+1:], ordered[insertAt:])
	ordered[insertAt] = dragged

	payload := make([]models.FolderOrder, 0, len(ordered))
	for i := range ordered {
		ordered[i].DisplayOrder = i
		payload = append(payload, models.FolderOrder{ID: ordered[i].ID, DisplayOrder: i})
	}

	return Reordering{Siblings: ordered, Payload: payload}, nil
}
