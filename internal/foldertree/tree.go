// Package foldertree builds the hierarchical folder view from flat
// entity lists and computes drag-and-drop reorderings. Everything here
// is a pure function of its inputs: the builder holds no state and is
// safe to recompute on every refresh.
package foldertree

import (
	"sort"

	"github.com/coursedrive/coursedrive/internal/models"
)

// Build converts a flat folder list into an ordered forest, attaching
// each folder's direct files and expansion flag. Sibling levels are
// sorted by display order ascending; ties break by creation time then
// id so the result is deterministic even with transiently duplicated
// orders during an in-flight reorder.
func Build(folders []models.Folder, files []models.File, expanded map[string]bool) []*models.FolderNode {
	byParent := make(map[string][]models.Folder)
	for _, f := range folders {
		byParent[f.ParentID] = append(byParent[f.ParentID], f)
	}

	filesByFolder := make(map[string][]models.File)
	for _, f := range files {
		if f.FolderID != "" {
			filesByFolder[f.FolderID] = append(filesByFolder[f.FolderID], f)
		}
	}

	return buildLevel("", byParent, filesByFolder, expanded)
}

func buildLevel(parentID string, byParent map[string][]models.Folder, filesByFolder map[string][]models.File, expanded map[string]bool) []*models.FolderNode {
	siblings := append([]models.Folder(nil), byParent[parentID]...)
	sortSiblings(siblings)

	nodes := make([]*models.FolderNode, 0, len(siblings))
	for _, f := range siblings {
		nodes = append(nodes, &models.FolderNode{
			Folder:   f,
			Children: buildLevel(f.ID, byParent, filesByFolder, expanded),
			Files:    append([]models.File(nil), filesByFolder[f.ID]...),
			Expanded: expanded[f.ID],
		})
	}

	return nodes
}

func sortSiblings(siblings []models.Folder) {
	sort.Slice(siblings, func(i, j int) bool {
		if siblings[i].DisplayOrder != siblings[j].DisplayOrder {
			return siblings[i].DisplayOrder < siblings[j].DisplayOrder
		}
		if !siblings[i].CreatedAt.Equal(siblings[j].CreatedAt) {
			return siblings[i].CreatedAt.Before(siblings[j].CreatedAt)
		}

		return siblings[i].ID < siblings[j].ID
	})
}
