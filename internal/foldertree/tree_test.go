package foldertree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedrive/coursedrive/internal/models"
)

func folder(id, parentID, name string, order int) models.Folder {
	return models.Folder{ID: id, ParentID: parentID, Name: name, DisplayOrder: order}
}

// --- tree building ---

func TestBuild_Empty(t *testing.T) {
	nodes := Build(nil, nil, nil)
	assert.Empty(t, nodes)
}

func TestBuild_RootOrdering(t *testing.T) {
	folders := []models.Folder{
		folder("c", "", "Gamma", 2),
		folder("a", "", "Alpha", 0),
		folder("b", "", "Beta", 1),
	}

	nodes := Build(folders, nil, nil)

	require.Len(t, nodes, 3)
	assert.Equal(t, "a", nodes[0].Folder.ID)
	assert.Equal(t, "b", nodes[1].Folder.ID)
	assert.Equal(t, "c", nodes[2].Folder.ID)
}

func TestBuild_NestedChildren(t *testing.T) {
	folders := []models.Folder{
		folder("root", "", "Root", 0),
		folder("child-b", "root", "B", 1),
		folder("child-a", "root", "A", 0),
		folder("grand", "child-a", "G", 0),
	}

	nodes := Build(folders, nil, nil)

	require.Len(t, nodes, 1)
	require.Len(t, nodes[0].Children, 2)
	assert.Equal(t, "child-a", nodes[0].Children[0].Folder.ID)
	assert.Equal(t, "child-b", nodes[0].Children[1].Folder.ID)
	require.Len(t, nodes[0].Children[0].Children, 1)
	assert.Equal(t, "grand", nodes[0].Children[0].Children[0].Folder.ID)
}

func TestBuild_AttachesFilesAndExpansion(t *testing.T) {
	folders := []models.Folder{
		folder("a", "", "A", 0),
		folder("b", "", "B", 1),
	}
	files := []models.File{
		{ID: "f1", FolderID: "a", Name: "one.pdf"},
		{ID: "f2", FolderID: "a", Name: "two.pdf"},
		{ID: "f3", Name: "loose.pdf"}, // no folder, never attached
	}

	nodes := Build(folders, files, map[string]bool{"a": true})

	require.Len(t, nodes, 2)
	assert.Len(t, nodes[0].Files, 2)
	assert.True(t, nodes[0].Expanded)
	assert.Empty(t, nodes[1].Files)
	assert.False(t, nodes[1].Expanded)
}

func TestBuild_DuplicateOrderTieBreaks(t *testing.T) {
	// During an in-flight reorder two siblings can briefly share an
	// order value; the tree must still come out deterministic.
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	folders := []models.Folder{
		{ID: "b", Name: "B", DisplayOrder: 0, CreatedAt: newer},
		{ID: "a", Name: "A", DisplayOrder: 0, CreatedAt: older},
	}

	first := Build(folders, nil, nil)
	second := Build([]models.Folder{folders[1], folders[0]}, nil, nil)

	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].Folder.ID)
	assert.Equal(t, first[0].Folder.ID, second[0].Folder.ID)
	assert.Equal(t, first[1].Folder.ID, second[1].Folder.ID)
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	folders := []models.Folder{
		folder("b", "", "B", 1),
		folder("a", "", "A", 0),
	}

	Build(folders, nil, nil)

	assert.Equal(t, "b", folders[0].ID)
	assert.Equal(t, "a", folders[1].ID)
}
