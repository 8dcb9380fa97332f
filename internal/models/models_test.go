package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- temporary ids ---

func TestNewTempID_HasPrefix(t *testing.T) {
	id := NewTempID()
	assert.True(t, len(id) > len(TempIDPrefix))
	assert.Equal(t, TempIDPrefix, id[:len(TempIDPrefix)])
}

func TestNewTempID_Unique(t *testing.T) {
	assert.NotEqual(t, NewTempID(), NewTempID())
}

func TestFile_Temporary(t *testing.T) {
	assert.True(t, File{ID: NewTempID()}.Temporary())
	assert.False(t, File{ID: "f-123"}.Temporary())
	assert.False(t, File{}.Temporary())
}

func TestFolder_Temporary(t *testing.T) {
	assert.True(t, Folder{ID: NewTempID()}.Temporary())
	assert.False(t, Folder{ID: "d-9"}.Temporary())
}

// --- drag payload validation ---

func TestDragPayload_ValidFiles(t *testing.T) {
	p := DragPayload{Kind: DragFiles, FileIDs: []string{"f1", "f2"}}
	require.NoError(t, p.Validate())
}

func TestDragPayload_ValidFolder(t *testing.T) {
	p := DragPayload{Kind: DragFolder, FolderID: "d1"}
	require.NoError(t, p.Validate())
}

func TestDragPayload_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload DragPayload
	}{
		{"unknown kind", DragPayload{Kind: "link"}},
		{"empty kind", DragPayload{}},
		{"files without ids", DragPayload{Kind: DragFiles}},
		{"files with empty id", DragPayload{Kind: DragFiles, FileIDs: []string{"f1", ""}}},
		{"files carrying folder id", DragPayload{Kind: DragFiles, FileIDs: []string{"f1"}, FolderID: "d1"}},
		{"folder without id", DragPayload{Kind: DragFolder}},
		{"folder carrying file ids", DragPayload{Kind: DragFolder, FolderID: "d1", FileIDs: []string{"f1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.payload.Validate())
		})
	}
}
