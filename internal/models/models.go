// Package models defines the entities shared across the coursedrive
// engine: files, folders, upload tasks, and the bookkeeping records the
// mutation coordinator uses to track in-flight changes.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks client-generated ids that have not yet been
// confirmed by the server. Entities carrying one are never persisted
// across sessions.
const TempIDPrefix = "tmp-"

// NewTempID returns a fresh client-side id for an entity created
// optimistically before the server has assigned a canonical id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// File is a single uploaded document in a course.
type File struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	FolderID    string    `json:"folder_id,omitempty"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	MIMEType    string    `json:"mime_type"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// Temporary reports whether the file still carries a client-generated id.
func (f File) Temporary() bool {
	return len(f.ID) > len(TempIDPrefix) && f.ID[:len(TempIDPrefix)] == TempIDPrefix
}

// Folder groups files within a course. Folders form a forest: ParentID
// is empty for root folders. DisplayOrder is unique among siblings.
type Folder struct {
	ID           string    `json:"id"`
	CourseID     string    `json:"course_id"`
	ParentID     string    `json:"parent_id,omitempty"`
	Name         string    `json:"name"`
	DisplayOrder int       `json:"display_order"`
	Special      bool      `json:"is_special"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Temporary reports whether the folder still carries a client-generated id.
func (f Folder) Temporary() bool {
	return len(f.ID) > len(TempIDPrefix) && f.ID[:len(TempIDPrefix)] == TempIDPrefix
}

// FolderNode is the derived tree view of a folder: the folder itself,
// its ordered children, and the files directly inside it. Nodes are
// rebuilt from scratch on every change, never mutated in place.
type FolderNode struct {
	Folder   Folder
	Children []*FolderNode
	Files    []File
	Expanded bool
}

// FolderOrder is one entry of a reorder persist payload.
type FolderOrder struct {
	ID           string `json:"id"`
	DisplayOrder int    `json:"display_order"`
}

// UploadStatus is the lifecycle state of an upload task.
type UploadStatus string

const (
	UploadQueued    UploadStatus = "queued"
	UploadUploading UploadStatus = "uploading"
	UploadPaused    UploadStatus = "paused"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

// UploadTask tracks one file transfer through the upload queue.
// Progress is 0-100 and never decreases. BytesPerSec is measured
// throughput, populated once the transfer finishes.
type UploadTask struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Size        int64        `json:"size"`
	Progress    int          `json:"progress"`
	Status      UploadStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	BytesPerSec float64      `json:"bytes_per_sec,omitempty"`
}

// MutationKind identifies what a mutation does to its target.
type MutationKind string

const (
	MutationCreate  MutationKind = "create"
	MutationUpdate  MutationKind = "update"
	MutationDelete  MutationKind = "delete"
	MutationMove    MutationKind = "move"
	MutationReorder MutationKind = "reorder"
)

// MutationStatus is the lifecycle state of a pending mutation.
type MutationStatus string

const (
	MutationApplied    MutationStatus = "applied-locally"
	MutationConfirmed  MutationStatus = "confirmed"
	MutationRolledBack MutationStatus = "rolled-back"
)

// EntityType distinguishes mutation targets.
type EntityType string

const (
	EntityFile   EntityType = "file"
	EntityFolder EntityType = "folder"
)

// PendingMutation records an in-flight optimistic mutation: what it
// targets and where it is in its lifecycle. The pre-mutation snapshot
// itself is held by the coordinator alongside this record.
type PendingMutation struct {
	ID         string         `json:"id"`
	Kind       MutationKind   `json:"kind"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Status     MutationStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DragKind tags the variant carried by a DragPayload.
type DragKind string

const (
	DragFiles  DragKind = "files"
	DragFolder DragKind = "folder"
)

// DragPayload is the tagged variant carried by a drag-and-drop
// interaction: either a set of file ids or a single folder id.
// Validate it at the boundary where the drop is consumed.
type DragPayload struct {
	Kind     DragKind `json:"kind"`
	FileIDs  []string `json:"file_ids,omitempty"`
	FolderID string   `json:"folder_id,omitempty"`
}

// Validate checks that the payload's tag matches its content.
func (p DragPayload) Validate() error {
	switch p.Kind {
	case DragFiles:
		if len(p.FileIDs) == 0 {
			return fmt.Errorf("files drag payload has no file ids")
		}
		if p.FolderID != "" {
			return fmt.Errorf("files drag payload carries a folder id")
		}
		for i, id := range p.FileIDs {
			if id == "" {
				return fmt.Errorf("files drag payload has empty id at index %d", i)
			}
		}
	case DragFolder:
		if p.FolderID == "" {
			return fmt.Errorf("folder drag payload has no folder id")
		}
		if len(p.FileIDs) != 0 {
			return fmt.Errorf("folder drag payload carries file ids")
		}
	default:
		return fmt.Errorf("unknown drag payload kind %q", p.Kind)
	}
	return nil
}
