package remote

import (
	"context"
	"io"

	"github.com/coursedrive/coursedrive/internal/models"
)

// FilePatch is a partial file update. Nil fields are left unchanged.
type FilePatch struct {
	Name     *string `json:"name,omitempty"`
	FolderID *string `json:"folder_id,omitempty"`
}

// DuplicateResult is the answer to a fingerprint lookup.
type DuplicateResult struct {
	IsDuplicate bool         `json:"is_duplicate"`
	Existing    *models.File `json:"existing_file,omitempty"`
}

// DownloadLink is a time-limited URL for fetching file content.
type DownloadLink struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// UploadRequest carries one file transfer. Body is streamed; Progress,
// when non-nil, is called with 0-100 as the body is consumed.
type UploadRequest struct {
	CourseID    string
	FolderID    string
	Name        string
	MIMEType    string
	Fingerprint string
	Size        int64
	Body        io.Reader
	Progress    func(percent int)
}

// Service is the remote drive API consumed by the engine. *Client is
// the production implementation; tests substitute a generated mock.
//
//go:generate mockgen -destination=mocks/mock_service.go -package=mocks github.com/coursedrive/coursedrive/internal/remote Service
type Service interface {
	ListFiles(ctx context.Context, courseID string) ([]models.File, error)
	CreateFile(ctx context.Context, file models.File) (models.File, error)
	UpdateFile(ctx context.Context, id string, patch FilePatch) (models.File, error)
	DeleteFile(ctx context.Context, id string) error
	CheckDuplicate(ctx context.Context, fingerprint string) (DuplicateResult, error)
	ListFolders(ctx context.Context, courseID string) ([]models.Folder, error)
	CreateFolder(ctx context.Context, courseID, name string) (models.Folder, error)
	DeleteFolder(ctx context.Context, id string) error
	ReorderFolders(ctx context.Context, orders []models.FolderOrder) error
	GetDownloadURL(ctx context.Context, fileID string) (DownloadLink, error)
	Upload(ctx context.Context, req UploadRequest) (models.File, error)
}
