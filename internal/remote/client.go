// Package remote implements the HTTP client for the coursedrive API.
// Failures are classified into Kinds (conflict, network, not-found,
// quota) so callers can roll back uniformly and still surface a
// tailored message.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/coursedrive/coursedrive/internal/models"
	"github.com/tidwall/gjson"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided. Uploads stream under a caller
	// context and use a separate client without this deadline.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024

	// progressGranularity is the number of body bytes between progress
	// callbacks during an upload, so large transfers do not invoke the
	// callback per read.
	progressGranularity = 64 * 1024
)

// Client talks to the coursedrive REST API.
type Client struct {
	httpClient   *http.Client
	uploadClient *http.Client
	baseURL      string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so headers never leak to
// third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client for the given base URL. If httpClient
// is nil, a client with a 30-second timeout and same-host redirect
// policy is used for metadata calls; uploads always use an un-timed
// client and rely on the caller's context for cancellation.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient:   httpClient,
		uploadClient: &http.Client{CheckRedirect: sameHostRedirectPolicy},
		baseURL:      strings.TrimRight(baseURL, "/"),
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// statusKind maps an HTTP status to an error kind.
func statusKind(code int) Kind {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return KindNotFound
	case code == http.StatusConflict || code == http.StatusPreconditionFailed:
		return KindConflict
	case code == http.StatusRequestEntityTooLarge || code == http.StatusInsufficientStorage:
		return KindQuota
	default:
		return KindNetwork
	}
}

// errorFromBody builds a classified error from a non-2xx response.
// Error payloads vary in shape across endpoints, so the body is probed
// for the common fields rather than decoded into a fixed struct.
func errorFromBody(op string, status int, body []byte) *Error {
	kind := statusKind(status)

	msg := gjson.GetBytes(body, "error").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "message").String()
	}

	if code := gjson.GetBytes(body, "code").String(); code != "" {
		switch code {
		case "quota_exceeded", "storage_full":
			kind = KindQuota
		case "conflict", "stale_state":
			kind = KindConflict
		case "not_found":
			kind = KindNotFound
		}
	}

	if msg == "" {
		msg = sanitizeResponseBody(body)
	}

	return NewError(kind, op, fmt.Errorf("status %d: %s", status, msg))
}

// do sends a JSON request and decodes the response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	op := method + " " + path

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures (timeouts, connection refused, DNS) all
		// surface as network-kind errors.
		return NewError(KindNetwork, op, err)
	}
	defer resp.Body.Close()

	// Cap response reads at 1MB. API responses are small JSON payloads.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return NewError(KindNetwork, op, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromBody(op, resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return NewError(KindNetwork, op, fmt.Errorf("decoding response: %w", err))
		}
	}

	return nil
}

// ListFiles returns the files in a course. An empty courseID lists the
// whole library.
func (c *Client) ListFiles(ctx context.Context, courseID string) ([]models.File, error) {
	path := "/files"
	if courseID != "" {
		path += "?course_id=" + url.QueryEscape(courseID)
	}

	var files []models.File
	if err := c.do(ctx, http.MethodGet, path, nil, &files); err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	return files, nil
}

// CreateFile registers a file record without transferring content.
// Used when a duplicate check lets the client reference existing bytes.
func (c *Client) CreateFile(ctx context.Context, file models.File) (models.File, error) {
	var created models.File
	if err := c.do(ctx, http.MethodPost, "/files", file, &created); err != nil {
		return models.File{}, fmt.Errorf("creating file: %w", err)
	}

	return created, nil
}

// UpdateFile applies a partial update and returns the server's
// canonical representation.
func (c *Client) UpdateFile(ctx context.Context, id string, patch FilePatch) (models.File, error) {
	var updated models.File
	if err := c.do(ctx, http.MethodPatch, "/files/"+url.PathEscape(id), patch, &updated); err != nil {
		return models.File{}, fmt.Errorf("updating file %s: %w", id, err)
	}

	return updated, nil
}

// DeleteFile removes a file record and its stored content.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/files/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting file %s: %w", id, err)
	}

	return nil
}

// CheckDuplicate asks whether a file with the given content fingerprint
// already exists in the user's library.
func (c *Client) CheckDuplicate(ctx context.Context, fingerprint string) (DuplicateResult, error) {
	var result DuplicateResult

	body := struct {
		Fingerprint string `json:"fingerprint"`
	}{Fingerprint: fingerprint}

	if err := c.do(ctx, http.MethodPost, "/files/check-duplicate", body, &result); err != nil {
		return DuplicateResult{}, fmt.Errorf("checking duplicate: %w", err)
	}

	return result, nil
}

// ListFolders returns the folders of a course.
func (c *Client) ListFolders(ctx context.Context, courseID string) ([]models.Folder, error) {
	var folders []models.Folder
	if err := c.do(ctx, http.MethodGet, "/folders?course_id="+url.QueryEscape(courseID), nil, &folders); err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	return folders, nil
}

// CreateFolder creates a folder at the root of a course.
func (c *Client) CreateFolder(ctx context.Context, courseID, name string) (models.Folder, error) {
	body := struct {
		CourseID string `json:"course_id"`
		Name     string `json:"name"`
	}{CourseID: courseID, Name: name}

	var created models.Folder
	if err := c.do(ctx, http.MethodPost, "/folders", body, &created); err != nil {
		return models.Folder{}, fmt.Errorf("creating folder: %w", err)
	}

	return created, nil
}

// DeleteFolder removes a folder. Files inside it are retained by the
// server and become unfiled; deletion is structural only.
func (c *Client) DeleteFolder(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/folders/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting folder %s: %w", id, err)
	}

	return nil
}

// ReorderFolders persists new sibling display orders in one batch.
func (c *Client) ReorderFolders(ctx context.Context, orders []models.FolderOrder) error {
	body := struct {
		Orders []models.FolderOrder `json:"orders"`
	}{Orders: orders}

	if err := c.do(ctx, http.MethodPut, "/folders/order", body, nil); err != nil {
		return fmt.Errorf("reordering folders: %w", err)
	}

	return nil
}

// GetDownloadURL returns a time-limited URL for fetching file content.
func (c *Client) GetDownloadURL(ctx context.Context, fileID string) (DownloadLink, error) {
	var link DownloadLink
	if err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/download", nil, &link); err != nil {
		return DownloadLink{}, fmt.Errorf("getting download url for %s: %w", fileID, err)
	}

	return link, nil
}

// progressReader reports consumed bytes through a callback as the HTTP
// client reads the upload body.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	reported int64
	lastPct  int
	progress func(percent int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)

	if p.progress != nil && p.total > 0 {
		if p.read-p.reported >= progressGranularity || err == io.EOF {
			pct := int(p.read * 100 / p.total)
			if pct > 100 {
				pct = 100
			}
			if pct > p.lastPct {
				p.lastPct = pct
				p.progress(pct)
			}
			p.reported = p.read
		}
	}

	return n, err
}

// Upload streams one file's content to the server and returns the
// created file record. Progress callbacks are monotonic percentages.
// Cancellation comes from ctx; there is no client-side deadline because
// transfer time scales with file size.
func (c *Client) Upload(ctx context.Context, upload UploadRequest) (models.File, error) {
	const op = "POST /files/upload"

	q := url.Values{}
	q.Set("course_id", upload.CourseID)
	q.Set("name", upload.Name)
	if upload.FolderID != "" {
		q.Set("folder_id", upload.FolderID)
	}

	body := &progressReader{
		r:        upload.Body,
		total:    upload.Size,
		progress: upload.Progress,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload?"+q.Encode(), body)
	if err != nil {
		return models.File{}, fmt.Errorf("creating upload request: %w", err)
	}

	req.Header.Set("Content-Type", upload.MIMEType)
	req.Header.Set("X-Content-Fingerprint", upload.Fingerprint)
	req.ContentLength = upload.Size

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return models.File{}, NewError(KindNetwork, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return models.File{}, NewError(KindNetwork, op, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.File{}, errorFromBody(op, resp.StatusCode, respBody)
	}

	var created models.File
	if err := json.Unmarshal(respBody, &created); err != nil {
		return models.File{}, NewError(KindNetwork, op, fmt.Errorf("decoding response: %w", err))
	}

	return created, nil
}
