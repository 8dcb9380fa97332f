// Package dedupe detects content-identical files before any bytes are
// transferred. The check is advisory and read-only: callers decide
// whether to reference the existing file or upload anyway.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/coursedrive/coursedrive/internal/models"
	"github.com/coursedrive/coursedrive/internal/remote"
)

// Fingerprint computes the content fingerprint for a candidate upload:
// hex(SHA-256(content)). Byte-identical files produce the same
// fingerprint regardless of name.
func Fingerprint(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Match is the outcome of a duplicate check.
type Match struct {
	IsDuplicate bool
	Existing    models.File
}

// Detector asks the remote service whether a fingerprint already
// exists in the user's library. Results are cached by fingerprint, so
// checking the same content twice within a batch costs one request.
// The detector performs no mutation.
type Detector struct {
	svc    remote.Service
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Match
}

// New creates a detector backed by the given service.
func New(svc remote.Service, logger *slog.Logger) *Detector {
	return &Detector{
		svc:    svc,
		logger: logger,
		cache:  make(map[string]Match),
	}
}

// Check reports whether a file with the given fingerprint already
// exists. Concurrent checks for different fingerprints may run in
// parallel; the cache only short-circuits completed lookups.
func (d *Detector) Check(ctx context.Context, fingerprint string) (Match, error) {
	d.mu.Lock()
	if m, ok := d.cache[fingerprint]; ok {
		d.mu.Unlock()
		return m, nil
	}
	d.mu.Unlock()

	result, err := d.svc.CheckDuplicate(ctx, fingerprint)
	if err != nil {
		return Match{}, fmt.Errorf("checking fingerprint %.12s: %w", fingerprint, err)
	}

	m := Match{IsDuplicate: result.IsDuplicate}
	if result.IsDuplicate && result.Existing != nil {
		m.Existing = *result.Existing
	}

	d.mu.Lock()
	d.cache[fingerprint] = m
	d.mu.Unlock()

	return m, nil
}

// CheckLenient is Check with graceful degradation: a detector failure
// is logged and reported as not-a-duplicate, so a single failed lookup
// never blocks an upload.
func (d *Detector) CheckLenient(ctx context.Context, fingerprint string) Match {
	m, err := d.Check(ctx, fingerprint)
	if err != nil {
		d.logger.Warn("duplicate check failed, treating as new content",
			slog.String("error", err.Error()),
		)

		return Match{}
	}

	return m
}

// Reset clears the per-batch cache.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.cache = make(map[string]Match)
	d.mu.Unlock()
}
