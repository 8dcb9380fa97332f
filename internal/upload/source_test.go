package upload

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- sources ---

func TestBytesSource_Reopenable(t *testing.T) {
	src := BytesSource("notes.pdf", "application/pdf", []byte("content"))

	for i := 0; i < 2; i++ {
		rc, err := src.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "content", string(data))
	}
}

func TestBytesSource_NormalizesName(t *testing.T) {
	// "é" composed vs decomposed: same visual name, different bytes.
	composed := BytesSource("résumé.pdf", "application/pdf", []byte("x"))
	decomposed := BytesSource("résumé.pdf", "application/pdf", []byte("x"))

	assert.Equal(t, composed.Name, decomposed.Name)
}

func TestFileSource_ReadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lecture.pdf")
	require.NoError(t, os.WriteFile(path, []byte("slides"), 0o600))

	src := FileSource(path, "lecture.pdf", "application/pdf", 6)

	rc, err := src.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "slides", string(data))
}

func TestPasteSource_GeneratedName(t *testing.T) {
	at := time.Date(2026, 3, 15, 14, 30, 5, 0, time.UTC)

	src := PasteSource([]byte{0x89, 0x50}, "image/png", at)

	// Extension comes from the platform mime table; the stem is ours.
	assert.True(t, strings.HasPrefix(src.Name, "Pasted image 2026-03-15 14-30-05"), src.Name)
	assert.NotEmpty(t, filepath.Ext(src.Name))
	assert.Equal(t, int64(2), src.Size)
}

func TestPasteSource_UnknownTypeFallsBackToPNG(t *testing.T) {
	at := time.Date(2026, 3, 15, 14, 30, 5, 0, time.UTC)

	src := PasteSource([]byte("x"), "application/x-unknown-clipboard", at)

	assert.Equal(t, ".png", filepath.Ext(src.Name))
}
