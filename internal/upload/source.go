package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Source is one validated candidate upload: a named, sized byte stream
// that can be opened more than once, so a paused or retried transfer
// can restart from the beginning.
type Source struct {
	Name     string
	MIMEType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// BytesSource wraps in-memory content as a Source. Names are NFC
// normalized so the same visual name always compares equal, whatever
// the platform it was composed on.
func BytesSource(name, mimeType string, data []byte) Source {
	return Source{
		Name:     norm.NFC.String(name),
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FileSource wraps a file on disk as a Source.
func FileSource(path, name, mimeType string, size int64) Source {
	return Source{
		Name:     norm.NFC.String(name),
		MIMEType: mimeType,
		Size:     size,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// PasteSource wraps clipboard image bytes as a Source with a generated
// name. Pasted content goes through the same validation and enqueue
// path as any other file; nothing downstream treats it specially.
func PasteSource(data []byte, mimeType string, now time.Time) Source {
	ext := ".png"
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}

	name := fmt.Sprintf("Pasted image %s%s", now.Format("2006-01-02 15-04-05"), ext)

	return BytesSource(name, mimeType, data)
}
