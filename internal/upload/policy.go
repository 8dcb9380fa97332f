package upload

import (
	"fmt"

	"github.com/coursedrive/coursedrive/internal/remote"
)

// Policy is the pre-enqueue validation gate: a type allow-list and a
// per-file size cap. Rejections happen before any network activity and
// are reported per file; the rest of the batch proceeds.
type Policy struct {
	// MaxFileSize is the per-file byte cap. Zero means no cap.
	MaxFileSize int64

	// AllowedTypes is the MIME allow-list. Empty means every type is
	// accepted.
	AllowedTypes []string
}

// Validate checks a source against the policy. Failures carry the
// validation kind and never reach the coordinator or the network.
func (p Policy) Validate(src Source) error {
	if src.Name == "" {
		return remote.NewError(remote.KindValidation, "validate upload", fmt.Errorf("file has no name"))
	}

	if src.Size <= 0 {
		return remote.NewError(remote.KindValidation, "validate upload", fmt.Errorf("%q is empty", src.Name))
	}

	if p.MaxFileSize > 0 && src.Size > p.MaxFileSize {
		return remote.NewError(remote.KindValidation, "validate upload",
			fmt.Errorf("%q is %d bytes, limit is %d", src.Name, src.Size, p.MaxFileSize))
	}

	if len(p.AllowedTypes) > 0 {
		allowed := false
		for _, t := range p.AllowedTypes {
			if t == src.MIMEType {
				allowed = true
				break
			}
		}

		if !allowed {
			return remote.NewError(remote.KindValidation, "validate upload",
				fmt.Errorf("%q has unsupported type %s", src.Name, src.MIMEType))
		}
	}

	return nil
}
