package scan

import (
	"os"
	"time"

	"github.com/oncutf/oncutf/pkg/file"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusLoaded    Status = "loaded"
	StatusValidated Status = "validated"
	StatusRenamed   Status = "renamed"
	StatusError     Status = "error"
)

// FileEntry is one file under consideration for renaming. Values are
// immutable: a status transition produces a new value.
type FileEntry struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Status  Status    `json:"status"`
	Err     string    `json:"error,omitempty"`
}

// NewFileEntry stats the file and builds a pending entry with a normalized
// absolute path.
func NewFileEntry(path string) (FileEntry, error) {
	normalized := file.NormalizePath(path)
	info, err := os.Stat(normalized)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{
		Path:    normalized,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Status:  StatusPending,
	}, nil
}

func (e FileEntry) WithStatus(status Status) FileEntry {
	ret := e
	ret.Status = status
	if status != StatusError {
		ret.Err = ""
	}
	return ret
}

func (e FileEntry) WithError(message string) FileEntry {
	ret := e
	ret.Status = StatusError
	ret.Err = message
	return ret
}
