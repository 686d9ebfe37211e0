package upload

import (
	"bytes"
	"io"
)

// Status is the lifecycle phase of an upload record.
type Status string

// Record statuses. A record moves queued -> uploading -> complete or error;
// an error record can be re-queued via RetryUpload.
const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// CancelledMessage is the error message of records whose upload was cancelled.
const CancelledMessage = "Cancelled"

// Record tracks one file submitted for upload. ID is assigned at creation and
// stable for the record's lifetime; FileName, Size and ContentType are captured
// from the submitted file and never change.
type Record struct {
	ID          string
	FileName    string
	Size        int64
	ContentType string

	// Status and Progress are mutated in place as the transfer advances.
	// Progress is an integer percentage, monotonically non-decreasing while
	// uploading and exactly 100 once complete.
	Status   Status
	Progress int

	// Error holds the human-readable cause when Status is StatusError.
	Error string

	// Key and PublicURL identify where the file was stored; set on completion.
	Key       string
	PublicURL string

	source Source
}

// Source is a re-openable byte source for a file. It is owned by the record
// for its entire lifetime: a retry re-reads the same bytes from the start.
type Source interface {
	Open() (io.ReadCloser, error)
}

// BytesSource serves a file's content from memory.
type BytesSource []byte

// Open returns a fresh reader over the full content.
func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}
