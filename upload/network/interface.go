package network

import (
	"context"
	"io"
)

// FileInfo describes the file an upload destination is requested for.
type FileInfo struct {
	FileName    string
	ContentType string
	Size        int64
}

// Destination is a one-time upload target issued by the resolver backend.
// The URL is typically a presigned S3/R2 PUT URL and expires after ExpiresIn seconds.
type Destination struct {
	URL       string
	Method    string
	Headers   map[string]string
	Key       string
	PublicURL string
	ExpiresIn int64
}

// Resolver requests a one-time upload destination for a file.
// A destination must not be reused across transfer attempts: each attempt
// resolves a fresh one, because the previous URL may have expired.
type Resolver interface {
	Resolve(ctx context.Context, file FileInfo) (Destination, error)
}

// Transport sends a file's bytes to a resolved destination.
// progress is called with the cumulative number of bytes sent so far; it may be nil.
// Cancelling ctx aborts the in-flight request and surfaces context.Canceled.
type Transport interface {
	Send(ctx context.Context, dest Destination, body io.Reader, size int64, progress func(sent int64)) error
}
