package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/uploadkit-io/go-uploadkit/upload/filemeta"
	"github.com/uploadkit-io/go-uploadkit/upload/network"
)

// DefaultMaxConcurrent is the upload concurrency limit applied when the config
// leaves MaxConcurrent unset.
const DefaultMaxConcurrent = 3

// Config controls a Queue's behavior.
type Config struct {
	// Endpoint is the destination resolver URL. Required unless a custom
	// Resolver is injected into NewQueue.
	Endpoint string

	// Headers are extra request headers for resolver calls (e.g. auth).
	Headers map[string]string

	// AutoUpload starts transfers as soon as files are added. When false,
	// queued records wait until UploadFiles is called.
	AutoUpload bool

	// MaxConcurrent bounds the number of simultaneously uploading records.
	// Default: DefaultMaxConcurrent
	MaxConcurrent int

	// Accept restricts admissible content types, e.g. {"image/*", "application/pdf"}.
	// Files that match none of the patterns are recorded as errors. Empty means
	// everything is accepted.
	Accept []string

	// OnUploadComplete is invoked once per successfully completed record.
	OnUploadComplete func(Record)

	// OnError is invoked once per failed record. Cancellation is an expected,
	// user-driven outcome and does not trigger it.
	OnError func(error, Record)
}

// DefaultConfig returns a config with auto-upload enabled and the default
// concurrency limit.
func DefaultConfig() Config {
	return Config{
		AutoUpload:    true,
		MaxConcurrent: DefaultMaxConcurrent,
	}
}

// Queue manages concurrent file uploads to resolver-issued destinations.
// It is the single source of truth for upload records: records are created by
// AddFiles/UploadFiles, mutated in place as transfers advance, and removed only
// by RemoveItem or ClearCompleted.
//
// All methods are safe for concurrent use.
type Queue struct {
	config    Config
	resolver  network.Resolver
	transport network.Transport
	logger    log.Logger

	mu       sync.Mutex
	store    *recordStore
	cancels  map[string]context.CancelFunc
	admitted map[string]struct{}
}

// NewQueue creates an upload queue. resolver and transport can be nil, unless
// you want to provide custom implementations; the defaults resolve destinations
// via config.Endpoint and upload with a plain HTTP client.
func NewQueue(config Config, resolver network.Resolver, transport network.Transport, logger log.Logger) (*Queue, error) {
	if logger == nil {
		logger = log.NewLogger()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if resolver == nil {
		if config.Endpoint == "" {
			return nil, fmt.Errorf("Endpoint must not be empty")
		}
		resolver = network.NewAPIResolver(config.Endpoint, config.Headers, logger)
	}
	if transport == nil {
		transport = network.NewDefaultTransport()
	}

	return &Queue{
		config:    config,
		resolver:  resolver,
		transport: transport,
		logger:    logger,
		store:     newRecordStore(),
		cancels:   map[string]context.CancelFunc{},
		admitted:  map[string]struct{}{},
	}, nil
}

// AddFiles creates a queued record per file and returns snapshots of the new
// records. With AutoUpload enabled, admission runs once after the whole batch
// is appended.
func (q *Queue) AddFiles(files ...File) []Record {
	added := q.appendRecords(files)
	if q.config.AutoUpload {
		q.admit()
	}
	return added
}

// UploadFiles optionally adds files, then starts queued transfers regardless of
// the AutoUpload setting. Used for manual-trigger mode.
func (q *Queue) UploadFiles(files ...File) []Record {
	added := q.appendRecords(files)
	q.admit()
	return added
}

func (q *Queue) appendRecords(files []File) []Record {
	if len(files) == 0 {
		return nil
	}

	q.mu.Lock()
	added := make([]Record, 0, len(files))
	for _, file := range files {
		rec := &Record{
			ID:          uuid.New().String(),
			FileName:    file.Name,
			Size:        file.Size,
			ContentType: file.ContentType,
			Status:      StatusQueued,
			source:      file.Source,
		}
		if len(q.config.Accept) > 0 && !filemeta.MatchesAccept(q.config.Accept, file.ContentType) {
			rec.Status = StatusError
			rec.Error = fmt.Sprintf("file type %s is not allowed", file.ContentType)
		}
		q.store.append(rec)
		added = append(added, *rec)
		q.logger.Debugf("Added %s (%s, %s)", rec.FileName, rec.ContentType, units.HumanSize(float64(rec.Size)))
	}
	q.mu.Unlock()

	return added
}

// CancelUpload aborts the record's in-flight transfer. A queued record is
// marked as cancelled so it never gets admitted; terminal records are left
// untouched.
func (q *Queue) CancelUpload(id string) {
	q.mu.Lock()
	rec, ok := q.store.byID(id)
	if !ok {
		q.mu.Unlock()
		return
	}

	switch rec.Status {
	case StatusUploading:
		cancel := q.cancels[id]
		q.mu.Unlock()
		if cancel != nil {
			// The transfer goroutine observes the abort and performs the
			// error transition, releasing the slot.
			cancel()
		}
	case StatusQueued:
		rec.Status = StatusError
		rec.Error = CancelledMessage
		rec.Progress = 0
		q.mu.Unlock()
	default:
		q.mu.Unlock()
	}
}

// RemoveItem cancels any in-flight transfer for the record and deletes it from
// the store.
func (q *Queue) RemoveItem(id string) {
	q.CancelUpload(id)

	q.mu.Lock()
	q.store.remove(id)
	delete(q.admitted, id)
	q.mu.Unlock()
}

// RetryUpload re-queues an error record and re-runs admission. The whole
// process restarts, including destination resolution. Retries are unbounded.
func (q *Queue) RetryUpload(id string) {
	q.mu.Lock()
	retried := q.store.update(id, func(rec *Record) {
		if rec.Status != StatusError {
			return
		}
		rec.Status = StatusQueued
		rec.Progress = 0
		rec.Error = ""
	})
	q.mu.Unlock()

	if retried {
		q.admit()
	}
}

// ClearCompleted removes every record in a terminal status (complete or error).
// Queued and uploading records are untouched.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	removed := q.store.removeWhere(func(rec *Record) bool {
		return rec.Status == StatusComplete || rec.Status == StatusError
	})
	q.mu.Unlock()
	return removed
}

// Records returns a snapshot of all records in insertion order.
func (q *Queue) Records() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Record, 0, q.store.len())
	for _, rec := range q.store.inOrder() {
		out = append(out, *rec)
	}
	return out
}

// Item returns a snapshot of a single record.
func (q *Queue) Item(id string) (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.store.byID(id)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Summary returns the aggregate view over the current records.
func (q *Queue) Summary() Summary {
	q.mu.Lock()
	defer q.mu.Unlock()
	return summarize(q.store.inOrder())
}

// admit promotes queued records to uploading while free slots remain, in store
// order. It is idempotent: records already uploading or already marked
// admission-in-flight are never double-admitted. Called after every mutation
// that could free a slot or add a queued record.
func (q *Queue) admit() {
	q.mu.Lock()

	uploading := 0
	for _, rec := range q.store.inOrder() {
		if rec.Status == StatusUploading {
			uploading++
		}
	}

	slots := q.config.MaxConcurrent - uploading
	for _, rec := range q.store.inOrder() {
		if slots <= 0 {
			break
		}
		if rec.Status != StatusQueued {
			continue
		}
		if _, inFlight := q.admitted[rec.ID]; inFlight {
			continue
		}

		q.admitted[rec.ID] = struct{}{}
		rec.Status = StatusUploading
		rec.Progress = 0
		rec.Error = ""

		ctx, cancel := context.WithCancel(context.Background())
		q.cancels[rec.ID] = cancel

		info := network.FileInfo{FileName: rec.FileName, ContentType: rec.ContentType, Size: rec.Size}
		q.logger.Debugf("Starting upload of %s (%s)", rec.FileName, units.HumanSize(float64(rec.Size)))
		go q.transfer(ctx, rec.ID, info, rec.source)

		slots--
	}

	q.mu.Unlock()
}

// transfer runs one upload attempt: resolve a destination, then stream the
// file's bytes to it, reporting progress along the way.
func (q *Queue) transfer(ctx context.Context, id string, info network.FileInfo, source Source) {
	dest, err := q.resolver.Resolve(ctx, info)
	if err != nil {
		q.finish(id, network.Destination{}, fmt.Errorf("resolve upload destination: %w", err))
		return
	}

	if source == nil {
		q.finish(id, dest, fmt.Errorf("record has no file source"))
		return
	}
	body, err := source.Open()
	if err != nil {
		q.finish(id, dest, fmt.Errorf("open file source: %w", err))
		return
	}
	defer func() {
		if err := body.Close(); err != nil {
			q.logger.Warnf("close file source: %s", err)
		}
	}()

	err = q.transport.Send(ctx, dest, body, info.Size, func(sent int64) {
		q.setProgress(id, sent, info.Size)
	})
	q.finish(id, dest, err)
}

// setProgress updates a record's progress, keeping it monotonic. Updates for
// records that already left the uploading state are dropped.
func (q *Queue) setProgress(id string, sent, total int64) {
	percent := progressPercent(sent, total)

	q.mu.Lock()
	q.store.update(id, func(rec *Record) {
		if rec.Status == StatusUploading && percent > rec.Progress {
			rec.Progress = percent
		}
	})
	q.mu.Unlock()
}

// finish performs the terminal transition for one transfer attempt, releases
// the cancellation handle and admission marker, fires the configured callback,
// and re-runs admission so a queued record can take the freed slot.
func (q *Queue) finish(id string, dest network.Destination, err error) {
	cancelled := err != nil && errors.Is(err, context.Canceled)

	q.mu.Lock()
	cancel := q.cancels[id]
	delete(q.cancels, id)
	delete(q.admitted, id)

	var snapshot Record
	present := q.store.update(id, func(rec *Record) {
		switch {
		case err == nil:
			rec.Status = StatusComplete
			rec.Progress = 100
			rec.Error = ""
			rec.Key = dest.Key
			rec.PublicURL = dest.PublicURL
		case cancelled:
			rec.Status = StatusError
			rec.Error = CancelledMessage
		default:
			rec.Status = StatusError
			rec.Error = err.Error()
		}
		snapshot = *rec
	})
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if present {
		switch {
		case err == nil:
			q.logger.Donef("Uploaded %s to %s", snapshot.FileName, snapshot.Key)
			if cb := q.config.OnUploadComplete; cb != nil {
				cb(snapshot)
			}
		case cancelled:
			q.logger.Debugf("Upload of %s cancelled", snapshot.FileName)
		default:
			q.logger.Errorf("Upload of %s failed: %s", snapshot.FileName, err)
			if cb := q.config.OnError; cb != nil {
				cb(err, snapshot)
			}
		}
	}

	q.admit()
}
