package upload

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	settleTimeout = 5 * time.Second
	pollInterval  = 5 * time.Millisecond
)

func textFile(name, content string) File {
	return FileFromBytes(name, "text/plain", []byte(content))
}

func waitForStatus(t *testing.T, q *Queue, id string, status Status) Record {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, ok := q.Item(id)
		return ok && rec.Status == status
	}, settleTimeout, pollInterval)

	rec, _ := q.Item(id)
	return rec
}

func receiveStarted(t *testing.T, started <-chan string) string {
	t.Helper()
	select {
	case key := <-started:
		return key
	case <-time.After(settleTimeout):
		t.Fatal("timed out waiting for a transfer to start")
		return ""
	}
}

func assertNoneStarted(t *testing.T, started <-chan string) {
	t.Helper()
	select {
	case key := <-started:
		t.Fatalf("unexpected transfer started: %s", key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewQueue_RequiresEndpoint(t *testing.T) {
	_, err := NewQueue(DefaultConfig(), nil, nil, nil)
	require.Error(t, err)

	_, err = NewQueue(DefaultConfig(), &fakeResolver{}, newFakeTransport(false), nil)
	require.NoError(t, err)
}

func TestQueue_ConcurrencyLimit(t *testing.T) {
	resolver := &fakeResolver{}
	transport := newFakeTransport(true)
	config := DefaultConfig()
	config.MaxConcurrent = 2

	q, err := NewQueue(config, resolver, transport, nil)
	require.NoError(t, err)

	q.AddFiles(
		textFile("a.txt", "aaa"),
		textFile("b.txt", "bbb"),
		textFile("c.txt", "ccc"),
		textFile("d.txt", "ddd"),
		textFile("e.txt", "eee"),
	)

	receiveStarted(t, transport.started)
	receiveStarted(t, transport.started)
	assertNoneStarted(t, transport.started)

	summary := q.Summary()
	assert.Equal(t, 2, summary.Uploading)
	assert.Equal(t, 3, summary.Queued)
	assert.True(t, summary.IsUploading)

	// freeing one slot admits exactly one replacement
	transport.proceed <- nil
	receiveStarted(t, transport.started)
	assertNoneStarted(t, transport.started)

	require.Eventually(t, func() bool {
		s := q.Summary()
		return s.Complete == 1 && s.Uploading == 2 && s.Queued == 2
	}, settleTimeout, pollInterval)

	for i := 0; i < 4; i++ {
		transport.proceed <- nil
	}
	require.Eventually(t, func() bool {
		return q.Summary().Complete == 5
	}, settleTimeout, pollInterval)

	assert.LessOrEqual(t, transport.maxConcurrent(), 2)
	assert.False(t, q.Summary().IsUploading)
}

func TestQueue_FIFOAdmissionOrder(t *testing.T) {
	transport := newFakeTransport(true)
	config := DefaultConfig()
	config.MaxConcurrent = 1

	q, err := NewQueue(config, &fakeResolver{}, transport, nil)
	require.NoError(t, err)

	q.AddFiles(textFile("first.txt", "1"), textFile("second.txt", "2"), textFile("third.txt", "3"))

	assert.Equal(t, "uploads/first.txt", receiveStarted(t, transport.started))
	transport.proceed <- nil
	assert.Equal(t, "uploads/second.txt", receiveStarted(t, transport.started))
	transport.proceed <- nil
	assert.Equal(t, "uploads/third.txt", receiveStarted(t, transport.started))
	transport.proceed <- nil

	require.Eventually(t, func() bool {
		return q.Summary().Complete == 3
	}, settleTimeout, pollInterval)
}

func TestQueue_AutoUploadDisabled(t *testing.T) {
	resolver := &fakeResolver{}
	transport := newFakeTransport(false)
	config := DefaultConfig()
	config.AutoUpload = false

	q, err := NewQueue(config, resolver, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(textFile("manual.txt", "data"))
	require.Len(t, added, 1)

	assertNoneStarted(t, transport.started)
	assert.Equal(t, 0, resolver.callCount())

	rec, ok := q.Item(added[0].ID)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, rec.Status)

	q.UploadFiles()
	waitForStatus(t, q, added[0].ID, StatusComplete)
}

func TestQueue_AdmissionIsIdempotent(t *testing.T) {
	resolver := &fakeResolver{}
	transport := newFakeTransport(true)
	config := DefaultConfig()
	config.MaxConcurrent = 2

	q, err := NewQueue(config, resolver, transport, nil)
	require.NoError(t, err)

	q.AddFiles(textFile("a.txt", "a"), textFile("b.txt", "b"), textFile("c.txt", "c"))
	receiveStarted(t, transport.started)
	receiveStarted(t, transport.started)

	// redundant admission runs admit nothing new
	q.UploadFiles()
	q.UploadFiles()
	assertNoneStarted(t, transport.started)
	assert.Equal(t, 2, resolver.callCount())
	assert.Equal(t, 2, q.Summary().Uploading)

	transport.proceed <- nil
	transport.proceed <- nil
	transport.proceed <- nil
	receiveStarted(t, transport.started)
	require.Eventually(t, func() bool {
		return q.Summary().Complete == 3
	}, settleTimeout, pollInterval)
}

func TestQueue_CompletedRecord(t *testing.T) {
	var mu sync.Mutex
	var completed []Record

	transport := newFakeTransport(false)
	config := DefaultConfig()
	config.OnUploadComplete = func(rec Record) {
		mu.Lock()
		completed = append(completed, rec)
		mu.Unlock()
	}

	q, err := NewQueue(config, &fakeResolver{}, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(textFile("report.pdf", "content"))
	rec := waitForStatus(t, q, added[0].ID, StatusComplete)

	assert.Equal(t, 100, rec.Progress)
	assert.Equal(t, "uploads/report.pdf", rec.Key)
	assert.Equal(t, "https://cdn.example.com/uploads/report.pdf", rec.PublicURL)
	assert.Empty(t, rec.Error)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, completed, 1)
	assert.Equal(t, added[0].ID, completed[0].ID)
}

func TestQueue_TransferError(t *testing.T) {
	var mu sync.Mutex
	var failed []Record
	completeCalls := 0

	transport := newFakeTransport(false)
	transport.err = errors.New("connection reset")

	config := DefaultConfig()
	config.OnError = func(err error, rec Record) {
		mu.Lock()
		failed = append(failed, rec)
		mu.Unlock()
	}
	config.OnUploadComplete = func(Record) {
		mu.Lock()
		completeCalls++
		mu.Unlock()
	}

	q, err := NewQueue(config, &fakeResolver{}, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(textFile("flaky.txt", "data"))
	rec := waitForStatus(t, q, added[0].ID, StatusError)
	assert.Contains(t, rec.Error, "connection reset")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 1)
	assert.Equal(t, added[0].ID, failed[0].ID)
	assert.Equal(t, 0, completeCalls)
}

func TestQueue_ResolveError(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("presign backend unavailable")}
	transport := newFakeTransport(false)

	q, err := NewQueue(DefaultConfig(), resolver, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(textFile("doomed.txt", "data"))
	rec := waitForStatus(t, q, added[0].ID, StatusError)

	assert.Contains(t, rec.Error, "resolve upload destination")
	assert.Contains(t, rec.Error, "presign backend unavailable")
	assertNoneStarted(t, transport.started)
}

func TestQueue_CancelUploading(t *testing.T) {
	errorCalls := 0
	var mu sync.Mutex

	transport := newFakeTransport(true)
	config := DefaultConfig()
	config.MaxConcurrent = 1
	config.OnError = func(error, Record) {
		mu.Lock()
		errorCalls++
		mu.Unlock()
	}

	q, err := NewQueue(config, &fakeResolver{}, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(textFile("big.bin", "payload"), textFile("next.bin", "payload"))
	receiveStarted(t, transport.started)

	q.CancelUpload(added[0].ID)
	rec := waitForStatus(t, q, added[0].ID, StatusError)
	assert.Equal(t, CancelledMessage, rec.Error)

	// the freed slot admits the queued record
	receiveStarted(t, transport.started)
	transport.proceed <- nil
	waitForStatus(t, q, added[1].ID, StatusComplete)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, errorCalls, "cancellation must not invoke OnError")
}

func TestQueue_CancelQueued(t *testing.T) {
	transport := newFakeTransport(true)
	config := DefaultConfig()
	config.MaxConcurrent = 1

	q, err := NewQueue(config, &fakeResolver{}, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(textFile("running.txt", "a"), textFile("waiting.txt", "b"))
	receiveStarted(t, transport.started)

	q.CancelUpload(added[1].ID)
	rec, ok := q.Item(added[1].ID)
	require.True(t, ok)
	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, CancelledMessage, rec.Error)

	// the cancelled record must not be admitted once the slot frees up
	transport.proceed <- nil
	waitForStatus(t, q, added[0].ID, StatusComplete)
	assertNoneStarted(t, transport.started)
}

func TestQueue_CancelTerminalIsNoop(t *testing.T) {
	transport := newFakeTransport(false)
	q, err := NewQueue(DefaultConfig(), &fakeResolver{}, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(textFile("done.txt", "data"))
	waitForStatus(t, q, added[0].ID, StatusComplete)

	q.CancelUpload(added[0].ID)
	rec, ok := q.Item(added[0].ID)
	require.True(t, ok)
	assert.Equal(t, StatusComplete, rec.Status)
	assert.Empty(t, rec.Error)
}

func TestQueue_Retry(t *testing.T) {
	resolver := &fakeResolver{}
	transport := newFakeTransport(false)
	transport.failFirst = 1

	q, err := NewQueue(DefaultConfig(), resolver, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(textFile("retry.txt", "data"))
	rec := waitForStatus(t, q, added[0].ID, StatusError)
	assert.Contains(t, rec.Error, "transfer failed")

	q.RetryUpload(added[0].ID)
	rec = waitForStatus(t, q, added[0].ID, StatusComplete)
	assert.Equal(t, 100, rec.Progress)
	assert.Empty(t, rec.Error)

	// each attempt resolves a fresh destination
	assert.Equal(t, 2, resolver.callCount())
	assert.Equal(t, 2, transport.sendCount())
}

func TestQueue_RetryNonErrorIsNoop(t *testing.T) {
	transport := newFakeTransport(true)
	config := DefaultConfig()
	config.AutoUpload = false

	q, err := NewQueue(config, &fakeResolver{}, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(textFile("idle.txt", "data"))
	q.RetryUpload(added[0].ID)

	rec, ok := q.Item(added[0].ID)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, rec.Status)
	// RetryUpload re-runs admission, so the queued record starts even in manual mode
	receiveStarted(t, transport.started)
	transport.proceed <- nil
	waitForStatus(t, q, added[0].ID, StatusComplete)
}

func TestQueue_RemoveItem(t *testing.T) {
	transport := newFakeTransport(true)
	config := DefaultConfig()
	config.MaxConcurrent = 1

	q, err := NewQueue(config, &fakeResolver{}, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(textFile("removed.txt", "a"), textFile("kept.txt", "b"))
	receiveStarted(t, transport.started)

	q.RemoveItem(added[0].ID)
	_, ok := q.Item(added[0].ID)
	assert.False(t, ok)

	// the aborted transfer drains and the queued record takes its place
	receiveStarted(t, transport.started)
	transport.proceed <- nil
	waitForStatus(t, q, added[1].ID, StatusComplete)

	require.Eventually(t, func() bool {
		return transport.activeCount() == 0
	}, settleTimeout, pollInterval)
	assert.Len(t, q.Records(), 1)
}

func TestQueue_ClearCompleted(t *testing.T) {
	transport := newFakeTransport(true)
	config := DefaultConfig()
	config.MaxConcurrent = 1

	q, err := NewQueue(config, &fakeResolver{}, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(
		textFile("ok.txt", "a"),
		textFile("bad.txt", "b"),
		textFile("active.txt", "c"),
		textFile("pending.txt", "d"),
	)

	receiveStarted(t, transport.started)
	transport.proceed <- nil
	waitForStatus(t, q, added[0].ID, StatusComplete)

	receiveStarted(t, transport.started)
	transport.proceed <- errors.New("boom")
	waitForStatus(t, q, added[1].ID, StatusError)

	receiveStarted(t, transport.started)

	removed := q.ClearCompleted()
	assert.Equal(t, 2, removed)

	records := q.Records()
	require.Len(t, records, 2)
	assert.Equal(t, added[2].ID, records[0].ID)
	assert.Equal(t, StatusUploading, records[0].Status)
	assert.Equal(t, added[3].ID, records[1].ID)
	assert.Equal(t, StatusQueued, records[1].Status)

	transport.proceed <- nil
	receiveStarted(t, transport.started)
	transport.proceed <- nil
	require.Eventually(t, func() bool {
		return q.Summary().Complete == 2
	}, settleTimeout, pollInterval)
}

func TestQueue_AcceptFilter(t *testing.T) {
	transport := newFakeTransport(false)
	config := DefaultConfig()
	config.Accept = []string{"image/*"}

	q, err := NewQueue(config, &fakeResolver{}, transport, nil)
	require.NoError(t, err)

	added := q.AddFiles(
		File{Name: "photo.png", Size: 3, ContentType: "image/png", Source: BytesSource("png")},
		File{Name: "notes.txt", Size: 3, ContentType: "text/plain", Source: BytesSource("txt")},
	)

	waitForStatus(t, q, added[0].ID, StatusComplete)

	rejected, ok := q.Item(added[1].ID)
	require.True(t, ok)
	assert.Equal(t, StatusError, rejected.Status)
	assert.Contains(t, rejected.Error, "not allowed")
}
