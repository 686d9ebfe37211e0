package upload

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/uploadkit-io/go-uploadkit/upload/network"
)

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeResolver) Resolve(ctx context.Context, file network.FileInfo) (network.Destination, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.err != nil {
		return network.Destination{}, r.err
	}
	return network.Destination{
		URL:       "https://storage.example.com/uploads/" + file.FileName,
		Method:    "PUT",
		Headers:   map[string]string{"Content-Type": file.ContentType},
		Key:       "uploads/" + file.FileName,
		PublicURL: "https://cdn.example.com/uploads/" + file.FileName,
		ExpiresIn: 900,
	}, nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeTransport counts concurrent sends and can hold transfers open until the
// test releases them through the proceed channel.
type fakeTransport struct {
	mu        sync.Mutex
	active    int
	maxActive int
	sends     int

	err       error
	failFirst int
	block     bool

	started chan string
	proceed chan error
}

func newFakeTransport(block bool) *fakeTransport {
	return &fakeTransport{
		block:   block,
		started: make(chan string, 64),
		proceed: make(chan error, 64),
	}
}

func (t *fakeTransport) Send(ctx context.Context, dest network.Destination, body io.Reader, size int64, progress func(int64)) error {
	t.mu.Lock()
	t.active++
	if t.active > t.maxActive {
		t.maxActive = t.active
	}
	t.sends++
	sendIndex := t.sends
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.active--
		t.mu.Unlock()
	}()

	t.started <- dest.Key

	if t.block {
		select {
		case err := <-t.proceed:
			if err == nil && progress != nil {
				progress(size)
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if sendIndex <= t.failFirst {
		return errors.New("transfer failed")
	}
	if t.err != nil {
		return t.err
	}

	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	if progress != nil {
		progress(size / 2)
		progress(size)
	}
	return nil
}

func (t *fakeTransport) maxConcurrent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxActive
}

func (t *fakeTransport) activeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *fakeTransport) sendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sends
}
