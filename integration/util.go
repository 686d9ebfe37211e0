//go:build integration
// +build integration

package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
)

var logger = log.NewLogger()

func checksumOf(bytes []byte) string {
	hash := sha256.New()
	hash.Write(bytes)
	return hex.EncodeToString(hash.Sum(nil))
}

// objectStore is an in-memory stand-in for a presigned-URL blob store:
// PUT /<key> stores the body, GET /<key> serves it back.
type objectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	server  *httptest.Server
}

func newObjectStore() *objectStore {
	store := &objectStore{objects: map[string][]byte{}}
	store.server = httptest.NewServer(http.HandlerFunc(store.handle))
	return store
}

func (s *objectStore) handle(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		s.objects[key] = body
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.mu.Lock()
		body, ok := s.objects[key]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		if _, err := w.Write(body); err != nil {
			logger.Errorf("write object: %s", err)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *objectStore) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[key]
	return body, ok
}

func (s *objectStore) close() {
	s.server.Close()
}

// newResolverServer issues destinations pointing at the object store,
// mimicking a presign backend.
func newResolverServer(store *objectStore) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FileName    string `json:"fileName"`
			ContentType string `json:"contentType"`
			Size        int64  `json:"size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
			return
		}

		key := "uploads/" + req.FileName
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"url":       store.server.URL + "/" + key,
			"method":    http.MethodPut,
			"headers":   map[string]string{"Content-Type": req.ContentType},
			"key":       key,
			"publicUrl": store.server.URL + "/" + key,
			"expiresIn": 900,
		})
	}))
}
