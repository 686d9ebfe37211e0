package presign

import (
	"encoding/json"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
)

type handlerRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type handlerResponse struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Key       string            `json:"key"`
	PublicURL string            `json:"publicUrl"`
	ExpiresIn int64             `json:"expiresIn"`
}

type handlerError struct {
	Error string `json:"error"`
}

// NewHandler exposes the service as the destination resolver endpoint consumed
// by the upload queue: POST {fileName, contentType, size} returns a presigned
// destination as JSON.
func NewHandler(service *Service, logger log.Logger) http.Handler {
	if logger == nil {
		logger = log.NewLogger()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", logger)
			return
		}

		var req handlerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", logger)
			return
		}
		if req.FileName == "" {
			writeError(w, http.StatusBadRequest, "fileName must not be empty", logger)
			return
		}
		if req.Size < 0 {
			writeError(w, http.StatusBadRequest, "size must not be negative", logger)
			return
		}

		dest, err := service.UploadURL(r.Context(), UploadRequest{
			FileName:    req.FileName,
			ContentType: req.ContentType,
			Size:        req.Size,
		})
		if err != nil {
			logger.Errorf("presign upload URL: %s", err)
			writeError(w, http.StatusInternalServerError, "failed to presign upload URL", logger)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(handlerResponse{
			URL:       dest.URL,
			Method:    dest.Method,
			Headers:   dest.Headers,
			Key:       dest.Key,
			PublicURL: dest.PublicURL,
			ExpiresIn: dest.ExpiresIn,
		}); err != nil {
			logger.Errorf("encode response: %s", err)
		}
	})
}

func writeError(w http.ResponseWriter, status int, message string, logger log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(handlerError{Error: message}); err != nil {
		logger.Errorf("encode error response: %s", err)
	}
}
