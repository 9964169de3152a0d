package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/engine"
	"github.com/boardroomhq/boardroom/internal/kpi"
	"github.com/boardroomhq/boardroom/internal/store"
)

// errorBody is the JSON shape every failed request gets back.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps engine and store errors onto a wire code and HTTP status.
// The websocket pumps reuse the code for ERROR frames.
func classify(err error) (string, int) {
	var ve *engine.ValidationError
	var pe *kpi.ProcessingError
	switch {
	case errors.As(err, &ve):
		return "VALIDATION", http.StatusBadRequest
	case errors.Is(err, errUnsupportedMessage):
		return "UNSUPPORTED_MESSAGE", http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicateSubmission):
		return "DUPLICATE_SUBMISSION", http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable):
		return "STORE_UNAVAILABLE", http.StatusServiceUnavailable
	case errors.As(err, &pe):
		return "PROCESSING_ERROR", http.StatusBadGateway
	default:
		return "INTERNAL", http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("failed to write response body: %v", err)
	}
}
