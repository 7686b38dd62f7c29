package server

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/fleetward/fleetward/internal/updater"
)

// ErrorResponse is the JSON body of any non-success API response.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// writeJSONObject simply writes object to the HTTP response in JSON format
func writeJSONObject(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Errorf("failed encoding response: %v", err)
	}
}

// writeErrorResponse prepares and writes an error response in JSON
func writeErrorResponse(errMsg string, httpStatus int, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(httpStatus)
	err := json.NewEncoder(w).Encode(&ErrorResponse{
		Message: errMsg,
		Code:    httpStatus,
	})
	if err != nil {
		http.Error(w, "failed handling request", http.StatusInternalServerError)
	}
}

// writeError maps engine errors onto HTTP statuses.
func writeError(err error, w http.ResponseWriter) {
	log.Errorf("got a handler error: %s", err)

	var detectionErr *updater.DetectionError
	var executionErr *updater.ExecutionError
	switch {
	case errors.Is(err, updater.ErrNoPendingUpdate):
		writeErrorResponse(err.Error(), http.StatusNotFound, w)
	case errors.As(err, &detectionErr):
		writeErrorResponse(err.Error(), http.StatusBadGateway, w)
	case errors.As(err, &executionErr):
		writeErrorResponse(err.Error(), http.StatusInternalServerError, w)
	default:
		writeErrorResponse("internal server error", http.StatusInternalServerError, w)
	}
}
