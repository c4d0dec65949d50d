package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"autojs-hub/backend/app/dispatch"
	"autojs-hub/backend/app/dto"
	"autojs-hub/backend/app/models"
)

// maxBody bounds request bodies; reports carry script output and are the largest.
const maxBody = 4 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, dto.ErrorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
}

func pathID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// statusFor maps service and engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case dispatch.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, dispatch.ErrMalformedReport),
		errors.Is(err, dispatch.ErrInvalidInstruction),
		errors.Is(err, models.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrTaskTerminal),
		errors.Is(err, dispatch.ErrTaskPaused),
		errors.Is(err, dispatch.ErrTaskNotPaused):
		return http.StatusConflict
	case dispatch.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
