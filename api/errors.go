package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmcleod/clubhouse/identity"
	"github.com/jmcleod/clubhouse/identity/local"
	"github.com/jmcleod/clubhouse/mail"
	"github.com/jmcleod/clubhouse/records"
	"github.com/jmcleod/clubhouse/storage"
)

const (
	maxAuthBodySize   = 8 << 10
	maxRecordBodySize = 64 << 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError logs err and responds with a generic 500 so internal
// details never reach the client.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// decodeJSON reads a JSON body of at most limit bytes into a T. On failure
// it writes a 400 or 413 response and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// mapError writes the response for a domain error.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, records.ErrValidation),
		errors.Is(err, local.ErrInvalidEmail),
		errors.Is(err, local.ErrWeakPassword),
		errors.Is(err, mail.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, records.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, local.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, records.ErrInvalidTransition),
		errors.Is(err, local.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		writeInternalError(w, "internal error", err)
	}
}

// writeResult writes res.Data with status on success and maps res.Err
// otherwise.
func writeResult[T any](w http.ResponseWriter, status int, res records.Result[T]) bool {
	if !res.Success {
		mapError(w, res.Err)
		return false
	}
	writeJSON(w, status, res.Data)
	return true
}
