package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type errorResponse struct {
	Error string            `json:"error"`
	Class domain.ErrorClass `json:"class"`
}

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, domain.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	switch domain.Classify(err) {
	case domain.ClassStateGate, domain.ClassIdempotent:
		return http.StatusConflict
	case domain.ClassInvariant:
		return http.StatusUnprocessableEntity
	case domain.ClassInput:
		return http.StatusBadRequest
	case domain.ClassNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports a failed pool operation. The class tells
// submitters whether to retry, recompute or give up. Internal errors are
// logged and their detail withheld.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = op + " failed"
	}
	writeJSON(w, status, errorResponse{Error: msg, Class: domain.Classify(err)})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination and filter parameters from the
// query string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	if v := q.Get("state"); v != "" {
		var s domain.PoolState
		if err := s.UnmarshalText([]byte(v)); err != nil {
			return opts, err
		}
		opts.State = &s
	}
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = &t
	}
	return opts, nil
}

// poolParam extracts the {address} path parameter.
func poolParam(r *http.Request) (common.Address, error) {
	v := r.PathValue("address")
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid pool address %q", v)
	}
	return common.HexToAddress(v), nil
}

// tokenParam extracts the {token} path parameter.
func tokenParam(r *http.Request) (uint64, error) {
	v := r.PathValue("token")
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q", v)
	}
	return id, nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
