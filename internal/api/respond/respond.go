// Package respond writes the {data, error, meta} envelope shared by every endpoint.
package respond

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mycelian/cockpit/internal/model"
)

// Error codes of the public taxonomy.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
)

type Envelope struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
	Meta  Meta   `json:"meta"`
}

type Error struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	RetryAfterSec int    `json:"retry_after_sec,omitempty"`
}

type Meta struct {
	TS string `json:"ts"`
}

// Now stamps meta.ts. Tests may replace it.
var Now = func() time.Time { return time.Now().UTC() }

func meta() Meta { return Meta{TS: Now().UTC().Format(time.RFC3339)} }

func write(w http.ResponseWriter, statusCode int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteJSON writes data inside the envelope.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	write(w, statusCode, Envelope{Data: data, Meta: meta()})
}

// WriteError writes an error envelope with a null data field.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	write(w, statusCode, Envelope{Error: &Error{Code: code, Message: message}, Meta: meta()})
}

// WriteBadRequest writes a 400 VALIDATION_ERROR.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidation, message)
}

// WriteUnauthorized writes a 401.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// WriteInternalError writes a 500 without leaking err details.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, message)
}

// WriteRateLimited writes a 429 with a whole-second retry hint and Retry-After header.
func WriteRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	write(w, http.StatusTooManyRequests, Envelope{
		Error: &Error{Code: CodeRateLimited, Message: "too many requests", RetryAfterSec: secs},
		Meta:  meta(),
	})
}

// WriteErr classifies err against the model sentinels. Unclassified errors are
// logged on the request logger and reported as INTERNAL_ERROR.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteBadRequest(w, ve.Error())
	case errors.Is(err, model.ErrValidation):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, model.ErrForbidden):
		WriteError(w, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, model.ErrNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, "not found")
	case errors.Is(err, model.ErrConflict):
		WriteError(w, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, model.ErrRateLimited):
		WriteRateLimited(w, time.Second)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		WriteInternalError(w, "internal error")
	}
}
