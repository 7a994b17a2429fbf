// Package endpoints defines every HTTP route and its paired CLI command.
package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jackzampolin/tome/internal/enrich"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// Metadata annotates every JSON response. The cache fields are present only
// on enrichment responses served from a cache tier.
type Metadata struct {
	Timestamp      string `json:"timestamp"`
	ProcessingTime int64  `json:"processingTime"`
	Provider       string `json:"provider,omitempty"`
	Cached         bool   `json:"cached,omitempty"`
	CacheSource    string `json:"cacheSource,omitempty"`
	AgeSeconds     int64  `json:"ageSeconds,omitempty"`
}

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope is the shape of every JSON response. Data is null exactly when
// Error is present.
type Envelope struct {
	Data     any        `json:"data"`
	Metadata Metadata   `json:"metadata"`
	Error    *ErrorBody `json:"error,omitempty"`
}

func newMetadata(started time.Time) Metadata {
	return Metadata{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		ProcessingTime: time.Since(started).Milliseconds(),
	}
}

// withEnrichMeta folds orchestrator metadata into the envelope metadata.
func withEnrichMeta(m Metadata, em enrich.Meta) Metadata {
	m.Provider = em.Provider
	m.Cached = em.Cached
	m.CacheSource = em.CacheSource
	m.AgeSeconds = em.AgeSeconds
	return m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any, meta Metadata) {
	writeJSON(w, status, Envelope{Data: data, Metadata: meta})
}

// writeError maps a coded error onto its HTTP status and writes the error
// envelope. Uncoded errors surface as INTERNAL_ERROR.
func writeError(w http.ResponseWriter, started time.Time, err error) {
	body := &ErrorBody{
		Code:    string(tomerr.CodeInternalError),
		Message: "internal error",
	}
	var te *tomerr.Error
	if errors.As(err, &te) {
		body.Code = string(te.Code)
		body.Message = te.Message
		body.Details = te.Details
	}
	writeJSON(w, tomerr.HTTPStatus(tomerr.Code(body.Code)), Envelope{
		Metadata: newMetadata(started),
		Error:    body,
	})
}

// writeErrorCode writes an error envelope from a code and message directly.
func writeErrorCode(w http.ResponseWriter, started time.Time, code tomerr.Code, message string) {
	writeError(w, started, tomerr.New(code, message))
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
