// Package handlers implements the REST surface of the gateway: uploads,
// downloads, room helpers, and share-link management.
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/wire"
)

// Envelope is the uniform JSON shape of every non-streaming response.
// Code is populated on failures so clients can branch without parsing the
// message text.
type Envelope struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Code    wire.Code `json:"code,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
//
// Encoding goes to a buffer first so an encoding failure can still produce
// an error response before any headers are sent.
func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
		http.Error(w, `{"success":false,"code":"internal","message":"failed to encode response"}`,
			http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// WriteJSONOK writes a 200 OK data response.
func WriteJSONOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// WriteJSONCreated writes a 201 Created data response.
func WriteJSONCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

// WriteNoContent writes a 204 No Content response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError maps err onto its wire code and status. Unknown errors become
// an opaque internal failure; their detail stays in the server log.
func WriteError(w http.ResponseWriter, err error) {
	code := wire.CodeOf(err)
	body := Envelope{Code: code}
	if we, ok := err.(*wire.Error); ok {
		body.Message = we.Detail
	} else {
		logger.Error("Request failed", "error", err)
	}
	writeJSON(w, code.HTTPStatus(), body)
}

// WriteCode writes an error response from a bare code and message.
func WriteCode(w http.ResponseWriter, code wire.Code, message string) {
	writeJSON(w, code.HTTPStatus(), Envelope{Code: code, Message: message})
}

const maxBodySize = 1 << 20 // JSON bodies only; uploads go through multipart

// decodeJSONBody decodes the request body into dst, answering the request
// itself on failure. Returns false when the caller should stop.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		WriteCode(w, wire.CodeInvalidPayload, "malformed JSON body")
		return false
	}
	return true
}
