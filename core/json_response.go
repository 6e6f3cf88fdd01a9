package core

import (
	"encoding/json"
	"maps"
	"net/http"
)

// JSONResponse is the standard JSON envelope returned by all endpoints.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail contains error information surfaced to the client.
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

// ValidationError maps field names to validation failure messages.
type ValidationError map[string][]string

// Error implements the error interface.
func (v ValidationError) Error() string {
	return "validation failed"
}

// WriteJSON renders data in the standard envelope with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any, meta map[string]any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{Data: data, Meta: meta})
}

// WriteError renders an error in the standard envelope. HTTPError values
// control the status and key; ValidationError renders field details; any
// other error becomes an opaque 500 so internals never leak to the caller.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := &ErrorDetail{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}

	switch e := err.(type) {
	case ValidationError:
		status = http.StatusUnprocessableEntity
		detail.Code = "validation_error"
		detail.Message = "validation failed"
		if len(e) > 0 {
			detail.Details = make(map[string][]string, len(e))
			maps.Copy(detail.Details, e)
		}
	case HTTPError:
		status = e.Code
		detail.Code = e.Key
		detail.Message = http.StatusText(e.Code)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{Error: detail})
}
