package problem

import (
	"net/http"

	json "github.com/goccy/go-json"
)

const (
	TypeValidation   = "https://arcims.se/problems/validation-error"
	TypeNotFound     = "https://arcims.se/problems/not-found"
	TypeConflict     = "https://arcims.se/problems/conflict"
	TypeUnauthorized = "https://arcims.se/problems/unauthorized"
	TypeUpstream     = "https://arcims.se/problems/upstream-error"
	TypeInternal     = "https://arcims.se/problems/internal-error"
)

// Details is an RFC 7807 problem document.
type Details struct {
	Type   string              `json:"type,omitempty"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

// New builds a problem document.
func New(title, detail, problemType string, status int) Details {
	return Details{Type: problemType, Title: title, Status: status, Detail: detail}
}

// Write renders the problem as application/problem+json.
func Write(w http.ResponseWriter, p Details) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteJSON renders a success payload.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
