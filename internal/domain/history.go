package domain

import (
	"encoding/json"
	"time"
)

// HistoryEntry represents a record of a gRPC call for later inspection
type HistoryEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Endpoint  string            `json:"endpoint"`            // host:port
	Method    string            `json:"method"`              // Method reference as given, e.g. "pkg.Svc/Method"
	Request   json.RawMessage   `json:"request"`             // JSON request body
	Responses []json.RawMessage `json:"responses,omitempty"` // Decoded responses in arrival order
	Shape     string            `json:"shape,omitempty"`     // "unary", "server_streaming", ...
	Duration  time.Duration     `json:"duration"`
	Status    string            `json:"status"` // "success" or "error"
	Error     string            `json:"error,omitempty"`
	Headers   []Header          `json:"headers,omitempty"`
}

// RecentEndpoint tracks an endpoint used by a past call.
type RecentEndpoint struct {
	Endpoint  string    `json:"endpoint"`
	Plaintext bool      `json:"plaintext"`
	LastUsed  time.Time `json:"last_used"`
}

// SavedRequest is a named call that can be replayed later. Headers are
// replayed in the order they were given.
type SavedRequest struct {
	Name      string          `json:"name"`
	Endpoint  string          `json:"endpoint,omitempty"`
	Plaintext bool            `json:"plaintext,omitempty"`
	Method    string          `json:"method"`
	Body      json.RawMessage `json:"body,omitempty"`
	Headers   []Header        `json:"headers,omitempty"`
	SavedAt   time.Time       `json:"saved_at"`
}
