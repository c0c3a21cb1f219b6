// Package endpoint defines the contract with the authoritative sync
// endpoint. The endpoint decides success vs. conflict by comparing the
// submitted checksum against its record; the orchestrator trusts that
// classification verbatim.
package endpoint

import (
	"context"
	"encoding/json"
)

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeConflict Outcome = "conflict"
	OutcomeError    Outcome = "error"
)

type Request struct {
	UserKey    string          `json:"userKey"`
	DeviceID   string          `json:"deviceId"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Checksum   string          `json:"checksum"`
}

type Result struct {
	Outcome          Outcome         `json:"outcome"`
	BytesTransferred int64           `json:"bytesTransferred,omitempty"`
	ConflictType     string          `json:"conflictType,omitempty"`
	ServerData       json.RawMessage `json:"serverData,omitempty"`
	Message          string          `json:"message,omitempty"`
}

// Endpoint pushes one mutation to the server. A transport error (timeout
// included) is a retryable failure, equivalent to OutcomeError.
type Endpoint interface {
	Push(ctx context.Context, req Request) (*Result, error)
}
