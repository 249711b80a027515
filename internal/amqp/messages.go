package amqp

import (
	"encoding/json"
	"time"
)

const (
	OpSync   = "sync"
	OpDelete = "delete"
)

// BillMessage is the lightweight queue payload: the worker fetches the full
// bill from local storage by id, so only the id and operation travel.
// Deletes additionally carry WasSynced so the worker knows whether a server
// copy exists to remove.
type BillMessage struct {
	Op        string    `json:"op"`
	ID        string    `json:"id"`
	WasSynced bool      `json:"was_synced,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSyncMessage creates a message asking the worker to push bill id.
func NewSyncMessage(id string) *BillMessage {
	return &BillMessage{Op: OpSync, ID: id, Timestamp: time.Now()}
}

// NewDeleteMessage creates a message asking the worker to delete bill id
// from the backend.
func NewDeleteMessage(id string, wasSynced bool) *BillMessage {
	return &BillMessage{Op: OpDelete, ID: id, WasSynced: wasSynced, Timestamp: time.Now()}
}

// ToJSON converts the message to JSON bytes
func (m *BillMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BillMessageFromJSON creates a message from JSON bytes
func BillMessageFromJSON(data []byte) (*BillMessage, error) {
	var msg BillMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
