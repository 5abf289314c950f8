package amqp

import (
	"encoding/json"
	"time"

	"cestinha/internal/core"
)

// PurchaseSyncMessage carries a finalized purchase to the history
// worker. The full snapshot travels in the message because the
// purchase exists only on the publishing device until the worker
// stores it.
type PurchaseSyncMessage struct {
	Purchase  core.Purchase `json:"purchase"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewPurchaseSyncMessage(p core.Purchase) *PurchaseSyncMessage {
	return &PurchaseSyncMessage{
		Purchase:  p,
		Timestamp: time.Now(),
	}
}

func (m *PurchaseSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func PurchaseSyncMessageFromJSON(data []byte) (*PurchaseSyncMessage, error) {
	var msg PurchaseSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
