package amqp

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Reasons a sync can be requested for.
const (
	ReasonManual    = "manual"
	ReasonScheduled = "scheduled"
	ReasonWebhook   = "webhook"
)

var ErrMissingOwner = errors.New("sync request without owner_id")

// SyncRequestMessage asks a worker to pull and reconcile one owner's
// transactions. It carries only the owner; the worker resolves everything
// else from storage.
type SyncRequestMessage struct {
	OwnerID     string    `json:"owner_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewSyncRequestMessage(ownerID, reason string) *SyncRequestMessage {
	if reason == "" {
		reason = ReasonManual
	}
	return &SyncRequestMessage{
		OwnerID:     ownerID,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
}

func (m *SyncRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncRequestMessageFromJSON decodes and validates a message body.
func SyncRequestMessageFromJSON(data []byte) (*SyncRequestMessage, error) {
	var msg SyncRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	msg.OwnerID = strings.TrimSpace(msg.OwnerID)
	if msg.OwnerID == "" {
		return nil, ErrMissingOwner
	}
	return &msg, nil
}
