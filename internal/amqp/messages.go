package amqp

import (
	"encoding/json"
	"time"
)

// ReplicaUpdateMessage announces that an actor has written the family
// replica. It intentionally carries no budget data: receivers fetch the
// full document themselves, so a late or re-ordered notification can never
// apply a stale snapshot.
type ReplicaUpdateMessage struct {
	FamilyRef string    `json:"familyRef"`
	Actor     string    `json:"actor"`
	UpdatedAt string    `json:"updatedAt"` // core.Timestamp wire form
	Timestamp time.Time `json:"timestamp"`
}

// NewReplicaUpdateMessage builds a notification for one replica write.
func NewReplicaUpdateMessage(familyRef, actor, updatedAt string) *ReplicaUpdateMessage {
	return &ReplicaUpdateMessage{
		FamilyRef: familyRef,
		Actor:     actor,
		UpdatedAt: updatedAt,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *ReplicaUpdateMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReplicaUpdateMessageFromJSON parses a notification from JSON bytes.
func ReplicaUpdateMessageFromJSON(data []byte) (*ReplicaUpdateMessage, error) {
	var msg ReplicaUpdateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
