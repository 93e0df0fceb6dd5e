package amqpnotify

import (
	"encoding/json"
	"time"
)

// ChangeMessage announces that a collection key changed on the remote.
// Source identifies the publishing client so instances can skip their own
// writes; the value itself travels through the remote store, not the
// broker.
type ChangeMessage struct {
	Key       string    `json:"key"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChangeMessage(key, source string) *ChangeMessage {
	return &ChangeMessage{
		Key:       key,
		Source:    source,
		Timestamp: time.Now(),
	}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var m ChangeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
