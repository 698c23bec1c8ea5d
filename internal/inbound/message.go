// Package inbound fans inbound patient messages out to the debounce
// coordinator, either directly or through a queue.
package inbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one inbound text fragment as carried on the queue.
type Message struct {
	EventID    string    `json:"event_id"`
	Sender     string    `json:"sender"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Encode serializes m, assigning an event id if it has none.
func (m Message) Encode() (string, error) {
	if strings.TrimSpace(m.Sender) == "" {
		return "", errors.New("inbound: message sender required")
	}
	if m.EventID == "" {
		m.EventID = uuid.NewString()
	}
	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("inbound: encode message: %w", err)
	}
	return string(body), nil
}

func DecodeMessage(body string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return Message{}, fmt.Errorf("inbound: decode message: %w", err)
	}
	if strings.TrimSpace(m.Sender) == "" {
		return Message{}, errors.New("inbound: decoded message has no sender")
	}
	return m, nil
}
