package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidAction is returned when model output is not a usable action object.
var ErrInvalidAction = errors.New("conversation: invalid action")

// Action is the structured reply the model is asked to produce.
type Action struct {
	Reply      string       `json:"reply"`
	Flow       string       `json:"flow,omitempty"`
	Name       string       `json:"name,omitempty"`
	DocumentID string       `json:"document_id,omitempty"`
	Time       string       `json:"time,omitempty"`
	Book       *BookRequest `json:"book,omitempty"`
}

// BookRequest asks the processor to create an appointment.
type BookRequest struct {
	Date            string `json:"date,omitempty"`
	Time            string `json:"time,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// ParseAction extracts the action object from model output. Code fences and
// prose around the object are tolerated.
func ParseAction(raw string) (Action, error) {
	text := strings.TrimSpace(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Action{}, fmt.Errorf("%w: no json object", ErrInvalidAction)
	}
	var action Action
	if err := json.Unmarshal([]byte(text[start:end+1]), &action); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	action.Reply = strings.TrimSpace(action.Reply)
	action.Name = strings.TrimSpace(action.Name)
	action.DocumentID = strings.TrimSpace(action.DocumentID)
	action.Flow = strings.TrimSpace(action.Flow)
	action.Time, _ = normalizeClock(action.Time)
	if action.Book != nil {
		action.Book.Date = strings.TrimSpace(action.Book.Date)
		action.Book.Time, _ = normalizeClock(action.Book.Time)
	}
	if action.Reply == "" && action.Book == nil {
		return Action{}, fmt.Errorf("%w: empty reply", ErrInvalidAction)
	}
	return action, nil
}

// normalizeClock returns "HH:MM" for valid 24h clock values and "" otherwise.
func normalizeClock(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return "", false
	}
	return t.Format("15:04"), true
}
