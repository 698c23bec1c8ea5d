// Package sessions persists per-sender conversation state: the patient's
// name and identity document, the current flow and free-form metadata such as
// the date and time the patient is negotiating.
package sessions

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/dental-booking-platform/internal/scheduling"
)

// Metadata keys written by the conversation processor.
const (
	MetaPendingDate = "pending_date"
	MetaPendingTime = "pending_time"
	MetaLastReply   = "last_reply"
)

// Session is one sender's conversation state.
type Session struct {
	Sender     string         `json:"sender"`
	Name       string         `json:"name,omitempty"`
	DocumentID string         `json:"document_id,omitempty"`
	Flow       string         `json:"flow,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// PendingDate returns the last date the patient stated, if any.
func (s *Session) PendingDate() (scheduling.Date, bool) {
	if s == nil {
		return scheduling.Date{}, false
	}
	raw, _ := s.Metadata[MetaPendingDate].(string)
	if raw == "" {
		return scheduling.Date{}, false
	}
	d, err := scheduling.ParseDate(raw)
	if err != nil {
		return scheduling.Date{}, false
	}
	return d, true
}

// PendingTime returns the last "HH:MM" the patient chose, if any.
func (s *Session) PendingTime() string {
	if s == nil {
		return ""
	}
	raw, _ := s.Metadata[MetaPendingTime].(string)
	return strings.TrimSpace(raw)
}

// Update is a partial write. Nil fields and absent metadata keys leave the
// stored values untouched.
type Update struct {
	Name       *string
	DocumentID *string
	Flow       *string
	Metadata   map[string]any
}

// IsEmpty reports whether the update would change nothing.
func (u Update) IsEmpty() bool {
	return u.Name == nil && u.DocumentID == nil && u.Flow == nil && len(u.Metadata) == 0
}

// SetMeta records a metadata key on the update.
func (u *Update) SetMeta(key string, value any) {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = value
}

// Store reads and merge-writes sessions.
type Store interface {
	// Get returns nil, nil when the sender has no session.
	Get(ctx context.Context, sender string) (*Session, error)
	Upsert(ctx context.Context, sender string, update Update) error
}

// ApplyResolvedDate records the date stated in text as the pending date. When
// the text states no date the update is left alone, so a previously resolved
// date survives.
func ApplyResolvedDate(update *Update, text string, now time.Time) (scheduling.Date, bool) {
	date, ok := scheduling.ResolveDate(text, now)
	if !ok {
		return scheduling.Date{}, false
	}
	update.SetMeta(MetaPendingDate, date.String())
	return date, true
}

// String returns a pointer to s, for building an Update.
func String(s string) *string {
	return &s
}
