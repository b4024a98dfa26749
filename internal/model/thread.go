package model

import (
	"slices"
	"time"
)

// Thread is a chronologically ordered run of messages judged to belong to one
// conversation.
type Thread struct {
	ID           string    `json:"id" yaml:"id"`
	Subject      string    `json:"subject" yaml:"subject"`
	Category     string    `json:"category,omitempty" yaml:"category,omitempty"`
	Participants []string  `json:"participants" yaml:"participants"`
	Start        time.Time `json:"start" yaml:"start"`
	End          time.Time `json:"end" yaml:"end"`
	Messages     []Message `json:"messages" yaml:"messages"`
}

// NewThread creates an empty thread.
func NewThread(id string) *Thread {
	return &Thread{ID: id, Participants: []string{}}
}

// Append adds m to the end of the thread and folds its addresses and date
// into the participant set and the time span.
func (t *Thread) Append(m Message) {
	if len(t.Messages) == 0 {
		t.Subject = m.Subject
	}
	t.Messages = append(t.Messages, m)
	for _, addr := range m.Participants() {
		if i, found := slices.BinarySearch(t.Participants, addr); !found {
			t.Participants = slices.Insert(t.Participants, i, addr)
		}
	}
	if m.HasDate() {
		if t.Start.IsZero() || m.Date.Before(t.Start) {
			t.Start = m.Date
		}
		if m.Date.After(t.End) {
			t.End = m.Date
		}
	}
}

// HasParticipant reports whether addr (already normalized) took part.
func (t *Thread) HasParticipant(addr string) bool {
	_, found := slices.BinarySearch(t.Participants, addr)
	return found
}

// Len returns the number of messages in the thread.
func (t *Thread) Len() int {
	return len(t.Messages)
}

// AttachmentCount counts attachment references across all messages.
func (t *Thread) AttachmentCount() int {
	n := 0
	for i := range t.Messages {
		n += len(t.Messages[i].Attachments)
	}
	return n
}

// MessageIDs lists message IDs in thread order.
func (t *Thread) MessageIDs() []string {
	ids := make([]string, len(t.Messages))
	for i := range t.Messages {
		ids[i] = t.Messages[i].ID
	}
	return ids
}

// ThreadGroup consolidates threads that share a category label. Uncategorized
// threads form singleton groups with an empty Key.
type ThreadGroup struct {
	ID          string       `json:"id" yaml:"id"`
	Key         string       `json:"key,omitempty" yaml:"key,omitempty"`
	Label       string       `json:"label,omitempty" yaml:"label,omitempty"`
	ThreadIDs   []string     `json:"thread_ids" yaml:"thread_ids"`
	Messages    []Message    `json:"messages" yaml:"messages"`
	Attachments []Attachment `json:"attachments" yaml:"attachments"`

	Threads []*Thread `json:"-" yaml:"-"`
}

// Categorized reports whether the group was formed from a category label.
func (g *ThreadGroup) Categorized() bool {
	return g.Key != ""
}
