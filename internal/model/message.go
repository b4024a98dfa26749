package model

import "time"

// Message is a parsed, normalized email record. It is never mutated once the
// parser hands it over.
type Message struct {
	ID          string       `json:"id" yaml:"id"`
	SourcePath  string       `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	Sender      string       `json:"sender" yaml:"sender"`
	Recipients  []string     `json:"recipients" yaml:"recipients"`
	Date        time.Time    `json:"date" yaml:"date"`
	Subject     string       `json:"subject" yaml:"subject"`
	Body        string       `json:"body,omitempty" yaml:"body,omitempty"`
	InReplyTo   string       `json:"in_reply_to,omitempty" yaml:"in_reply_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// HasDate reports whether the message carries a usable timestamp.
func (m *Message) HasDate() bool {
	return !m.Date.IsZero()
}

// Attachment references a file carried by a message. Filename is untrusted;
// Fingerprint identifies the content.
type Attachment struct {
	Filename    string `json:"filename" yaml:"filename"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Size        int64  `json:"size" yaml:"size"`
	Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
}
