package parser

import "github.com/felo/reportmaster/internal/model"

// ParsedEmail is a message together with the content the message record
// does not carry.
type ParsedEmail struct {
	Message  model.Message
	BodyHTML string

	// Payloads holds attachment contents, index-aligned with
	// Message.Attachments.
	Payloads [][]byte
}

// Payload returns the content of the i-th attachment.
func (p *ParsedEmail) Payload(i int) []byte {
	if i < 0 || i >= len(p.Payloads) {
		return nil
	}
	return p.Payloads[i]
}
