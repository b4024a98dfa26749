package model

import (
	"net/mail"
	"strings"
)

// NormalizeAddress reduces an address header value to a lowercase bare
// address. "Alice <Alice@Example.COM>" becomes "alice@example.com".
// It returns "" when nothing address-like can be recovered.
func NormalizeAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil && addr != nil {
		return strings.ToLower(strings.TrimSpace(addr.Address))
	}

	// Outlook exports often carry bare or bracketed addresses that net/mail
	// rejects (e.g. trailing dots, unquoted commas in display names).
	if open := strings.LastIndexByte(raw, '<'); open >= 0 {
		if end := strings.IndexByte(raw[open:], '>'); end > 0 {
			raw = raw[open+1 : open+end]
		}
	}
	raw = strings.ToLower(strings.Trim(raw, " \t\"'<>"))
	if strings.ContainsAny(raw, " \t") || strings.Count(raw, "@") != 1 {
		return ""
	}
	if at := strings.IndexByte(raw, '@'); at == 0 || at == len(raw)-1 {
		return ""
	}
	return raw
}

// Participants returns the normalized, de-duplicated sender and recipient
// addresses of m. The sender, when valid, comes first.
func (m *Message) Participants() []string {
	seen := make(map[string]struct{}, len(m.Recipients)+1)
	out := make([]string, 0, len(m.Recipients)+1)
	add := func(raw string) {
		addr := NormalizeAddress(raw)
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	add(m.Sender)
	for _, r := range m.Recipients {
		add(r)
	}
	return out
}
