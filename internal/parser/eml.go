package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"
)

func init() {
	// Outlook exports lean heavily on legacy code pages
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("windows-1251", charmap.Windows1251)
	charset.RegisterEncoding("koi8-r", charmap.KOI8R)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
}

// ParseEMLFile parses an .eml file. The path is recorded as the message
// source.
func ParseEMLFile(filePath string) (*ParsedEmail, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return ParseEML(f, filepath.ToSlash(filePath))
}

// ParseEML parses an RFC 822 message. source names where the bytes came from
// and seeds the message ID when the Message-Id header is missing.
//
// A missing or unparseable Date header leaves Message.Date zero; the thread
// builder treats such messages as malformed.
func ParseEML(r io.Reader, source string) (*ParsedEmail, error) {
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("failed to read email: %w", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to create mail reader: %w", err)
	}
	defer mr.Close()

	header := mr.Header
	parsed := &ParsedEmail{}
	msg := &parsed.Message
	msg.SourcePath = source

	msg.ID = strings.TrimSpace(header.Get("Message-Id"))
	if msg.ID == "" {
		msg.ID = syntheticID(source, buf.Bytes())
	}
	msg.InReplyTo = strings.TrimSpace(header.Get("In-Reply-To"))
	msg.Subject = decodeMIMEWord(header.Get("Subject"))

	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	} else {
		// Keep the raw value so the builder can still try to recover it.
		msg.Sender = strings.TrimSpace(header.Get("From"))
	}

	for _, key := range []string{"To", "Cc"} {
		addrs, err := header.AddressList(key)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			msg.Recipients = append(msg.Recipients, addr.Address)
		}
	}

	if date, err := header.Date(); err == nil {
		msg.Date = date
	}

	var text string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read body: %w", err)
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				if text == "" {
					text = string(body)
				}
			case strings.HasPrefix(contentType, "text/html"):
				parsed.BodyHTML = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment: %w", err)
			}
			msg.Attachments = append(msg.Attachments, newAttachment(filename, contentType, data))
			parsed.Payloads = append(parsed.Payloads, data)
		}
	}

	if text == "" && parsed.BodyHTML != "" {
		text = parsed.BodyHTML
	}
	msg.Body = Clean(text)

	return parsed, nil
}

// Fingerprint returns the content hash used to identify attachments.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func syntheticID(source string, raw []byte) string {
	seed := []byte(source)
	if source == "" {
		seed = raw
	}
	sum := sha256.Sum256(seed)
	return "<" + hex.EncodeToString(sum[:6]) + "@reportmaster.local>"
}

// decodeMIMEWord decodes RFC 2047 encoded words, returning s unchanged when
// it cannot be decoded.
func decodeMIMEWord(s string) string {
	dec := &mime.WordDecoder{CharsetReader: charset.Reader}
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
