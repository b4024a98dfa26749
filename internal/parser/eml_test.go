package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEML(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const simpleEML = "From: Alice Example <alice@example.com>\r\n" +
	"To: bob@example.com, Carol <carol@example.com>\r\n" +
	"Cc: dave@example.com\r\n" +
	"Subject: Quarterly numbers\r\n" +
	"Date: Mon, 1 Jan 2024 10:00:00 +0100\r\n" +
	"Message-Id: <simple123@example.com>\r\n" +
	"In-Reply-To: <parent@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Numbers attached.\r\n" +
	"\r\n" +
	"On Mon, 1 Jan 2024 Bob wrote:\r\n" +
	"> old text\r\n"

// TestParseEML_SimpleEmail tests parsing a basic plain text email
func TestParseEML_SimpleEmail(t *testing.T) {
	parsed, err := ParseEMLFile(writeEML(t, "simple.eml", simpleEML))
	require.NoError(t, err, "Should parse simple email without error")

	msg := parsed.Message
	assert.Equal(t, "<simple123@example.com>", msg.ID)
	assert.Equal(t, "<parent@example.com>", msg.InReplyTo)
	assert.Equal(t, "Quarterly numbers", msg.Subject)
	assert.Equal(t, "alice@example.com", msg.Sender)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com", "dave@example.com"}, msg.Recipients)
	assert.Equal(t, "Numbers attached.", msg.Body, "quoted history should be cleaned away")
	assert.True(t, msg.Date.Equal(time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)))
	assert.True(t, strings.HasSuffix(msg.SourcePath, "simple.eml"))
	assert.Empty(t, msg.Attachments)
}

// TestParseEML_MIMEEncodedSubject tests parsing emails with MIME-encoded headers
func TestParseEML_MIMEEncodedSubject(t *testing.T) {
	eml := "From: sender@example.com\n" +
		"Subject: =?UTF-8?Q?Invitaci=C3=B3n:_Reuni=C3=B3n_de_proyecto?=\n" +
		"Date: Mon, 1 Jan 2024 10:00:00 +0000\n" +
		"Content-Type: text/plain; charset=utf-8\n\n" +
		"Body\n"

	parsed, err := ParseEML(strings.NewReader(eml), "mime.eml")
	require.NoError(t, err)
	assert.Equal(t, "Invitación: Reunión de proyecto", parsed.Message.Subject)
}

// TestParseEML_Windows1252Charset tests that legacy charsets decode
func TestParseEML_Windows1252Charset(t *testing.T) {
	eml := "From: sender@example.com\n" +
		"Subject: Charset\n" +
		"Date: Mon, 1 Jan 2024 10:00:00 +0000\n" +
		"Content-Type: text/plain; charset=windows-1252\n\n" +
		"Caf\xe9 meeting\n"

	parsed, err := ParseEML(strings.NewReader(eml), "cp1252.eml")
	require.NoError(t, err)
	assert.Equal(t, "Café meeting", parsed.Message.Body)
}

// TestParseEML_WithAttachment tests attachment references and payloads
func TestParseEML_WithAttachment(t *testing.T) {
	eml := "From: sender@example.com\n" +
		"To: recipient@example.com\n" +
		"Subject: Email with Attachment\n" +
		"Date: Mon, 1 Jan 2024 10:00:00 +0000\n" +
		"MIME-Version: 1.0\n" +
		"Content-Type: multipart/mixed; boundary=\"XYZ\"\n\n" +
		"--XYZ\n" +
		"Content-Type: text/plain; charset=utf-8\n\n" +
		"This email has an attachment.\n" +
		"--XYZ\n" +
		"Content-Type: application/pdf\n" +
		"Content-Disposition: attachment; filename=\"../../etc/report.pdf\"\n" +
		"Content-Transfer-Encoding: base64\n\n" +
		"JVBERi0xLjQK\n" +
		"--XYZ--\n"

	parsed, err := ParseEML(strings.NewReader(eml), "att.eml")
	require.NoError(t, err)
	assert.Equal(t, "This email has an attachment.", parsed.Message.Body)

	require.Len(t, parsed.Message.Attachments, 1)
	att := parsed.Message.Attachments[0]
	assert.Equal(t, "report.pdf", att.Filename, "directory components must be stripped")
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, int64(9), att.Size)
	assert.Equal(t, Fingerprint([]byte("%PDF-1.4\n")), att.Fingerprint)
	assert.Equal(t, []byte("%PDF-1.4\n"), parsed.Payload(0))
	assert.Nil(t, parsed.Payload(1))
}

// TestParseEML_HTMLOnly tests that HTML-only bodies are reduced to text
func TestParseEML_HTMLOnly(t *testing.T) {
	eml := "From: sender@example.com\n" +
		"Subject: HTML Email Test\n" +
		"Date: Mon, 1 Jan 2024 10:00:00 +0000\n" +
		"Content-Type: text/html; charset=utf-8\n\n" +
		"<html><body><p>Hello &amp; welcome</p><p>Second <strong>line</strong></p></body></html>\n"

	parsed, err := ParseEML(strings.NewReader(eml), "html.eml")
	require.NoError(t, err)
	assert.Contains(t, parsed.BodyHTML, "<strong>line</strong>")
	assert.Equal(t, "Hello & welcome\nSecond line", parsed.Message.Body)
}

// TestParseEML_MissingHeaders tests that missing optional headers degrade
func TestParseEML_MissingHeaders(t *testing.T) {
	eml := "From: sender@example.com\n" +
		"Subject: Missing Headers Test\n" +
		"Content-Type: text/plain\n\n" +
		"This email is missing some headers.\n"

	parsed, err := ParseEML(strings.NewReader(eml), "missing.eml")
	require.NoError(t, err)

	msg := parsed.Message
	assert.True(t, msg.Date.IsZero(), "missing Date must not be replaced by the current time")
	assert.False(t, msg.HasDate())
	assert.NotEmpty(t, msg.ID, "a synthetic ID should be assigned")
	assert.Empty(t, msg.Recipients)

	again, err := ParseEML(strings.NewReader(eml), "missing.eml")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, again.Message.ID, "synthetic IDs are stable per source")
}

// TestParseEML_InvalidFile tests error handling for non-existent files
func TestParseEML_InvalidFile(t *testing.T) {
	_, err := ParseEMLFile(filepath.Join(t.TempDir(), "does-not-exist.eml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open file")
}

// TestDecodeMIMEWord tests the MIME word decoder function
func TestDecodeMIMEWord(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "UTF-8 Quoted-Printable", input: "=?UTF-8?Q?Invitaci=C3=B3n?=", expected: "Invitación"},
		{name: "UTF-8 Base64", input: "=?UTF-8?B?SW52aXRhY2nDs24=?=", expected: "Invitación"},
		{name: "Plain text (no encoding)", input: "Simple Subject", expected: "Simple Subject"},
		{name: "Empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, decodeMIMEWord(tt.input))
		})
	}
}
