package parser

import (
	"path"
	"strings"

	"github.com/felo/reportmaster/internal/model"
)

func newAttachment(filename, contentType string, data []byte) model.Attachment {
	return model.Attachment{
		Filename:    SafeFilename(filename),
		ContentType: contentType,
		Size:        int64(len(data)),
		Fingerprint: Fingerprint(data),
	}
}

const maxFilenameRunes = 120

// SafeFilename reduces an untrusted attachment name to a base name that is
// safe to create inside a directory. It never returns "".
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	return SanitizeName(name, maxFilenameRunes)
}

// SanitizeName replaces characters that are invalid in file names on common
// filesystems and trims the result to maxRunes.
func SanitizeName(name string, maxRunes int) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		case r < 0x20:
			return -1
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), ".")
	if r := []rune(name); len(r) > maxRunes {
		name = string(r[:maxRunes])
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	return name
}
