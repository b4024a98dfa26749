package parser

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	htmlTag    = regexp.MustCompile(`(?i)<\s*(html|body|div|p|br|table|span)\b`)
	blockBreak = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li)\s*/?>`)

	signatureLine = []*regexp.Regexp{
		regexp.MustCompile(`^\s*--+\s*$`),
		regexp.MustCompile(`_{5,}`),
		regexp.MustCompile(`(?i)^\s*sent from my `),
		regexp.MustCompile(`(?i)^\s*get outlook for `),
	}
	disclaimerLine = []*regexp.Regexp{
		regexp.MustCompile(`(?i)this (e-?mail|message).*confidential`),
		regexp.MustCompile(`(?i)confidentiality notice`),
		regexp.MustCompile(`(?i)disclaimer.*e-?mail`),
		regexp.MustCompile(`(?i)the information contained in this`),
	}
	replyHeader  = regexp.MustCompile(`^On .* wrote:\s*$`)
	originalMark = regexp.MustCompile(`(?i)^-{3,}\s*original message\s*-{3,}`)

	spaces   = regexp.MustCompile(`[ \t]+`)
	newlines = regexp.MustCompile(`\n{3,}`)
)

// Clean reduces an email body to the text a reader would consider the
// message itself: markup, signatures, disclaimers and quoted history are
// dropped.
func Clean(body string) string {
	if body == "" {
		return ""
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if htmlTag.MatchString(body) {
		body = StripHTML(body)
	}

	var kept []string
lines:
	for _, line := range strings.Split(body, "\n") {
		for _, re := range signatureLine {
			if re.MatchString(line) {
				break lines
			}
		}
		if replyHeader.MatchString(line) || originalMark.MatchString(line) {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		if isDisclaimer(line) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	out := strings.Join(kept, "\n")
	out = spaces.ReplaceAllString(out, " ")
	out = newlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func isDisclaimer(line string) bool {
	for _, re := range disclaimerLine {
		if re.MatchString(line) {
			return true
		}
	}
	return len(line) > 500 && strings.Contains(strings.ToLower(line), "confidential")
}

// StripHTML removes all markup and decodes entities.
func StripHTML(s string) string {
	// Block-level breaks survive as newlines so paragraphs stay apart.
	s = blockBreak.ReplaceAllString(s, "\n")
	s = bluemonday.StrictPolicy().Sanitize(s)
	return html.UnescapeString(s)
}
