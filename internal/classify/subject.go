package classify

import (
	"context"
	"regexp"
	"strings"

	"github.com/felo/reportmaster/internal/model"
)

// subjectPrefix matches one reply/forward marker or leading [tag].
var subjectPrefix = regexp.MustCompile(`(?i)^\s*(?:(?:re|fw|fwd|aw)\s*:|\[[^\]]*\])\s*`)

const maxSubjectLabelRunes = 50

// StripSubject removes any run of leading "Re:", "Fw:", "Fwd:", "Aw:" and
// "[tag]" markers and collapses whitespace, keeping the original case.
func StripSubject(subject string) string {
	for {
		loc := subjectPrefix.FindStringIndex(subject)
		if loc == nil || loc[1] == 0 {
			break
		}
		subject = subject[loc[1]:]
	}
	return strings.Join(strings.Fields(subject), " ")
}

// SubjectClassifier labels a thread with its stripped subject. It needs no
// external service and is the fallback when no API key is configured.
type SubjectClassifier struct{}

// Classify implements Classifier.
func (SubjectClassifier) Classify(_ context.Context, t *model.Thread) (string, error) {
	return truncateRunes(StripSubject(t.Subject), maxSubjectLabelRunes), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
