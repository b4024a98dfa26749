// Package export turns thread groups into deliverables: a JSON or YAML
// report manifest and a ZIP archive of attachments laid out per group.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/felo/reportmaster/internal/classify"
	"github.com/felo/reportmaster/internal/model"
)

// Assembler consumes the final thread groups of a job.
type Assembler interface {
	Assemble(ctx context.Context, w io.Writer, groups []*model.ThreadGroup) error
}

// uncategorizedTitle names a singleton group whose thread has no subject.
const uncategorizedTitle = "Uncategorized"

// SectionNumber returns the report section of the i-th group (0-based):
// "4.1", "4.2", and so on.
func SectionNumber(i int) string {
	return fmt.Sprintf("4.%d", i+1)
}

// Title returns the display title of a group: its label, or for an
// uncategorized group the subject of its thread.
func Title(g *model.ThreadGroup) string {
	if g.Categorized() {
		return g.Label
	}
	for _, t := range g.Threads {
		if s := classify.StripSubject(t.Subject); s != "" {
			return s
		}
	}
	if len(g.Messages) > 0 {
		if s := classify.StripSubject(g.Messages[0].Subject); s != "" {
			return s
		}
	}
	return uncategorizedTitle
}
