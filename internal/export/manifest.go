package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felo/reportmaster/internal/model"
)

// Output formats understood by ManifestAssembler.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Report is the serialized shape of a job's result.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`
	ReportMonth string         `json:"report_month,omitempty" yaml:"report_month,omitempty"`
	Stats       model.JobStats `json:"stats" yaml:"stats"`
	Sections    []Section      `json:"sections" yaml:"sections"`
}

// Section is one thread group as it appears in the report.
type Section struct {
	Number      string             `json:"section" yaml:"section"`
	GroupID     string             `json:"group_id" yaml:"group_id"`
	Title       string             `json:"title" yaml:"title"`
	Categorized bool               `json:"categorized" yaml:"categorized"`
	Start       time.Time          `json:"start,omitzero" yaml:"start,omitempty"`
	End         time.Time          `json:"end,omitzero" yaml:"end,omitempty"`
	Threads     []ThreadSummary    `json:"threads" yaml:"threads"`
	Messages    []model.Message    `json:"messages" yaml:"messages"`
	Attachments []model.Attachment `json:"attachments" yaml:"attachments"`
}

// ThreadSummary describes one constituent thread of a section.
type ThreadSummary struct {
	ID           string    `json:"id" yaml:"id"`
	Subject      string    `json:"subject" yaml:"subject"`
	Category     string    `json:"category,omitempty" yaml:"category,omitempty"`
	Participants []string  `json:"participants" yaml:"participants"`
	Start        time.Time `json:"start,omitzero" yaml:"start,omitempty"`
	End          time.Time `json:"end,omitzero" yaml:"end,omitempty"`
	MessageCount int       `json:"message_count" yaml:"message_count"`
}

// NewReport builds a report from merged groups.
func NewReport(groups []*model.ThreadGroup, stats model.JobStats, generatedAt time.Time) *Report {
	r := &Report{
		GeneratedAt: generatedAt,
		Stats:       stats,
		Sections:    make([]Section, 0, len(groups)),
	}
	for i, g := range groups {
		s := Section{
			Number:      SectionNumber(i),
			GroupID:     g.ID,
			Title:       Title(g),
			Categorized: g.Categorized(),
			Threads:     make([]ThreadSummary, 0, len(g.Threads)),
			Messages:    g.Messages,
			Attachments: g.Attachments,
		}
		for _, t := range g.Threads {
			s.Threads = append(s.Threads, ThreadSummary{
				ID:           t.ID,
				Subject:      t.Subject,
				Category:     t.Category,
				Participants: t.Participants,
				Start:        t.Start,
				End:          t.End,
				MessageCount: t.Len(),
			})
			if !t.Start.IsZero() && (s.Start.IsZero() || t.Start.Before(s.Start)) {
				s.Start = t.Start
			}
			if t.End.After(s.End) {
				s.End = t.End
			}
		}
		if s.Messages == nil {
			s.Messages = []model.Message{}
		}
		if s.Attachments == nil {
			s.Attachments = []model.Attachment{}
		}
		r.Sections = append(r.Sections, s)
	}
	return r
}

// WriteReport encodes r in the given format.
func WriteReport(w io.Writer, r *Report, format string) error {
	switch format {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode json report: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode yaml report: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to flush yaml report: %w", err)
		}
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
	return nil
}

// ManifestAssembler writes the report manifest.
type ManifestAssembler struct {
	Format      string
	ReportMonth string
	Stats       model.JobStats
	// Now defaults to time.Now.
	Now func() time.Time
}

// Assemble implements Assembler.
func (a *ManifestAssembler) Assemble(ctx context.Context, w io.Writer, groups []*model.ThreadGroup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	r := NewReport(groups, a.Stats, now().UTC())
	r.ReportMonth = a.ReportMonth
	return WriteReport(w, r, a.Format)
}
