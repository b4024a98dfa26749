// Package category consolidates threads that received the same category
// label into thread groups.
//
// Labels are compared after normalization only (case folding and whitespace
// cleanup). Labels that differ in wording are never matched.
package category

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/felo/reportmaster/internal/model"
)

// ErrInvalidArgument is returned for structurally invalid input.
var ErrInvalidArgument = errors.New("category: invalid argument")

// maxKeyRunes bounds normalized labels; LLM output occasionally rambles.
const maxKeyRunes = 120

// NormalizeLabel returns the grouping key for a raw label. An empty result
// means uncategorized.
func NormalizeLabel(label string) string {
	key := strings.Join(strings.Fields(label), " ")
	if key == "" {
		return ""
	}
	key = cases.Fold().String(key) // Casers are stateful; one per call
	if utf8.RuneCountInString(key) > maxKeyRunes {
		key = strings.TrimSpace(string([]rune(key)[:maxKeyRunes]))
	}
	return key
}

// DisplayLabel tidies a raw label for presentation without changing case.
func DisplayLabel(label string) string {
	return strings.Join(strings.Fields(label), " ")
}

// Merge groups threads by normalized category label. Groups appear in the
// order their first thread appears in threads. Uncategorized threads each
// get a singleton group. threads is not modified.
func Merge(threads []*model.Thread) ([]*model.ThreadGroup, error) {
	for i, t := range threads {
		if t == nil {
			return nil, fmt.Errorf("%w: thread at index %d is nil", ErrInvalidArgument, i)
		}
	}

	groups := make([]*model.ThreadGroup, 0, len(threads))
	byKey := make(map[string]*model.ThreadGroup)

	for _, t := range threads {
		key := NormalizeLabel(t.Category)
		if key != "" {
			if g, ok := byKey[key]; ok {
				g.Threads = append(g.Threads, t)
				continue
			}
		}
		g := &model.ThreadGroup{
			ID:      fmt.Sprintf("G%03d", len(groups)+1),
			Key:     key,
			Label:   DisplayLabel(t.Category),
			Threads: []*model.Thread{t},
		}
		if key != "" {
			byKey[key] = g
		}
		groups = append(groups, g)
	}

	for _, g := range groups {
		consolidate(g)
	}
	return groups, nil
}

// consolidate fills the derived fields of g from its threads.
func consolidate(g *model.ThreadGroup) {
	type ranked struct {
		msg    model.Message
		thread int
		pos    int
	}

	var all []ranked
	g.ThreadIDs = make([]string, 0, len(g.Threads))
	for ti, t := range g.Threads {
		g.ThreadIDs = append(g.ThreadIDs, t.ID)
		for pi, m := range t.Messages {
			all = append(all, ranked{msg: m, thread: ti, pos: pi})
		}
	}

	// Each thread is already chronological, so a stable sort on date is a
	// stable merge; earlier constituents win ties.
	slices.SortStableFunc(all, func(a, b ranked) int {
		if d := compareDates(&a.msg, &b.msg); d != 0 {
			return d
		}
		if d := cmp.Compare(a.thread, b.thread); d != 0 {
			return d
		}
		return cmp.Compare(a.pos, b.pos)
	})

	g.Messages = make([]model.Message, len(all))
	for i := range all {
		g.Messages[i] = all[i].msg
	}
	g.Attachments = unionAttachments(g.Messages)
}

// unionAttachments collects attachments in first-seen order, dropping
// repeats of the same content. Attachments without a fingerprint cannot be
// compared and are always kept.
func unionAttachments(msgs []model.Message) []model.Attachment {
	out := []model.Attachment{}
	seen := make(map[string]struct{})
	for i := range msgs {
		for _, a := range msgs[i].Attachments {
			if a.Fingerprint != "" {
				if _, dup := seen[a.Fingerprint]; dup {
					continue
				}
				seen[a.Fingerprint] = struct{}{}
			}
			out = append(out, a)
		}
	}
	return out
}

func compareDates(a, b *model.Message) int {
	switch {
	case a.HasDate() && b.HasDate():
		return a.Date.Compare(b.Date)
	case a.HasDate():
		return -1
	case b.HasDate():
		return 1
	}
	return 0
}
