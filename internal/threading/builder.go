// Package threading partitions parsed messages into conversation threads
// using participant overlap and a time-gap threshold.
package threading

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/felo/reportmaster/internal/model"
)

// ErrInvalidArgument is returned when the builder is configured with input
// that violates its preconditions.
var ErrInvalidArgument = errors.New("threading: invalid argument")

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used to report malformed messages.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBridge enables bridge mode: a message qualifying for several threads
// joins the closest one and folds the other qualifiers into it.
func WithBridge(enabled bool) Option {
	return func(b *Builder) {
		b.bridge = enabled
	}
}

// Builder groups messages into threads. A Builder holds no per-run state and
// is safe for concurrent use.
type Builder struct {
	maxGap time.Duration
	bridge bool
	logger *zap.Logger
}

// NewBuilder returns a Builder splitting threads whose messages are more than
// maxGap apart. maxGap must be positive.
func NewBuilder(maxGap time.Duration, opts ...Option) (*Builder, error) {
	if maxGap <= 0 {
		return nil, fmt.Errorf("%w: max gap must be positive, got %s", ErrInvalidArgument, maxGap)
	}
	b := &Builder{
		maxGap: maxGap,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build is a convenience wrapper around NewBuilder and Builder.Build.
func Build(messages []model.Message, maxGap time.Duration, opts ...Option) ([]*model.Thread, error) {
	b, err := NewBuilder(maxGap, opts...)
	if err != nil {
		return nil, err
	}
	return b.Build(messages), nil
}

// entry is a message tagged with its input position.
type entry struct {
	msg   model.Message
	pos   int
	addrs []string
}

// cluster is a thread under construction.
type cluster struct {
	seq     int
	last    time.Time
	entries []entry
	addrs   map[string]struct{}
	parent  int // bridge mode: index of the cluster this one was folded into, or itself
}

// Build partitions messages into threads. Every input message ends up in
// exactly one thread; the result does not depend on the input order.
func (b *Builder) Build(messages []model.Message) []*model.Thread {
	timed := make([]entry, 0, len(messages))
	var malformed []entry

	for pos, m := range messages {
		e := entry{msg: m, pos: pos, addrs: m.Participants()}
		switch {
		case !m.HasDate():
			b.warnMalformed(m, "missing or unparseable timestamp")
			malformed = append(malformed, e)
		case model.NormalizeAddress(m.Sender) == "":
			b.warnMalformed(m, "missing or unparseable sender address")
			malformed = append(malformed, e)
		default:
			timed = append(timed, e)
		}
	}

	// Processing order depends only on the message set: date, then ID, then
	// input position for exact duplicates.
	slices.SortStableFunc(timed, func(a, c entry) int {
		if d := a.msg.Date.Compare(c.msg.Date); d != 0 {
			return d
		}
		if d := strings.Compare(a.msg.ID, c.msg.ID); d != 0 {
			return d
		}
		return cmp.Compare(a.pos, c.pos)
	})

	clusters := make([]*cluster, 0, len(timed))
	index := make(map[string][]int)

	for _, e := range timed {
		target, others := b.candidates(e, clusters, index)
		if target < 0 {
			c := &cluster{
				seq:    len(clusters),
				last:   e.msg.Date,
				addrs:  make(map[string]struct{}, len(e.addrs)),
				parent: len(clusters),
			}
			clusters = append(clusters, c)
			target = c.seq
		}

		c := clusters[target]
		for _, o := range others {
			fold(c, clusters[o], index)
		}
		c.entries = append(c.entries, e)
		if e.msg.Date.After(c.last) {
			c.last = e.msg.Date
		}
		for _, addr := range e.addrs {
			if _, ok := c.addrs[addr]; ok {
				continue
			}
			c.addrs[addr] = struct{}{}
			index[addr] = append(index[addr], target)
		}
	}

	threads := make([]*model.Thread, 0, len(clusters)+len(malformed))
	for _, c := range clusters {
		if c.parent != c.seq {
			continue
		}
		threads = append(threads, newThread(len(threads)+1, c.entries))
	}

	slices.SortStableFunc(malformed, func(a, c entry) int {
		if d := strings.Compare(a.msg.ID, c.msg.ID); d != 0 {
			return d
		}
		return cmp.Compare(a.pos, c.pos)
	})
	for _, e := range malformed {
		threads = append(threads, newThread(len(threads)+1, []entry{e}))
	}

	b.logger.Debug("threads built",
		zap.Int("messages", len(messages)),
		zap.Int("threads", len(threads)),
		zap.Int("malformed", len(malformed)),
		zap.Duration("max_gap", b.maxGap),
	)
	return threads
}

// candidates finds the live clusters e may join. target is the closest one
// (earliest created on ties) or -1; others lists further qualifiers to fold
// into target when bridge mode is on.
func (b *Builder) candidates(e entry, clusters []*cluster, index map[string][]int) (target int, others []int) {
	target = -1
	var best time.Duration
	seen := make(map[int]struct{})
	var qualified []int

	for _, addr := range e.addrs {
		for _, ci := range index[addr] {
			ci = root(clusters, ci)
			if _, ok := seen[ci]; ok {
				continue
			}
			seen[ci] = struct{}{}

			gap := e.msg.Date.Sub(clusters[ci].last)
			if gap < 0 {
				gap = -gap
			}
			if gap > b.maxGap {
				continue
			}
			qualified = append(qualified, ci)
			if target < 0 || gap < best || (gap == best && ci < target) {
				target, best = ci, gap
			}
		}
	}

	if !b.bridge || len(qualified) < 2 {
		return target, nil
	}
	for _, ci := range qualified {
		if ci != target {
			others = append(others, ci)
		}
	}
	slices.Sort(others)
	return target, others
}

// fold moves every message of src into dst.
func fold(dst, src *cluster, index map[string][]int) {
	dst.entries = append(dst.entries, src.entries...)
	if src.last.After(dst.last) {
		dst.last = src.last
	}
	for addr := range src.addrs {
		if _, ok := dst.addrs[addr]; ok {
			continue
		}
		dst.addrs[addr] = struct{}{}
		index[addr] = append(index[addr], dst.seq)
	}
	src.entries = nil
	src.addrs = nil
	src.parent = dst.seq
}

func root(clusters []*cluster, i int) int {
	for clusters[i].parent != i {
		i = clusters[i].parent
	}
	return i
}

// newThread materializes a cluster. Messages are ordered by date with input
// position breaking ties.
func newThread(n int, entries []entry) *model.Thread {
	slices.SortStableFunc(entries, func(a, c entry) int {
		if d := compareDates(a.msg, c.msg); d != 0 {
			return d
		}
		return cmp.Compare(a.pos, c.pos)
	})
	t := model.NewThread(fmt.Sprintf("T%04d", n))
	for _, e := range entries {
		t.Append(e.msg)
	}
	return t
}

func compareDates(a, c model.Message) int {
	switch {
	case a.HasDate() && c.HasDate():
		return a.Date.Compare(c.Date)
	case a.HasDate():
		return -1
	case c.HasDate():
		return 1
	}
	return 0
}

func (b *Builder) warnMalformed(m model.Message, reason string) {
	b.logger.Warn("malformed message placed in its own thread",
		zap.String("message_id", m.ID),
		zap.String("source", m.SourcePath),
		zap.String("reason", reason),
	)
}
