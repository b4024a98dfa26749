package jobs

import (
	"sync"

	"github.com/felo/reportmaster/internal/model"
)

// Event types sent to subscribers.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is a job state change.
type Event struct {
	Type string    `json:"type"`
	Job  model.Job `json:"job"`
}

// Final reports whether no further events follow e.
func (e Event) Final() bool {
	return e.Type == EventComplete || e.Type == EventError
}

const subscriberBuffer = 16

// broker fans job events out to subscribers. Slow subscribers miss
// intermediate progress events rather than block the job.
type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[int]chan Event)}
}

func (b *broker) subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	id := b.nextID
	b.nextID++
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan Event)
	}
	b.subs[jobID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[jobID][id]; ok {
				delete(b.subs[jobID], id)
				close(ch)
			}
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
		})
	}
}

func (b *broker) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs[e.Job.ID] {
		if e.Final() {
			// Final events must arrive; make room by dropping a stale one.
			select {
			case ch <- e:
			default:
				select {
				case <-ch:
				default:
				}
				ch <- e
			}
			close(ch)
			delete(b.subs[e.Job.ID], id)
			continue
		}
		select {
		case ch <- e:
		default:
			// Client channel full, skip
		}
	}
	if len(b.subs[e.Job.ID]) == 0 {
		delete(b.subs, e.Job.ID)
	}
}
