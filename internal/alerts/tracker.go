package alerts

import (
	"sync"
	"time"

	"vitalwatch/internal/model"
)

// Changes is what a snapshot's alert list adds to the previous one.
type Changes struct {
	New      []model.Alert
	Resolved []model.Alert
}

func (c Changes) Empty() bool {
	return len(c.New) == 0 && len(c.Resolved) == 0
}

// Tracker diffs successive alert lists by alert_id. The first list it sees
// only primes the tracker; those alerts are recorded but not reported as
// new, so a restart does not replay the whole history as fresh alarms.
type Tracker struct {
	mu       sync.Mutex
	store    *Store
	resolved map[string]bool
	primed   bool
}

func NewTracker(store *Store) *Tracker {
	if store == nil {
		store = NewStore(0)
	}
	return &Tracker{store: store, resolved: make(map[string]bool)}
}

func (t *Tracker) Store() *Store {
	return t.store
}

// Observe records alerts not seen before and reports server-side
// resolutions. Alerts missing from the list are forgotten.
func (t *Tracker) Observe(list []model.Alert, now time.Time) Changes {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out Changes
	next := make(map[string]bool, len(list))
	for _, a := range list {
		next[a.AlertID] = a.Resolved
		wasResolved, known := t.resolved[a.AlertID]
		if !known {
			t.store.Add(Entry{Alert: a, ObservedAt: now})
			if t.primed {
				out.New = append(out.New, a)
			}
			continue
		}
		if a.Resolved && !wasResolved {
			out.Resolved = append(out.Resolved, a)
		}
	}
	t.resolved = next
	t.primed = true
	return out
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolved = make(map[string]bool)
	t.primed = false
	t.store.Clear()
}
