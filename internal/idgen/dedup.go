package idgen

import "strconv"

// Tracker deduplicates external IDs within one model's emit pass.
//
// The first occurrence of a base ID is emitted unsuffixed; every later
// occurrence gets "_N" with N starting at 2, in first-come-first-served
// order. The orchestrator resets the tracker before each model so duplicates
// across models never collide.
type Tracker struct {
	counts map[string]int
	seen   map[string]struct{}
}

// NewTracker creates an empty dedup tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.Reset()

	return t
}

// Reset discards all tracked IDs.
func (t *Tracker) Reset() {
	t.counts = make(map[string]int)
	t.seen = make(map[string]struct{})
}

// Track registers a rendered base ID and returns the final ID plus whether
// it was a duplicate. The base is capped at 60 characters before suffixing
// and the result at MaxSlugLen after.
func (t *Tracker) Track(base string) (string, bool) {
	if len(base) > maxBaseLen {
		base = base[:maxBaseLen]
	}

	if _, dup := t.seen[base]; dup {
		t.counts[base]++

		id := base + "_" + strconv.Itoa(t.counts[base])
		if len(id) > MaxSlugLen {
			id = id[:MaxSlugLen]
		}

		return id, true
	}

	t.seen[base] = struct{}{}
	t.counts[base] = 1

	return base, false
}

// RenderID renders a template against a row and applies dedup tracking.
// It reports the final external ID and whether it collided with an earlier
// row's base ID.
func RenderID(tpl *Template, row map[string]*string, tracker *Tracker) (string, bool) {
	return tracker.Track(tpl.Render(row))
}
