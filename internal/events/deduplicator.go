package events

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// defaultMaxEntries bounds the number of remembered notification keys
const defaultMaxEntries = 4096

// distinctKinds are never suppressed: every state transition matters, and a job
// failure is raised only once, by the job that detected it
var distinctKinds = map[Kind]bool{
	KindSessionState: true,
	KindJobFailed:    true,
}

// Deduplicator suppresses repeated notifications with the same kind, code, component
// and message inside a TTL window. A failing pipeline reports the same error on every
// frame; one notification per window is enough. Session state changes and job
// failures each report a distinct occurrence and always pass.
type Deduplicator struct {
	cache      *cache.Cache
	ttl        time.Duration
	maxEntries int

	totalSeen       atomic.Uint64
	totalSuppressed atomic.Uint64
}

// NewDeduplicator creates a deduplicator. maxEntries <= 0 selects the default bound.
func NewDeduplicator(ttl time.Duration, maxEntries int) *Deduplicator {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	// No janitor goroutine: expired keys are ignored by Add and purged when the
	// bound is reached.
	return &Deduplicator{
		cache:      cache.New(ttl, 0),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// ShouldProcess reports whether n is the first of its kind inside the window
func (d *Deduplicator) ShouldProcess(n Notification) bool {
	if d == nil {
		return true
	}
	d.totalSeen.Add(1)
	if distinctKinds[n.Kind] {
		return true
	}

	if d.cache.ItemCount() >= d.maxEntries {
		d.cache.DeleteExpired()
		if d.cache.ItemCount() >= d.maxEntries {
			d.cache.Flush()
		}
	}

	if err := d.cache.Add(dedupKey(n), struct{}{}, cache.DefaultExpiration); err != nil {
		d.totalSuppressed.Add(1)
		return false
	}
	return true
}

// Suppressed returns how many notifications were suppressed
func (d *Deduplicator) Suppressed() uint64 {
	return d.totalSuppressed.Load()
}

// Seen returns how many notifications were checked
func (d *Deduplicator) Seen() uint64 {
	return d.totalSeen.Load()
}

func dedupKey(n Notification) string {
	return string(n.Kind) + "|" + strconv.Itoa(int(n.Code)) + "|" + n.Component + "|" + n.Message
}
