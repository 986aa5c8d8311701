package ingestion

import (
	"container/list"
	"sync"
	"time"
)

// DedupSet remembers recently seen keys, bounded by capacity and age.
// The oldest entry is evicted when the set is full.
type DedupSet struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	order    *list.List // front = newest
	entries  map[string]*list.Element
}

type dedupEntry struct {
	key    string
	seenAt time.Time
}

// NewDedupSet creates a set holding at most capacity keys for ttl each.
// A ttl <= 0 keeps keys until they are evicted by capacity.
func NewDedupSet(capacity int, ttl time.Duration) *DedupSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &DedupSet{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Add records key and reports whether it was not already present.
func (d *DedupSet) Add(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)

	if _, ok := d.entries[key]; ok {
		return false
	}

	d.entries[key] = d.order.PushFront(&dedupEntry{key: key, seenAt: now})
	for d.order.Len() > d.capacity {
		d.remove(d.order.Back())
	}
	return true
}

// Len returns the number of remembered keys.
func (d *DedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expire(d.now())
	return d.order.Len()
}

// expire drops entries older than ttl. Entries are ordered by age.
func (d *DedupSet) expire(now time.Time) {
	if d.ttl <= 0 {
		return
	}
	for e := d.order.Back(); e != nil; e = d.order.Back() {
		if now.Sub(e.Value.(*dedupEntry).seenAt) < d.ttl {
			return
		}
		d.remove(e)
	}
}

func (d *DedupSet) remove(e *list.Element) {
	d.order.Remove(e)
	delete(d.entries, e.Value.(*dedupEntry).key)
}
