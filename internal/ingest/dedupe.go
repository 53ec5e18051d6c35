package ingest

import (
	"strconv"
	"sync"
	"time"

	"vitalwatch/internal/model"
)

const dedupeCompactAt = 10000

// DedupeCache suppresses identical readings that arrive through more than
// one feed, or are replayed by one, within a short window.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

func readingKey(r model.TelemetryReading) string {
	return r.PatientID + "|" + strconv.Itoa(r.HeartRate) + "|" + strconv.Itoa(r.OxygenLevel)
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > dedupeCompactAt {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

// Cooldown admits at most one reading per patient per cooldown period.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(patientID string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[patientID]; ok && now.Sub(ts) < cooldown {
		return false
	}
	c.last[patientID] = now
	return true
}

func (c *Cooldown) Reset(patientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, patientID)
}
