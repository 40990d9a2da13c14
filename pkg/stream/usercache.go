package stream

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// UserEntry records where a subscriber radio was last heard
type UserEntry struct {
	RadioID   uint32
	PeerID    uint32
	Slot      int
	Talkgroup uint32
	LastHeard time.Time
}

// UserCache maps subscriber radio IDs to the peer they were last heard
// through, used to route private calls. Entries expire after the TTL; expired
// entries are evicted lazily on lookup and in bulk by the periodic sweep.
type UserCache struct {
	entries *xsync.Map[uint32, *UserEntry]
	ttl     time.Duration
}

// NewUserCache creates a cache with the given entry TTL
func NewUserCache(ttl time.Duration) *UserCache {
	return &UserCache{
		entries: xsync.NewMap[uint32, *UserEntry](),
		ttl:     ttl,
	}
}

// Update upserts the entry for a radio and refreshes its last-heard time
func (c *UserCache) Update(radioID, peerID uint32, slot int, talkgroup uint32) {
	c.entries.Store(radioID, &UserEntry{
		RadioID:   radioID,
		PeerID:    peerID,
		Slot:      slot,
		Talkgroup: talkgroup,
		LastHeard: time.Now(),
	})
}

// Lookup returns the entry for a radio, evicting it if expired
func (c *UserCache) Lookup(radioID uint32) (*UserEntry, bool) {
	entry, ok := c.entries.Load(radioID)
	if !ok {
		return nil, false
	}
	if time.Since(entry.LastHeard) > c.ttl {
		c.entries.Delete(radioID)
		return nil, false
	}
	return entry, true
}

// PeerFor returns the peer a radio was last heard through
func (c *UserCache) PeerFor(radioID uint32) (uint32, bool) {
	entry, ok := c.Lookup(radioID)
	if !ok {
		return 0, false
	}
	return entry.PeerID, true
}

// Sweep bulk-evicts expired entries and returns how many were removed
func (c *UserCache) Sweep() int {
	removed := 0
	cutoff := time.Now().Add(-c.ttl)
	c.entries.Range(func(radioID uint32, entry *UserEntry) bool {
		if entry.LastHeard.Before(cutoff) {
			c.entries.Delete(radioID)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the current entry count, expired entries included
func (c *UserCache) Len() int {
	return c.entries.Size()
}
