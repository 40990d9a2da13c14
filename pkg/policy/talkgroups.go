package policy

import (
	"sort"
	"strconv"
	"strings"
)

// TalkgroupSet is a per-slot talkgroup allow-set. It is either unrestricted
// (every talkgroup permitted) or a finite set of 24-bit talkgroup IDs.
type TalkgroupSet struct {
	unrestricted bool
	ids          map[uint32]struct{}
}

// Unrestricted returns a set that permits every talkgroup
func Unrestricted() *TalkgroupSet {
	return &TalkgroupSet{unrestricted: true}
}

// NewTalkgroupSet returns a finite set containing exactly the given IDs
func NewTalkgroupSet(ids []uint32) *TalkgroupSet {
	s := &TalkgroupSet{ids: make(map[uint32]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// IsUnrestricted reports whether the set permits every talkgroup
func (s *TalkgroupSet) IsUnrestricted() bool {
	return s.unrestricted
}

// Contains reports whether the given talkgroup is permitted
func (s *TalkgroupSet) Contains(tg uint32) bool {
	if s.unrestricted {
		return true
	}
	_, ok := s.ids[tg]
	return ok
}

// Intersect applies a peer-requested talkgroup list against this set. The
// configured set is master: when finite, the result is the intersection; when
// unrestricted, the peer gets exactly what it asked for.
func (s *TalkgroupSet) Intersect(requested []uint32) *TalkgroupSet {
	if s.unrestricted {
		return NewTalkgroupSet(requested)
	}

	result := &TalkgroupSet{ids: make(map[uint32]struct{})}
	for _, tg := range requested {
		if _, ok := s.ids[tg]; ok {
			result.ids[tg] = struct{}{}
		}
	}
	return result
}

// IDs returns the member talkgroups in ascending order. Nil for an
// unrestricted set.
func (s *TalkgroupSet) IDs() []uint32 {
	if s.unrestricted {
		return nil
	}

	ids := make([]uint32, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// String returns the string representation of the set
func (s *TalkgroupSet) String() string {
	if s.unrestricted {
		return "ALL"
	}

	parts := make([]string, 0, len(s.ids))
	for _, id := range s.IDs() {
		parts = append(parts, strconv.FormatUint(uint64(id), 10))
	}
	return strings.Join(parts, ",")
}
