package hfe

import "bytes"

// lpExEntry is one field/value/ttl tuple. ttl == 0 means "no TTL".
type lpExEntry struct {
	field []byte
	value []byte
	ttl   uint64
}

// lpExStore is C3: lpStore extended with a TTL column, kept strictly
// ascending by ttl with ttl == 0 entries forming a contiguous tail. The
// ordering is what makes dryRunExpired/expire O(expired) instead of O(n).
type lpExStore struct {
	entries []lpExEntry
}

func newLpExStore() *lpExStore { return &lpExStore{} }

func (s *lpExStore) find(field []byte) int {
	for i := range s.entries {
		if bytes.Equal(s.entries[i].field, field) {
			return i
		}
	}
	return -1
}

// sortKey maps ttl==0 ("no TTL") to the maximum value so it always sorts
// last, matching the spec's ordering rule.
func sortKey(ttl uint64) uint64 {
	if ttl == 0 {
		return ExpireInvalid
	}
	return ttl
}

// insertionIndex returns the index at which an entry with the given ttl
// should be inserted to keep entries ascending by sortKey.
func (s *lpExStore) insertionIndex(ttl uint64) int {
	key := sortKey(ttl)
	lo, hi := 0, len(s.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if sortKey(s.entries[mid].ttl) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (s *lpExStore) insert(e lpExEntry) {
	idx := s.insertionIndex(e.ttl)
	s.entries = append(s.entries, lpExEntry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = e
}

func (s *lpExStore) removeAt(i int) lpExEntry {
	e := s.entries[i]
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return e
}

func (s *lpExStore) get(field []byte) (value []byte, ttl uint64, ok bool) {
	i := s.find(field)
	if i < 0 {
		return nil, 0, false
	}
	e := s.entries[i]
	return e.value, e.ttl, true
}

// set replaces the value if field is present (clearing its TTL unless
// keepTTL), else appends a new no-TTL tuple. Returns true if created.
func (s *lpExStore) set(field, value []byte, keepTTL bool) bool {
	if i := s.find(field); i >= 0 {
		if keepTTL {
			s.entries[i].value = append([]byte(nil), value...)
			return false
		}
		e := s.removeAt(i)
		e.value = append([]byte(nil), value...)
		e.ttl = 0
		s.insert(e)
		return false
	}
	s.entries = append(s.entries, lpExEntry{
		field: append([]byte(nil), field...),
		value: append([]byte(nil), value...),
		ttl:   0,
	})
	return true
}

// SetExRes is the per-field outcome of setTTL.
type SetExRes uint8

const (
	SetExOK SetExRes = iota
	SetExNoField
	SetExConditionNotMet
	SetExDeleted
)

// setTTL applies cond against field's current TTL and, on success, either
// deletes the field (expireAt <= now) or moves its tuple to the sorted
// position for the new TTL.
func (s *lpExStore) setTTL(field []byte, expireAt uint64, cond ExpireSetCond, now uint64) SetExRes {
	i := s.find(field)
	if i < 0 {
		return SetExNoField
	}

	current := s.entries[i].ttl
	currentExpiry := ExpireInvalid
	if current != 0 {
		currentExpiry = current
	}
	if !cond.Allows(currentExpiry, expireAt) {
		return SetExConditionNotMet
	}

	e := s.removeAt(i)
	if expireAt <= now {
		return SetExDeleted
	}
	e.ttl = expireAt
	s.insert(e)
	return SetExOK
}

// clearTTL removes a field's TTL (HPERSIST), moving its tuple to the tail.
// Returns false if the field doesn't exist or has no TTL to clear.
func (s *lpExStore) clearTTL(field []byte) bool {
	i := s.find(field)
	if i < 0 || s.entries[i].ttl == 0 {
		return false
	}
	e := s.removeAt(i)
	e.ttl = 0
	s.insert(e)
	return true
}

func (s *lpExStore) delete(field []byte) bool {
	i := s.find(field)
	if i < 0 {
		return false
	}
	s.removeAt(i)
	return true
}

func (s *lpExStore) length() int { return len(s.entries) }

func (s *lpExStore) iterate(fn func(field, value []byte, ttl uint64)) {
	for _, e := range s.entries {
		fn(e.field, e.value, e.ttl)
	}
}

func (s *lpExStore) exceedsLimits(cfg Config) bool {
	if len(s.entries) > cfg.MaxListpackEntries {
		return true
	}
	for _, e := range s.entries {
		if len(e.field) > cfg.MaxListpackValue || len(e.value) > cfg.MaxListpackValue {
			return true
		}
	}
	return false
}

// minExpire is the TTL of the first non-zero tuple, or ExpireInvalid if
// none (all tuples are TTL-less, i.e. a contiguous tail starting at 0).
func (s *lpExStore) minExpire() uint64 {
	if len(s.entries) == 0 || s.entries[0].ttl == 0 {
		return ExpireInvalid
	}
	return s.entries[0].ttl
}

// dryRunExpired counts the leading tuples with 0 < ttl <= now, exploiting
// ascending order.
func (s *lpExStore) dryRunExpired(now uint64) int {
	count := 0
	for _, e := range s.entries {
		if e.ttl == 0 || e.ttl > now {
			break
		}
		count++
	}
	return count
}

// expireFields removes leading tuples while quota > 0 and 0 < ttl <= now,
// exploiting ascending order so the work done is proportional to the
// number actually expired. Returns the removed field names (for the
// caller's propagation event) and the ttl of the first surviving tuple, or
// 0 if none remain or all remaining entries are TTL-less.
func (s *lpExStore) expireFields(now uint64, quota int) (removed [][]byte, nextExpire uint64) {
	for quota > 0 && len(s.entries) > 0 {
		e := s.entries[0]
		if e.ttl == 0 || e.ttl > now {
			break
		}
		removed = append(removed, e.field)
		s.entries = s.entries[1:]
		quota--
	}
	if len(s.entries) > 0 && s.entries[0].ttl != 0 {
		return removed, s.entries[0].ttl
	}
	return removed, 0
}
