package hfe

import (
	"bytes"
	"sort"
)

// htEntry is one field/value pair in the hashtable encoding (C4). field may
// carry an expiry slot if it has ever had a TTL attached; plain fields never
// allocate one.
type htEntry struct {
	field *Field
	value []byte
}

// htStore is C4: a plain Go map keyed directly by field-byte content. Go's
// map equality/hashing over string content already gives "the same hash
// function for plain bytes and a stored field" that the spec calls for via
// its two-function lookup protocol — no custom hasher is needed.
type htStore struct {
	entries map[string]*htEntry
	bucket  *BucketSet[*Field]
}

func newHtStore() *htStore {
	return &htStore{entries: make(map[string]*htEntry)}
}

func (s *htStore) get(field []byte) ([]byte, bool) {
	e, ok := s.entries[string(field)]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (s *htStore) ttlOf(field []byte) uint64 {
	e, ok := s.entries[string(field)]
	if !ok || e.field.expiry == nil {
		return ExpireInvalid
	}
	return ExpiryOf(e.field)
}

// set inserts or overwrites the value for field. Returns true if a new
// entry was created. A newly-created field never carries an expiry slot;
// one is allocated lazily by ensureExpirySlot when a TTL is first attached.
func (s *htStore) set(field, value []byte) bool {
	key := string(field)
	if e, ok := s.entries[key]; ok {
		e.value = append([]byte(nil), value...)
		return false
	}
	s.entries[key] = &htEntry{
		field: NewField(field, false),
		value: append([]byte(nil), value...),
	}
	return true
}

// ensureExpirySlot lazily allocates the store's bucket set the first time
// any field on this hash has a TTL attached.
func (s *htStore) ensureExpirySlot() {
	if s.bucket == nil {
		s.bucket = NewBucketSet[*Field]()
	}
}

func (s *htStore) fieldFor(field []byte) *Field {
	e, ok := s.entries[string(field)]
	if !ok {
		return nil
	}
	if e.field.expiry == nil {
		e.field.expiry = &ExpirySlot{expireAt: ExpireInvalid, trash: true}
	}
	return e.field
}

// setTTL applies cond against field's current TTL (ExpireInvalid meaning
// none) and, on success, either deletes the field (expireAt <= now) or
// links its expiry slot into the per-hash bucket set at the new time.
func (s *htStore) setTTL(field []byte, expireAt uint64, cond ExpireSetCond, now uint64) SetExRes {
	if _, ok := s.entries[string(field)]; !ok {
		return SetExNoField
	}
	s.ensureExpirySlot()
	f := s.fieldFor(field)
	current := ExpiryOf(f)
	if !cond.Allows(current, expireAt) {
		return SetExConditionNotMet
	}
	if expireAt <= now {
		delete(s.entries, string(field))
		s.bucket.Remove(f)
		return SetExDeleted
	}
	s.bucket.Add(f, expireAt)
	return SetExOK
}

// clearTTL removes field's TTL if any, unlinking it from the bucket set.
func (s *htStore) clearTTL(field []byte) bool {
	e, ok := s.entries[string(field)]
	if !ok || e.field.expiry == nil || e.field.expiry.trash {
		return false
	}
	s.bucket.Remove(e.field)
	return true
}

func (s *htStore) delete(field []byte) bool {
	e, ok := s.entries[string(field)]
	if !ok {
		return false
	}
	if e.field.expiry != nil && !e.field.expiry.trash && s.bucket != nil {
		s.bucket.Remove(e.field)
	}
	delete(s.entries, string(field))
	return true
}

func (s *htStore) length() int { return len(s.entries) }

func (s *htStore) iterate(fn func(field, value []byte, ttl uint64)) {
	for _, e := range s.orderedEntries() {
		fn(e.field.Bytes, e.value, ExpiryOf(e.field))
	}
}

// orderedEntries returns every entry sorted by field byte content. Go's map
// iteration order is randomized on every single range statement, not just
// per process, so any caller that needs a positional index into the
// hashtable encoding that is stable across repeated calls (HRANDFIELD's
// without-replacement sampling, HSCAN's cursor) must index into this slice
// rather than ranging s.entries directly.
func (s *htStore) orderedEntries() []*htEntry {
	out := make([]*htEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].field.Bytes, out[j].field.Bytes) < 0
	})
	return out
}

// minExpire returns the earliest TTL among this hash's fields, or
// ExpireInvalid if none carry one.
func (s *htStore) minExpire() uint64 {
	if s.bucket == nil {
		return ExpireInvalid
	}
	return s.bucket.PeekMin()
}

// at returns the field/value pair at the given position in orderedEntries,
// giving elementAt a stable index to address rather than a fresh randomized
// map range.
func (s *htStore) at(idx int) (field, value []byte, ttl uint64, ok bool) {
	if idx < 0 || idx >= len(s.entries) {
		return nil, nil, 0, false
	}
	e := s.orderedEntries()[idx]
	return e.field.Bytes, e.value, ExpiryOf(e.field), true
}
