package storage

import (
	"errors"
	"path/filepath"
	"strconv"

	"github.com/fieldflux/fieldflux/internal/hfe"
)

// ErrNotInteger/ErrNotFloat mirror the teacher's ErrWrongType shape: a
// sentinel the command layer can compare against with errors.Is.
var (
	ErrNotInteger = errors.New("hash value is not an integer")
	ErrNotFloat   = errors.New("hash value is not a float")
)

// getHashLocked looks up key's hash. Caller must hold m.mu (read or write).
func (m *MapStorage) getHashLocked(key string) (h *hfe.Hash, found bool, err error) {
	entity, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	if entity.Type != TypeHash {
		return nil, false, ErrWrongType
	}
	return entity.Value.(*hfe.Hash), true, nil
}

// ensureHashLocked returns key's hash, creating an empty one if absent.
// Caller must hold m.mu for writing and must have already checked for
// ErrWrongType via getHashLocked.
func (m *MapStorage) ensureHashLocked(key string) *hfe.Hash {
	if entity, ok := m.data[key]; ok {
		return entity.Value.(*hfe.Hash)
	}
	h := hfe.NewHash(key, &m.hfeCfg)
	m.data[key] = Entity{Type: TypeHash, Value: h}
	return h
}

// reconcileHashIndexLocked re-registers h in hashExpires (C6) at its
// current minimum field expiry, or unregisters it if none remain. Caller
// must hold m.mu for writing.
func (m *MapStorage) reconcileHashIndexLocked(h *hfe.Hash) {
	min := h.MinExpire()
	if min == hfe.ExpireInvalid {
		m.hashExpires.Remove(h)
		return
	}
	m.hashExpires.Add(h, min)
}

// handleExpiredHash applies a hfe.GetResult's side effect (lazy deletion of
// an expired field, possibly emptying the hash) to the shard's key
// directory. Caller must hold m.mu for writing.
func (m *MapStorage) handleExpiredHash(key string, outcome hfe.GetOutcome) {
	if outcome == hfe.GetExpiredHash {
		m.deleteLocked(key)
	}
}

// HSet upserts fields in the hash stored at key, clearing any per-field
// TTL already attached to a field it overwrites. Returns the number of
// fields created (not updated).
func (m *MapStorage) HSet(key string, fields []HashFieldValue) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, _, err := m.getHashLocked(key); err != nil {
		return 0, err
	}

	h := m.ensureHashLocked(key)

	var created int64
	for _, fv := range fields {
		if h.Set(fv.Field, fv.Value, false) {
			created++
		}
	}

	m.reconcileHashIndexLocked(h)
	return created, nil
}

// HSetNX sets field only if it does not already exist in the hash.
func (m *MapStorage) HSetNX(key string, field, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, found, err := m.getHashLocked(key)
	if err != nil {
		return false, err
	}
	if found {
		res := h.Get(field, m.lazyPolicy(false))
		m.handleExpiredHash(key, res.Outcome)
		if res.Outcome == hfe.GetFound {
			return false, nil
		}
		if res.Outcome == hfe.GetExpiredHash {
			h = nil
			found = false
		}
	}
	if !found {
		h = m.ensureHashLocked(key)
	}

	h.Set(field, value, false)
	m.reconcileHashIndexLocked(h)
	return true, nil
}

// HGet returns the value of field in the hash stored at key.
func (m *MapStorage) HGet(key string, field []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, found, err := m.getHashLocked(key)
	if err != nil || !found {
		return nil, false, err
	}

	res := h.Get(field, m.lazyPolicy(false))
	m.handleExpiredHash(key, res.Outcome)
	if res.Outcome != hfe.GetFound {
		return nil, false, nil
	}
	return res.Value, true, nil
}

// HMGet returns the values of the given fields; a nil entry marks a
// missing or expired field.
func (m *MapStorage) HMGet(key string, fields [][]byte) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(fields))

	h, found, err := m.getHashLocked(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return out, nil
	}

	for i, field := range fields {
		res := h.Get(field, m.lazyPolicy(false))
		m.handleExpiredHash(key, res.Outcome)
		if res.Outcome == hfe.GetFound {
			out[i] = res.Value
		}
		if res.Outcome == hfe.GetExpiredHash {
			// hash is gone; remaining fields are trivially missing
			for j := i + 1; j < len(fields); j++ {
				out[j] = nil
			}
			break
		}
	}
	return out, nil
}

// HGetAll returns every live field/value pair in the hash.
func (m *MapStorage) HGetAll(key string) ([]HashFieldValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, found, err := m.getHashLocked(key)
	if err != nil || !found {
		return nil, err
	}

	var out []HashFieldValue
	h.Iter(nowMs(), true, func(field, value []byte, ttl uint64) {
		out = append(out, HashFieldValue{Field: field, Value: value})
	})
	return out, nil
}

// HKeys returns every live field name in the hash.
func (m *MapStorage) HKeys(key string) ([][]byte, error) {
	pairs, err := m.HGetAll(key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(pairs))
	for i, p := range pairs {
		out[i] = p.Field
	}
	return out, nil
}

// HVals returns every live value in the hash.
func (m *MapStorage) HVals(key string) ([][]byte, error) {
	pairs, err := m.HGetAll(key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(pairs))
	for i, p := range pairs {
		out[i] = p.Value
	}
	return out, nil
}

// HExists reports whether field exists (and is not expired).
func (m *MapStorage) HExists(key string, field []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, found, err := m.getHashLocked(key)
	if err != nil || !found {
		return false, err
	}
	res := h.Exists(field, m.lazyPolicy(false))
	if res.HashDeleted {
		m.deleteLocked(key)
	}
	return res.Exists, nil
}

// HLen returns the number of live fields in the hash.
func (m *MapStorage) HLen(key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, found, err := m.getHashLocked(key)
	if err != nil || !found {
		return 0, err
	}
	return int64(h.Length(nowMs(), true)), nil
}

// HStrLen returns the byte length of field's value, or 0 if absent.
func (m *MapStorage) HStrLen(key string, field []byte) (int64, error) {
	value, found, err := m.HGet(key, field)
	if err != nil || !found {
		return 0, err
	}
	return int64(len(value)), nil
}

// HScan incrementally iterates the hash's fields. The cursor is an offset
// into the hash's current apparent (live) iteration order; match is a
// glob pattern against field names ("" matches everything). The plain
// listpack is insertion-ordered, the TTL listpack is ordered by TTL (no-TTL
// fields last), and the hashtable encoding sorts
// by field bytes (htStore.orderedEntries) rather than ranging the Go map
// directly, so repeated calls against an unmutated hash see the same order
// and a cursor never skips or repeats a field across pages.
func (m *MapStorage) HScan(key string, cursor uint64, match string, count int, novalues bool) (uint64, []HashFieldValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, found, err := m.getHashLocked(key)
	if err != nil || !found {
		return 0, nil, err
	}

	if count <= 0 {
		count = 10
	}

	var all []HashFieldValue
	h.Iter(nowMs(), true, func(field, value []byte, ttl uint64) {
		all = append(all, HashFieldValue{Field: field, Value: value})
	})

	if cursor >= uint64(len(all)) {
		return 0, nil, nil
	}

	end := cursor + uint64(count)
	if end > uint64(len(all)) {
		end = uint64(len(all))
	}

	page := make([]HashFieldValue, 0, end-cursor)
	for _, pair := range all[cursor:end] {
		if match != "" {
			if ok, _ := filepath.Match(match, string(pair.Field)); !ok {
				continue
			}
		}
		if novalues {
			pair.Value = nil
		}
		page = append(page, pair)
	}

	next := end
	if next >= uint64(len(all)) {
		next = 0
	}
	return next, page, nil
}

// HIncrBy increments field's integer value by delta, treating a missing
// or expired field as 0. Never attaches or clears a TTL.
func (m *MapStorage) HIncrBy(key string, field []byte, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, found, err := m.getHashLocked(key)
	if err != nil {
		return 0, err
	}

	var current int64
	if found {
		res := h.Get(field, m.lazyPolicy(false))
		m.handleExpiredHash(key, res.Outcome)
		if res.Outcome == hfe.GetExpiredHash {
			found = false
		} else if res.Outcome == hfe.GetFound {
			current, err = strconv.ParseInt(string(res.Value), 10, 64)
			if err != nil {
				return 0, ErrNotInteger
			}
		}
	}

	if !found {
		h = m.ensureHashLocked(key)
	}

	newVal := current + delta
	h.Set(field, []byte(strconv.FormatInt(newVal, 10)), true)
	return newVal, nil
}

// HIncrByFloat increments field's float value by delta.
func (m *MapStorage) HIncrByFloat(key string, field []byte, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, found, err := m.getHashLocked(key)
	if err != nil {
		return 0, err
	}

	var current float64
	if found {
		res := h.Get(field, m.lazyPolicy(false))
		m.handleExpiredHash(key, res.Outcome)
		if res.Outcome == hfe.GetExpiredHash {
			found = false
		} else if res.Outcome == hfe.GetFound {
			current, err = strconv.ParseFloat(string(res.Value), 64)
			if err != nil {
				return 0, ErrNotFloat
			}
		}
	}

	if !found {
		h = m.ensureHashLocked(key)
	}

	newVal := current + delta
	h.Set(field, []byte(strconv.FormatFloat(newVal, 'f', -1, 64)), true)
	return newVal, nil
}

// HDel removes the given fields, deleting key if the hash becomes empty.
// Returns the number of fields actually removed.
func (m *MapStorage) HDel(key string, fields [][]byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, found, err := m.getHashLocked(key)
	if err != nil || !found {
		return 0, err
	}

	var removed int64
	for _, field := range fields {
		if h.Delete(field) {
			removed++
		}
	}

	if h.Length(nowMs(), false) == 0 {
		m.deleteLocked(key)
	} else {
		m.reconcileHashIndexLocked(h)
	}
	return removed, nil
}

// HExpire sets expireAtMs (absolute, milliseconds since epoch) on each
// field under cond. Returns one HExpireCode per field, in order.
func (m *MapStorage) HExpire(key string, expireAtMs uint64, cond hfe.ExpireSetCond, fields [][]byte) ([]HExpireCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, found, err := m.getHashLocked(key)
	if err != nil {
		return nil, err
	}
	codes := make([]HExpireCode, len(fields))
	if !found {
		for i := range codes {
			codes[i] = HExpireNoField
		}
		return codes, nil
	}

	batch := hfe.NewSetExBatch(h, nowMs(), cond)
	for i, field := range fields {
		switch batch.Apply(field, expireAtMs) {
		case hfe.ApplyOK, hfe.ApplyUpdated:
			codes[i] = HExpireOK
		case hfe.ApplyNoField:
			codes[i] = HExpireNoField
		case hfe.ApplyConditionNotMet:
			codes[i] = HExpireNoCond
		case hfe.ApplyDeleted:
			codes[i] = HExpireDeleted
		}
	}

	result := batch.Done()
	if result.HashEmpty {
		m.deleteLocked(key)
	} else if result.IndexChanged {
		if result.NewMin == hfe.ExpireInvalid {
			m.hashExpires.Remove(h)
		} else {
			m.hashExpires.Add(h, result.NewMin)
		}
	}
	return codes, nil
}

// HTTL returns each field's remaining TTL in milliseconds, or the
// HTTLNoTTL/HTTLNoField sentinels.
func (m *MapStorage) HTTL(key string, fields [][]byte) ([]int64, error) {
	return m.hTTLLike(key, fields, false)
}

// HExpireTime returns each field's absolute expire time in milliseconds,
// or the HTTLNoTTL/HTTLNoField sentinels.
func (m *MapStorage) HExpireTime(key string, fields [][]byte) ([]int64, error) {
	return m.hTTLLike(key, fields, true)
}

func (m *MapStorage) hTTLLike(key string, fields [][]byte, absolute bool) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int64, len(fields))
	h, found, err := m.getHashLocked(key)
	if err != nil {
		return nil, err
	}
	if !found {
		for i := range out {
			out[i] = HTTLNoField
		}
		return out, nil
	}

	now := nowMs()
	for i, field := range fields {
		res := h.Get(field, m.lazyPolicy(false))
		m.handleExpiredHash(key, res.Outcome)
		switch res.Outcome {
		case hfe.GetMissing, hfe.GetExpired, hfe.GetExpiredHash:
			out[i] = HTTLNoField
			continue
		}

		ttl := h.TTLOf(field)
		if ttl == hfe.ExpireInvalid {
			out[i] = HTTLNoTTL
			continue
		}
		if absolute {
			out[i] = int64(ttl)
		} else {
			remaining := int64(ttl) - int64(now)
			if remaining < 0 {
				remaining = 0
			}
			out[i] = remaining
		}
	}
	return out, nil
}

// HPersist clears the given fields' TTLs. Returns one HPersistCode per
// field, in order.
func (m *MapStorage) HPersist(key string, fields [][]byte) ([]HPersistCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	codes := make([]HPersistCode, len(fields))
	h, found, err := m.getHashLocked(key)
	if err != nil {
		return nil, err
	}
	if !found {
		for i := range codes {
			codes[i] = HPersistNoField
		}
		return codes, nil
	}

	for i, field := range fields {
		switch h.Persist(field) {
		case hfe.PersistOK:
			codes[i] = HPersistOK
		case hfe.PersistNoTTL:
			codes[i] = HPersistNoTTL
		case hfe.PersistNoField:
			codes[i] = HPersistNoField
		}
	}

	m.reconcileHashIndexLocked(h)
	return codes, nil
}

// HRandField samples count fields, per hfe.Hash.RandomCount's semantics.
func (m *MapStorage) HRandField(key string, count int) ([]hfe.FieldSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, found, err := m.getHashLocked(key)
	if err != nil || !found {
		return nil, err
	}
	return h.RandomCount(count), nil
}
