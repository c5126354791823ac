package storage

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/fieldflux/fieldflux/internal/hfe"
)

var (
	ErrWrongType = errors.New("WRONGTYPE")
)

// MapStorage is a thread-safe key-value storage.
type MapStorage struct {
	data    map[string]Entity // key - value
	expires map[string]int64  // key - expires time nanoseconds
	mu      sync.RWMutex

	// hashExpires (C6) is this shard's global hash-expiry index: every hash
	// that currently has at least one field TTL is registered here, keyed
	// by its own minimum field expiry.
	hashExpires        *hfe.BucketSet[*hfe.Hash]
	hfeCfg             hfe.Config
	fieldsQuota        uint64
	lazyExpireDisabled bool
}

// NewMapStorage creates a new instance of MapStorage, configured with the
// encoding-promotion thresholds and active-expire fields budget that every
// hash on this shard will consult.
func NewMapStorage(hfeCfg hfe.Config, fieldsQuota uint64, lazyExpireDisabled bool) *MapStorage {
	return &MapStorage{
		data:               make(map[string]Entity),
		expires:            make(map[string]int64),
		hashExpires:        hfe.NewBucketSet[*hfe.Hash](),
		hfeCfg:             hfeCfg,
		fieldsQuota:        fieldsQuota,
		lazyExpireDisabled: lazyExpireDisabled,
	}
}

// lazyPolicy is the hfe.LazyPolicy every hash operation on this shard
// evaluates lazy expiry under. This server has no replica role, so
// IsMasterSession is always false. Every caller passes loading=false;
// Restore drops already-expired fields itself instead.
func (m *MapStorage) lazyPolicy(loading bool) hfe.LazyPolicy {
	return hfe.LazyPolicy{
		Now:                nowMs(),
		Loading:            loading,
		LazyExpireDisabled: m.lazyExpireDisabled,
	}
}

// Get returns the value and true if the key is found. Otherwise, "", false
func (m *MapStorage) Get(key string) (string, bool, error) {
	m.mu.RLock()
	exp, hasExp := m.expires[key]
	entity, ok := m.data[key]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}

	if entity.Type != TypeString {
		return "", false, ErrWrongType
	}

	if hasExp && time.Now().UnixNano() > exp {
		m.mu.Lock()
		defer m.mu.Unlock()

		// checking again, can be changed while waiting for the lock
		exp, hasExp = m.expires[key]
		if hasExp && time.Now().UnixNano() > exp {
			delete(m.data, key)
			delete(m.expires, key)
			return "", false, nil
		}

		entity, ok = m.data[key]
		if ok && entity.Type != TypeString {
			return "", false, ErrWrongType
		}
		if ok {
			return entity.Value.(string), true, nil
		}
		return "", false, nil
	}

	return entity.Value.(string), true, nil
}

// Set writes the value based on the options. Returns true if recording has been performed
func (m *MapStorage) Set(key, value string, options SetOptions) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.data[key]
	if exists {
		exp, hasExp := m.expires[key]

		// key exists but is expired, clean it up now so logic below treats it as new
		if hasExp && time.Now().UnixNano() > exp {
			delete(m.data, key)
			delete(m.expires, key)
			exists = false
		}
	}

	if options.NX && exists {
		return false
	}

	if options.XX && !exists {
		return false
	}

	m.data[key] = Entity{
		Type:  TypeString,
		Value: value,
	}

	if options.KeepTTL {
		// if KEEPTTL is set, we do nothing to m.expires (retain existing)
		// however, if the key is new (freshly created), KEEPTTL behaves like no TTL
		if !exists {
			delete(m.expires, key)
		}
	} else {
		if options.TTL == 0 {
			// no TTL provided (and not KEEPTTL), so we remove any existing expiration (persist)
			delete(m.expires, key)
		} else {
			m.expires[key] = time.Now().Add(options.TTL).UnixNano()
		}
	}

	return true
}

// Delete deletes the key. Returns true if the key existed and was deleted
func (m *MapStorage) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(key)
}

// deleteLocked removes key from data/expires and, if it held a hash
// registered in hashExpires (C6), unregisters it. Caller must hold m.mu.
func (m *MapStorage) deleteLocked(key string) bool {
	entity, ok := m.data[key]
	if !ok {
		return false
	}
	if entity.Type == TypeHash {
		m.hashExpires.Remove(entity.Value.(*hfe.Hash))
	}
	delete(m.data, key)
	delete(m.expires, key)
	return true
}

// Expiry returns the remaining lifetime and status as expiryStatus
func (m *MapStorage) Expiry(key string) (time.Duration, ExpiryStatus) {
	m.mu.RLock()

	_, ok := m.data[key]
	exp, hasExp := m.expires[key]

	m.mu.RUnlock()

	// key does not exist
	if !ok {
		return 0, ExpNotFound
	}

	// key without TTL
	if !hasExp {
		return 0, ExpNoTimeout
	}

	now := time.Now().UnixNano()

	if now > exp {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok = m.data[key]; !ok {
			return 0, ExpNotFound
		}

		exp, hasExp = m.expires[key]
		if !hasExp {
			return 0, ExpNoTimeout
		}

		now = time.Now().UnixNano()

		// key expired
		if now > exp {
			m.deleteLocked(key)
			return 0, ExpNotFound
		}

		return time.Duration(exp - now), ExpActive
	}

	return time.Duration(exp - now), ExpActive
}

// Persist removes the expiration date of the key, making it eternal.
// Returns 1 if successful, 0 if the key was not found or had no TTL
func (m *MapStorage) Persist(key string) int64 {
	m.mu.RLock()

	_, ok := m.data[key]
	_, hasExp := m.expires[key]

	m.mu.RUnlock()

	if !ok || !hasExp {
		return 0
	}

	m.mu.Lock()

	_, ok = m.data[key]
	_, hasExp = m.expires[key]

	if !ok || !hasExp {
		m.mu.Unlock()
		return 0
	}

	delete(m.expires, key)

	m.mu.Unlock()

	return 1
}

// nowMs is the clock every hfe operation on this shard evaluates expiry
// against.
func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// DeleteExpired randomly selects a limit of keys from this shard and
// deletes them if their TTL has expired, then runs a bounded HFE
// active-expire sweep (C9) over hashExpires using the shard's configured
// fields quota. Returns the string keys' expired/checked ratio when the
// sweep expired no hash field, and otherwise the average of that ratio and
// 1.0.
func (m *MapStorage) DeleteExpired(limit int) float64 {
	m.mu.Lock()

	var stringRatio float64
	if len(m.expires) > 0 {
		checked := 0
		expired := 0
		now := time.Now().UnixNano()

		// go map iteration is randomized by design
		for key, expTime := range m.expires {
			checked++
			if now > expTime {
				m.deleteLocked(key)
				expired++
			}

			if checked >= limit {
				break
			}
		}

		stringRatio = float64(expired) / float64(checked)
	}

	result := hfe.ActiveExpire(m.hashExpires, m.fieldsQuota, nowMs())
	for _, h := range result.EmptiedHashes {
		m.deleteLocked(h.Key())
	}

	m.mu.Unlock()

	if result.FieldsExpired == 0 {
		return stringRatio
	}
	return (stringRatio + 1.0) / 2.0
}

// writeString helper for writing a string with length
func writeString(w io.Writer, s string) error {
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(s)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	return nil
}

// readString helper for reading string with length
func readString(r io.Reader) (string, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return "", err
	}
	strLen := binary.LittleEndian.Uint32(lenBuf)

	buf := make([]byte, strLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// writeBytes is writeString generalized to raw field/value bytes, used by
// the hash payload (field-bytes, value-bytes, ttl-ms-or-0 per §6).
func writeBytes(w io.Writer, b []byte) error {
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(b)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return nil
}

func readBytes(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	strLen := binary.LittleEndian.Uint32(lenBuf)

	buf := make([]byte, strLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeHash serializes a hash's live fields as a count followed by
// (field-bytes, value-bytes, ttl-ms-or-0) tuples, per §6's persisted
// payload.
func writeHash(w io.Writer, h *hfe.Hash, now uint64) error {
	var entries []hfe.FieldSample
	h.Iter(now, true, func(field, value []byte, ttl uint64) {
		entries = append(entries, hfe.FieldSample{Field: field, Value: value, TTL: ttl})
	})

	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(entries)))
	if _, err := w.Write(countBuf); err != nil {
		return err
	}

	ttlBuf := make([]byte, 8)
	for _, e := range entries {
		if err := writeBytes(w, e.Field); err != nil {
			return err
		}
		if err := writeBytes(w, e.Value); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(ttlBuf, e.TTL)
		if _, err := w.Write(ttlBuf); err != nil {
			return err
		}
	}
	return nil
}

// readHash reconstructs a hash from the §6 payload, rebuilding its encoding
// and per-field TTL index (C5) from scratch via Hash.Set/SetExBatch, then
// reports the min-expire hint the caller must use to register it in C6.
func readHash(r io.Reader, key string, cfg hfe.Config, now uint64) (*hfe.Hash, uint64, error) {
	countBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, countBuf); err != nil {
		return nil, hfe.ExpireInvalid, err
	}
	count := binary.LittleEndian.Uint32(countBuf)

	h := hfe.NewHash(key, &cfg)
	ttlBuf := make([]byte, 8)

	for i := uint32(0); i < count; i++ {
		field, err := readBytes(r)
		if err != nil {
			return nil, hfe.ExpireInvalid, err
		}
		value, err := readBytes(r)
		if err != nil {
			return nil, hfe.ExpireInvalid, err
		}
		if _, err := io.ReadFull(r, ttlBuf); err != nil {
			return nil, hfe.ExpireInvalid, err
		}
		ttl := binary.LittleEndian.Uint64(ttlBuf)

		if ttl != 0 && ttl <= now {
			continue // already expired: drop it rather than resurrect it
		}

		h.Set(field, value, false)
		if ttl != 0 {
			batch := hfe.NewSetExBatch(h, now, hfe.CondNone)
			batch.Apply(field, ttl)
			batch.Done()
		}
	}

	return h, h.MinExpire(), nil
}

// Snapshot serializes the shard data in Writer.
func (m *MapStorage) Snapshot(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	header := make([]byte, 13)
	now := nowMs()

	for key, value := range m.data {
		exp, hasExp := m.expires[key]
		if !hasExp {
			exp = 0
		}

		binary.LittleEndian.PutUint32(header[0:4], uint32(len(key)))
		binary.LittleEndian.PutUint64(header[4:12], uint64(exp))
		header[12] = byte(value.Type)

		// header
		if _, err := w.Write(header); err != nil {
			return err
		}

		// key
		if _, err := io.WriteString(w, key); err != nil {
			return err
		}

		// value
		switch value.Type {
		case TypeString:
			if err := writeString(w, value.Value.(string)); err != nil {
				return err
			}
		case TypeList:
			//TODO List
		case TypeSet:
			//TODO Set
		case TypeHash:
			if err := writeHash(w, value.Value.(*hfe.Hash), now); err != nil {
				return err
			}
		case TypeZSet:
			//TODO ZSet
		}

	}

	return nil
}

// Restore reads the stream and fills the map
func (m *MapStorage) Restore(r io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	header := make([]byte, 13)
	now := nowMs()

	for {
		_, err := io.ReadFull(r, header)
		if err == io.EOF {
			return nil // end of stream
		}
		if err != nil {
			return err
		}

		keyLen := binary.LittleEndian.Uint32(header[0:4])
		exp := int64(binary.LittleEndian.Uint64(header[4:12]))
		valueType := DataType(header[12])

		// read key
		keyBuf := make([]byte, keyLen)
		if _, err := io.ReadFull(r, keyBuf); err != nil {
			return err
		}
		key := string(keyBuf)

		// read value
		var value interface{}
		var minExpireHint uint64 = hfe.ExpireInvalid

		switch valueType {
		case TypeString:
			val, err := readString(r)
			if err != nil {
				return err
			}
			value = val
		case TypeList:
			//TODO List
		case TypeSet:
			//TODO Set
		case TypeHash:
			h, hint, err := readHash(r, key, m.hfeCfg, now)
			if err != nil {
				return err
			}
			value = h
			minExpireHint = hint
		case TypeZSet:
			//TODO ZSet
		}

		if exp > 0 && time.Now().UnixNano() > exp {
			continue
		}

		m.data[key] = Entity{
			Type:  valueType,
			Value: value,
		}
		if exp > 0 {
			m.expires[key] = exp
		}
		if valueType == TypeHash && minExpireHint != hfe.ExpireInvalid {
			m.hashExpires.Add(value.(*hfe.Hash), minExpireHint)
		}
	}
}
