package hfe

import "math/rand"

// encKind identifies which of the three encodings a Hash currently holds.
type encKind uint8

const (
	encLp encKind = iota
	encLpEx
	encHt
)

// Hash (C7) is an opaque handle holding exactly one of LpStore, LpStoreEx, or
// HtStore, dispatching every operation to the active encoding. global is the
// hash's own expiry slot, used only when it is linked into a BucketSet[*Hash]
// (C6) by the owning storage shard — Hash itself never touches C6 directly.
type Hash struct {
	key  string
	cfg  *Config
	kind encKind

	lp   *lpStore
	lpex *lpExStore
	ht   *htStore

	global ExpirySlot
}

func (h *Hash) expirySlot() *ExpirySlot { return &h.global }

// NewHash allocates an empty hash in the LpStore encoding.
func NewHash(key string, cfg *Config) *Hash {
	return &Hash{
		key:    key,
		cfg:    cfg,
		kind:   encLp,
		lp:     newLpStore(),
		global: ExpirySlot{expireAt: ExpireInvalid, trash: true},
	}
}

// Key returns the hash's reference to its owning database key.
func (h *Hash) Key() string { return h.key }

// UpdateKeyRef retargets the hash's key reference, called by the owning
// database on rename.
func (h *Hash) UpdateKeyRef(newKey string) { h.key = newKey }

// LazyPolicy controls whether Get/Exists are allowed to lazily expire a
// field. Suppressed when loading an RDB/AOF, when lazy expiry is disabled
// globally, or when the calling session is a replication stream from the
// master (a replica must wait for the master's explicit delete).
type LazyPolicy struct {
	Now                uint64
	Loading            bool
	LazyExpireDisabled bool
	IsMasterSession    bool
}

func (p LazyPolicy) suppressed() bool {
	return p.Loading || p.LazyExpireDisabled || p.IsMasterSession
}

// GetOutcome classifies the result of Hash.Get.
type GetOutcome uint8

const (
	GetFound GetOutcome = iota
	GetMissing
	// GetExpired means the field was lazily deleted by this call but the
	// hash still has other fields.
	GetExpired
	// GetExpiredHash means the field was lazily deleted and was the last
	// field; the hash is now empty and the caller must delete the key.
	GetExpiredHash
)

type GetResult struct {
	Value   []byte
	Outcome GetOutcome
}

// ExistsResult is the result of Hash.Exists.
type ExistsResult struct {
	Exists      bool
	HashDeleted bool
}

func (h *Hash) rawGet(field []byte) (value []byte, ttl uint64, found bool) {
	switch h.kind {
	case encLp:
		v, ok := h.lp.get(field)
		return v, ExpireInvalid, ok
	case encLpEx:
		v, t, ok := h.lpex.get(field)
		if !ok {
			return nil, ExpireInvalid, false
		}
		if t == 0 {
			t = ExpireInvalid
		}
		return v, t, true
	case encHt:
		v, ok := h.ht.get(field)
		if !ok {
			return nil, ExpireInvalid, false
		}
		return v, h.ht.ttlOf(field), true
	}
	return nil, ExpireInvalid, false
}

// Get reads field, applying the lazy-expiry policy: if the field's TTL has
// passed and expiry is not suppressed, the field is deleted as a side
// effect and the outcome reflects whether the hash emptied as a result. The
// caller (storage) is responsible for the propagation event and, on
// GetExpiredHash, for deleting the key.
func (h *Hash) Get(field []byte, policy LazyPolicy) GetResult {
	value, ttl, found := h.rawGet(field)
	if !found {
		return GetResult{Outcome: GetMissing}
	}
	if ttl != ExpireInvalid && !policy.suppressed() && ttl < policy.Now {
		h.Delete(field)
		if h.rawLength() == 0 {
			return GetResult{Outcome: GetExpiredHash}
		}
		return GetResult{Outcome: GetExpired}
	}
	return GetResult{Value: value, Outcome: GetFound}
}

// TTLOf returns field's current expire time in ms (ExpireInvalid if the
// field is missing or has no TTL), without applying lazy expiry. Callers
// that need the lazy-expiry side effect first should call Get/Exists and
// only consult TTLOf once they know the field is still live.
func (h *Hash) TTLOf(field []byte) uint64 {
	_, ttl, found := h.rawGet(field)
	if !found {
		return ExpireInvalid
	}
	return ttl
}

// Exists reports field membership under the same lazy-expiry policy as Get.
func (h *Hash) Exists(field []byte, policy LazyPolicy) ExistsResult {
	res := h.Get(field, policy)
	switch res.Outcome {
	case GetFound:
		return ExistsResult{Exists: true}
	case GetExpiredHash:
		return ExistsResult{Exists: false, HashDeleted: true}
	default:
		return ExistsResult{Exists: false}
	}
}

// willExceedLimits reports whether setting (field, value) would push the
// active encoding past the configured listpack size/value limits, net of
// field already being present (an update never grows the entry count).
func (h *Hash) willExceedLimits(field, value []byte) bool {
	if len(field) > h.cfg.MaxListpackValue || len(value) > h.cfg.MaxListpackValue {
		return true
	}
	switch h.kind {
	case encLp:
		if h.lp.find(field) >= 0 {
			return false
		}
		return h.lp.length()+1 > h.cfg.MaxListpackEntries
	case encLpEx:
		if h.lpex.find(field) >= 0 {
			return false
		}
		return h.lpex.length()+1 > h.cfg.MaxListpackEntries
	}
	return false
}

// Set upserts field with value. keepTTL preserves any TTL already attached
// to field (used by HINCRBY/HINCRBYFLOAT, which must never attach or clear a
// TTL as a side effect of updating a counter). Returns true if a new field
// was created.
func (h *Hash) Set(field, value []byte, keepTTL bool) bool {
	if h.willExceedLimits(field, value) {
		h.promoteToHt()
	}
	switch h.kind {
	case encLp:
		return h.lp.set(field, value)
	case encLpEx:
		return h.lpex.set(field, value, keepTTL)
	case encHt:
		if !keepTTL {
			h.ht.clearTTL(field)
		}
		return h.ht.set(field, value)
	}
	return false
}

// Delete removes field unconditionally. Returns false if it did not exist.
func (h *Hash) Delete(field []byte) bool {
	switch h.kind {
	case encLp:
		return h.lp.delete(field)
	case encLpEx:
		return h.lpex.delete(field)
	case encHt:
		return h.ht.delete(field)
	}
	return false
}

func (h *Hash) rawLength() int {
	switch h.kind {
	case encLp:
		return h.lp.length()
	case encLpEx:
		return h.lpex.length()
	case encHt:
		return h.ht.length()
	}
	return 0
}

// Length returns the field count, optionally subtracting fields that are
// currently expired but not yet lazily/actively reaped (property 4 in §8).
func (h *Hash) Length(now uint64, subtractExpired bool) uint64 {
	total := h.rawLength()
	expired := 0
	if subtractExpired {
		switch h.kind {
		case encLpEx:
			expired = h.lpex.dryRunExpired(now)
		case encHt:
			if h.ht.bucket != nil {
				expired = int(h.ht.bucket.ExpireDryRun(now))
			}
		}
	}
	return uint64(total - expired)
}

// Iter walks every field in the hash. If skipExpired, fields whose TTL has
// passed relative to now are skipped (without being deleted — this is a
// read-only pass, e.g. for HGETALL's apparent view).
func (h *Hash) Iter(now uint64, skipExpired bool, fn func(field, value []byte, ttl uint64)) {
	switch h.kind {
	case encLp:
		h.lp.iterate(func(field, value []byte) { fn(field, value, 0) })
	case encLpEx:
		h.lpex.iterate(func(field, value []byte, ttl uint64) {
			if skipExpired && ttl != 0 && ttl <= now {
				return
			}
			fn(field, value, ttl)
		})
	case encHt:
		h.ht.iterate(func(field, value []byte, ttl uint64) {
			if ttl == ExpireInvalid {
				ttl = 0
			}
			if skipExpired && ttl != 0 && ttl <= now {
				return
			}
			fn(field, value, ttl)
		})
	}
}

func (h *Hash) elementAt(idx int) (field, value []byte, ttl uint64, ok bool) {
	switch h.kind {
	case encLp:
		if idx < 0 || idx >= len(h.lp.entries) {
			return nil, nil, 0, false
		}
		e := h.lp.entries[idx]
		return e.field, e.value, 0, true
	case encLpEx:
		if idx < 0 || idx >= len(h.lpex.entries) {
			return nil, nil, 0, false
		}
		e := h.lpex.entries[idx]
		return e.field, e.value, e.ttl, true
	case encHt:
		return h.ht.at(idx)
	}
	return nil, nil, 0, false
}

// RandomElement returns one uniformly-chosen field, or ok=false if the hash
// is empty.
func (h *Hash) RandomElement() (field, value []byte, ttl uint64, ok bool) {
	n := h.rawLength()
	if n == 0 {
		return nil, nil, 0, false
	}
	return h.elementAt(rand.Intn(n))
}

// FieldSample is one result row of RandomCount.
type FieldSample struct {
	Field []byte
	Value []byte
	TTL   uint64
}

// RandomCount implements HRANDFIELD's count semantics: a negative count
// samples |count| fields with replacement (duplicates allowed); a positive
// count samples min(count, size) fields without replacement; count >= size
// returns every field once, in iteration order.
func (h *Hash) RandomCount(count int) []FieldSample {
	size := h.rawLength()
	if size == 0 || count == 0 {
		return nil
	}

	if count < 0 {
		n := -count
		out := make([]FieldSample, 0, n)
		for i := 0; i < n; i++ {
			field, value, ttl, ok := h.RandomElement()
			if !ok {
				break
			}
			out = append(out, FieldSample{field, value, ttl})
		}
		return out
	}

	if count >= size {
		out := make([]FieldSample, 0, size)
		h.Iter(ExpireInvalid, false, func(field, value []byte, ttl uint64) {
			out = append(out, FieldSample{field, value, ttl})
		})
		return out
	}

	indices := rand.Perm(size)[:count]

	// The hashtable encoding has no inherent positional index, so materialize
	// its sorted ordering once up front and sample every index against it,
	// rather than rebuilding and re-sorting it per index through elementAt.
	if h.kind == encHt {
		ordered := h.ht.orderedEntries()
		out := make([]FieldSample, 0, count)
		for _, idx := range indices {
			if idx < 0 || idx >= len(ordered) {
				continue
			}
			e := ordered[idx]
			out = append(out, FieldSample{e.field.Bytes, e.value, ExpiryOf(e.field)})
		}
		return out
	}

	out := make([]FieldSample, 0, count)
	for _, idx := range indices {
		field, value, ttl, ok := h.elementAt(idx)
		if ok {
			out = append(out, FieldSample{field, value, ttl})
		}
	}
	return out
}

// MinExpire returns the hash's minimum field expiry, or ExpireInvalid if no
// field currently carries a TTL. This is the value the owning database uses
// as the hash's key in C6.
func (h *Hash) MinExpire() uint64 {
	switch h.kind {
	case encLpEx:
		return h.lpex.minExpire()
	case encHt:
		return h.ht.minExpire()
	}
	return ExpireInvalid
}

// NextExpireAfterMin reports the hash's min-expire after a mutation that may
// have consumed the previous minimum; it is simply the current MinExpire,
// re-exposed under the name ActiveExpire's driver expects (info.next_expire).
func (h *Hash) NextExpireAfterMin() uint64 { return h.MinExpire() }

// Persist clears field's TTL. Reports whether the field existed and, if so,
// whether it had a TTL to clear.
func (h *Hash) Persist(field []byte) PersistOutcome {
	switch h.kind {
	case encLp:
		if h.lp.find(field) < 0 {
			return PersistNoField
		}
		return PersistNoTTL
	case encLpEx:
		i := h.lpex.find(field)
		if i < 0 {
			return PersistNoField
		}
		if h.lpex.entries[i].ttl == 0 {
			return PersistNoTTL
		}
		h.lpex.clearTTL(field)
		return PersistOK
	case encHt:
		if _, ok := h.ht.entries[string(field)]; !ok {
			return PersistNoField
		}
		if h.ht.ttlOf(field) == ExpireInvalid {
			return PersistNoTTL
		}
		h.ht.clearTTL(field)
		return PersistOK
	}
	return PersistNoField
}

// Dup deep-copies the hash under newKey, preserving encoding and per-field
// TTLs. The caller must register the copy in C6 using the returned hint if
// it is valid.
func (h *Hash) Dup(newKey string) (*Hash, uint64) {
	nh := &Hash{
		key:    newKey,
		cfg:    h.cfg,
		kind:   h.kind,
		global: ExpirySlot{expireAt: ExpireInvalid, trash: true},
	}
	switch h.kind {
	case encLp:
		nh.lp = newLpStore()
		h.lp.iterate(func(field, value []byte) { nh.lp.set(field, value) })
	case encLpEx:
		nh.lpex = newLpExStore()
		h.lpex.iterate(func(field, value []byte, ttl uint64) {
			nh.lpex.set(field, value, false)
			if ttl != 0 {
				nh.lpex.setTTL(field, ttl, CondNone, 0)
			}
		})
	case encHt:
		nh.ht = newHtStore()
		h.ht.iterate(func(field, value []byte, ttl uint64) {
			nh.ht.set(field, value)
			if ttl != ExpireInvalid {
				nh.ht.ensureExpirySlot()
				f := nh.ht.fieldFor(field)
				nh.ht.bucket.Add(f, ttl)
			}
		})
	}
	return nh, nh.MinExpire()
}

// promoteToLpEx is the C2->C3 transition, triggered the first time a TTL
// operation touches a plain LpStore hash.
func (h *Hash) promoteToLpEx() {
	if h.kind != encLp {
		return
	}
	nlp := newLpExStore()
	h.lp.iterate(func(field, value []byte) { nlp.set(field, value, false) })
	h.kind = encLpEx
	h.lpex = nlp
	h.lp = nil
}

// promoteToHt is the C2/C3->C4 transition, triggered by a size or
// value-length violation. Rebuilds the per-hash field-expiry index (C5)
// from any TTLs already present; the hash's own C6 registration is
// untouched (it lives in the embedded global slot, never inside the
// encoding, so promotion cannot disturb it).
func (h *Hash) promoteToHt() {
	nht := newHtStore()
	switch h.kind {
	case encLp:
		h.lp.iterate(func(field, value []byte) { nht.set(field, value) })
	case encLpEx:
		nht.ensureExpirySlot()
		h.lpex.iterate(func(field, value []byte, ttl uint64) {
			nht.set(field, value)
			if ttl != 0 {
				f := nht.fieldFor(field)
				nht.bucket.Add(f, ttl)
			}
		})
	default:
		return
	}
	h.kind = encHt
	h.ht = nht
	h.lp = nil
	h.lpex = nil
}
