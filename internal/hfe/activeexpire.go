package hfe

import "math"

// FieldExpireEvent is one field actively reaped from hash, reported so the
// owning database can emit its propagation event (HDEL key field) before
// the field is forgotten, per §9 "emit, then free".
type FieldExpireEvent struct {
	Hash  *Hash
	Field []byte
}

// ActiveExpireResult summarizes one ActiveExpire invocation.
type ActiveExpireResult struct {
	// FieldsExpired is bounded by the quota passed in (property 7, §8).
	FieldsExpired uint64
	FieldEvents   []FieldExpireEvent
	// EmptiedHashes lists hashes that lost their last field this sweep; the
	// caller must delete their keys.
	EmptiedHashes []*Hash
}

// ActiveExpire (C9) sweeps hashBuckets (the global index, C6) for hashes due
// to expire, bounded by a total fields quota rather than a hash count. It
// mirrors db_active_expire/hash_active_expire from §4.7: the driver hands an
// effectively-unbounded hash count to the underlying bucket sweep and lets
// the per-hash callback self-limit against the shrinking quota, stopping the
// instant it would be asked to do work with none left.
func ActiveExpire(hashBuckets *BucketSet[*Hash], quota uint64, now uint64) ActiveExpireResult {
	var result ActiveExpireResult
	quotaLeft := quota

	cb := func(h *Hash) (ExpireOutcome, uint64) {
		if quotaLeft == 0 {
			return ExpireStop, 0
		}

		consumed, next := hashActiveExpireOne(h, now, quotaLeft, &result)
		quotaLeft -= consumed
		result.FieldsExpired += consumed

		if next == ExpireInvalid {
			if h.rawLength() == 0 {
				result.EmptiedHashes = append(result.EmptiedHashes, h)
			}
			return ExpireRemove, 0
		}
		return ExpireUpdateOutcome, next
	}

	hashBuckets.Expire(now, math.MaxUint64, cb)
	return result
}

// hashActiveExpireOne runs the bounded local sweep for one hash (via C3 for
// LpStoreEx, via C5 for HtStore), recording a FieldExpireEvent per field it
// removes. Returns the number of fields consumed and the hash's resulting
// min-expire (ExpireInvalid if none remain).
func hashActiveExpireOne(h *Hash, now uint64, quotaLeft uint64, result *ActiveExpireResult) (consumed uint64, nextExpire uint64) {
	switch h.kind {
	case encLpEx:
		removed, next := h.lpex.expireFields(now, int(quotaLeft))
		for _, field := range removed {
			result.FieldEvents = append(result.FieldEvents, FieldExpireEvent{Hash: h, Field: field})
		}
		if next == 0 {
			return uint64(len(removed)), ExpireInvalid
		}
		return uint64(len(removed)), next

	case encHt:
		if h.ht.bucket == nil {
			return 0, ExpireInvalid
		}
		var count uint64
		h.ht.bucket.Expire(now, quotaLeft, func(f *Field) (ExpireOutcome, uint64) {
			count++
			field := append([]byte(nil), f.Bytes...)
			result.FieldEvents = append(result.FieldEvents, FieldExpireEvent{Hash: h, Field: field})
			delete(h.ht.entries, string(f.Bytes))
			return ExpireRemove, 0
		})
		return count, h.ht.bucket.PeekMin()
	}
	return 0, ExpireInvalid
}
