package storage

import (
	"io"
	"time"

	"github.com/fieldflux/fieldflux/internal/hfe"
)

type ExpiryStatus int

const (
	// ExpNotFound means that the key does not exist
	ExpNotFound ExpiryStatus = -2
	// ExpNoTimeout means that the key exists, but it does not have a TTL
	ExpNoTimeout ExpiryStatus = -1
	// ExpActive means that the key has an active lifetime
	ExpActive ExpiryStatus = 1
)

type SetOptions struct {
	TTL     time.Duration // key lifetime
	KeepTTL bool          // if true, retain the existing TTL (ignore TTL field)
	NX      bool          // only set if the key does not exist
	XX      bool          // only set if the key already exists
}

// HashFieldValue is one field/value pair, used by the bulk hash reads
// (HGetAll/HScan) and by HSet's multi-field form.
type HashFieldValue struct {
	Field []byte
	Value []byte
}

// HExpireCode is the per-field reply code of HExpire/HPExpire/HExpireAt/
// HPExpireAt, matching spec.md's NO_FIELD/NO_COND/OK/DELETED table.
type HExpireCode int64

const (
	HExpireNoField HExpireCode = -2
	HExpireNoCond  HExpireCode = 0
	HExpireOK      HExpireCode = 1
	HExpireDeleted HExpireCode = 2
)

// HPersistCode is the per-field reply code of HPersist.
type HPersistCode int64

const (
	HPersistNoField HPersistCode = -2
	HPersistNoTTL   HPersistCode = -1
	HPersistOK      HPersistCode = 1
)

// Sentinel values returned in the per-field TTL slices of HTTL/HExpireTime
// when a field has no TTL or does not exist, matching HPersistCode's
// NoTTL/NoField values.
const (
	HTTLNoField int64 = -2
	HTTLNoTTL   int64 = -1
)

// Storage is a common interface for working with key-value storages
type Storage interface {
	// Get returns the value and true if the key is found. Otherwise, "", false
	Get(key string) (string, bool, error)

	// Set writes the value based on the options. Returns true if recording has been performed
	Set(key, value string, options SetOptions) bool

	// Delete deletes the key. Returns true if the key existed and was deleted
	Delete(key string) bool

	// Expiry returns the remaining lifetime and status as ExpiryStatus
	Expiry(key string) (time.Duration, ExpiryStatus)

	// Persist removes the expiration date of the key, making it eternal.
	// Returns 1 if successful, 0 if the key was not found or had no TTL
	Persist(key string) int64

	// DeleteExpired randomly selects a limit of keys from each shard and
	// deletes them if their TTL has expired, also running a bounded HFE
	// active-expire sweep over hash fields in the same pass
	DeleteExpired(limit int) float64

	// Snapshot writes the entire state of the storage to the writer.
	// Implementation must ensure consistency (or shard-level consistency)
	Snapshot(w io.Writer) error

	// Restore reads the state from the reader and populates the storage
	Restore(r io.Reader) error

	// HSet upserts fields in the hash stored at key, clearing any per-field
	// TTL already attached to a field it overwrites. Returns the number of
	// fields created (not updated).
	HSet(key string, fields []HashFieldValue) (int64, error)

	// HSetNX sets field only if it does not already exist in the hash.
	HSetNX(key string, field, value []byte) (bool, error)

	// HGet returns the value of field in the hash stored at key.
	HGet(key string, field []byte) ([]byte, bool, error)

	// HMGet returns the values of the given fields; a nil entry marks a
	// missing or expired field.
	HMGet(key string, fields [][]byte) ([][]byte, error)

	// HGetAll returns every live field/value pair in the hash.
	HGetAll(key string) ([]HashFieldValue, error)

	// HKeys returns every live field name in the hash.
	HKeys(key string) ([][]byte, error)

	// HVals returns every live value in the hash.
	HVals(key string) ([][]byte, error)

	// HExists reports whether field exists (and is not expired).
	HExists(key string, field []byte) (bool, error)

	// HLen returns the number of live fields in the hash.
	HLen(key string) (int64, error)

	// HStrLen returns the byte length of field's value, or 0 if absent.
	HStrLen(key string, field []byte) (int64, error)

	// HScan incrementally iterates the hash's fields. match is a glob
	// pattern ("" matches everything); novalues omits values from pairs.
	HScan(key string, cursor uint64, match string, count int, novalues bool) (nextCursor uint64, pairs []HashFieldValue, err error)

	// HIncrBy increments field's integer value by delta, treating a
	// missing or expired field as 0. Never attaches or clears a TTL.
	HIncrBy(key string, field []byte, delta int64) (int64, error)

	// HIncrByFloat increments field's float value by delta.
	HIncrByFloat(key string, field []byte, delta float64) (float64, error)

	// HDel removes the given fields, deleting key if the hash becomes
	// empty. Returns the number of fields actually removed.
	HDel(key string, fields [][]byte) (int64, error)

	// HExpire sets expireAtMs (absolute, milliseconds since epoch) on each
	// field under cond. Returns one HExpireCode per field, in order.
	HExpire(key string, expireAtMs uint64, cond hfe.ExpireSetCond, fields [][]byte) ([]HExpireCode, error)

	// HTTL returns each field's remaining TTL in milliseconds, or the
	// HTTLNoTTL/HTTLNoField sentinels.
	HTTL(key string, fields [][]byte) ([]int64, error)

	// HExpireTime returns each field's absolute expire time in
	// milliseconds, or the HTTLNoTTL/HTTLNoField sentinels.
	HExpireTime(key string, fields [][]byte) ([]int64, error)

	// HPersist clears the given fields' TTLs. Returns one HPersistCode per
	// field, in order.
	HPersist(key string, fields [][]byte) ([]HPersistCode, error)

	// HRandField samples count fields, per hfe.Hash.RandomCount's
	// semantics (negative: with replacement; positive: without,
	// clamped to the hash size).
	HRandField(key string, count int) ([]hfe.FieldSample, error)
}
