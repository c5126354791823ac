package storage

import (
	"errors"
	"hash/fnv"
	"io"
	"math/bits"
	"time"

	"github.com/fieldflux/fieldflux/internal/hfe"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

// ShardedMapStorage is a thread-safe key-value storage,
// divided into segments (shards) to reduce contention for locking
type ShardedMapStorage struct {
	shards    []*MapStorage
	shardMask uint32
}

// NewShardedMapStorage creates a new instance of ShardedMapStorage.
// The requestedShards parameter must be a power of two for efficient allocation.
// The maximum allowed number of shards is 64. hfeCfg and fieldsQuota are
// threaded into every shard's MapStorage (§4.2): each shard owns its own
// hash-expiry index (C6), but all shards share the same encoding-promotion
// thresholds and active-expire budget.
func NewShardedMapStorage(requestedShards uint, hfeCfg hfe.Config, fieldsQuota uint64, lazyExpireDisabled bool) (*ShardedMapStorage, error) {
	if bits.OnesCount(requestedShards) != 1 {
		return nil, errors.New("requested shards must be a power of 2")
	}

	if requestedShards > 64 {
		return nil, errors.New("requested shards must be less or equal than 64")
	}

	s := &ShardedMapStorage{
		shards:    make([]*MapStorage, requestedShards),
		shardMask: uint32(requestedShards - 1),
	}

	var i uint
	for i = 0; i < requestedShards; i++ {
		s.shards[i] = NewMapStorage(hfeCfg, fieldsQuota, lazyExpireDisabled)
	}

	return s, nil
}

// getShardIndex returns index of shard by key
func (s *ShardedMapStorage) getShardIndex(key string) uint32 {
	hash := fnv.New32a()
	hash.Write([]byte(key)) //nolint:errcheck

	return hash.Sum32() & s.shardMask
}

func (s *ShardedMapStorage) shardFor(key string) *MapStorage {
	return s.shards[s.getShardIndex(key)]
}

// Get returns the value and true if the key is found. Otherwise, "", false.
func (s *ShardedMapStorage) Get(key string) (string, bool, error) {
	return s.shardFor(key).Get(key)
}

// Set writes the value based on the options. Returns true if recording has been performed.
func (s *ShardedMapStorage) Set(key, value string, options SetOptions) bool {
	return s.shardFor(key).Set(key, value, options)
}

// Delete deletes the key. Returns true if the key existed and was deleted.
func (s *ShardedMapStorage) Delete(key string) bool {
	return s.shardFor(key).Delete(key)
}

// Expiry returns the remaining lifetime and status as ExpiryStatus
func (s *ShardedMapStorage) Expiry(key string) (time.Duration, ExpiryStatus) {
	return s.shardFor(key).Expiry(key)
}

// Persist removes the expiration date of the key, making it eternal.
// Returns 1 if successful, 0 if the key was not found or had no TTL
func (s *ShardedMapStorage) Persist(key string) int64 {
	return s.shardFor(key).Persist(key)
}

// DeleteExpired fans a bounded sweep of each shard out concurrently via a
// conc.WaitGroup (promoted from an indirect teacher dependency), matching
// §4.4's rule that ActiveExpire is atomic per shard but shards themselves
// sweep in parallel. Returns the average expired/checked ratio across
// shards.
func (s *ShardedMapStorage) DeleteExpired(limit int) float64 {
	ratios := make([]float64, len(s.shards))

	var wg conc.WaitGroup
	for i, shard := range s.shards {
		i, shard := i, shard
		wg.Go(func() {
			ratios[i] = shard.DeleteExpired(limit)
		})
	}
	wg.Wait()

	var total float64
	for _, r := range ratios {
		total += r
	}
	return total / float64(len(s.shards))
}

// Snapshot iterates over all shards sequentially to minimize locking time.
// Shard-level errors are aggregated with multierr rather than aborting the
// whole snapshot at the first failing shard, so a single corrupt shard
// doesn't hide the state of every other one from the caller.
func (s *ShardedMapStorage) Snapshot(w io.Writer) error {
	var errs error
	for _, shard := range s.shards {
		if err := shard.Snapshot(w); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Restore reads the stream and fills the maps
func (s *ShardedMapStorage) Restore(r io.Reader) error {
	tempLoader := NewMapStorage(s.shards[0].hfeCfg, 0, false)
	if err := tempLoader.Restore(r); err != nil {
		return err
	}

	tempLoader.mu.RLock()
	defer tempLoader.mu.RUnlock()

	for key, val := range tempLoader.data {
		expire := tempLoader.expires[key]

		targetShard := s.shardFor(key)
		targetShard.mu.Lock()
		targetShard.data[key] = val
		if expire > 0 {
			targetShard.expires[key] = expire
		}
		if val.Type == TypeHash {
			h := val.Value.(*hfe.Hash)
			if min := h.MinExpire(); min != hfe.ExpireInvalid {
				targetShard.hashExpires.Add(h, min)
			}
		}
		targetShard.mu.Unlock()
	}

	return nil
}

// HSet sets the specified fields to their respective values in the hash stored at key
func (s *ShardedMapStorage) HSet(key string, fields []HashFieldValue) (int64, error) {
	return s.shardFor(key).HSet(key, fields)
}

// HSetNX sets field only if it does not already exist in the hash stored at key
func (s *ShardedMapStorage) HSetNX(key string, field, value []byte) (bool, error) {
	return s.shardFor(key).HSetNX(key, field, value)
}

// HGet returns the value associated with field in the hash stored at key
func (s *ShardedMapStorage) HGet(key string, field []byte) ([]byte, bool, error) {
	return s.shardFor(key).HGet(key, field)
}

// HMGet returns the values of multiple fields in the hash stored at key
func (s *ShardedMapStorage) HMGet(key string, fields [][]byte) ([][]byte, error) {
	return s.shardFor(key).HMGet(key, fields)
}

// HGetAll returns all fields and values of the hash stored at key
func (s *ShardedMapStorage) HGetAll(key string) ([]HashFieldValue, error) {
	return s.shardFor(key).HGetAll(key)
}

// HKeys returns all field names in the hash stored at key
func (s *ShardedMapStorage) HKeys(key string) ([][]byte, error) {
	return s.shardFor(key).HKeys(key)
}

// HVals returns all values in the hash stored at key
func (s *ShardedMapStorage) HVals(key string) ([][]byte, error) {
	return s.shardFor(key).HVals(key)
}

// HExists returns if field is an existing field in the hash stored at key
func (s *ShardedMapStorage) HExists(key string, field []byte) (bool, error) {
	return s.shardFor(key).HExists(key, field)
}

// HLen returns the number of fields contained in the hash stored at key
func (s *ShardedMapStorage) HLen(key string) (int64, error) {
	return s.shardFor(key).HLen(key)
}

// HStrLen returns the byte length of field's value in the hash stored at key
func (s *ShardedMapStorage) HStrLen(key string, field []byte) (int64, error) {
	return s.shardFor(key).HStrLen(key, field)
}

// HScan incrementally iterates the fields of the hash stored at key
func (s *ShardedMapStorage) HScan(key string, cursor uint64, match string, count int, novalues bool) (uint64, []HashFieldValue, error) {
	return s.shardFor(key).HScan(key, cursor, match, count, novalues)
}

// HIncrBy increments field's integer value in the hash stored at key
func (s *ShardedMapStorage) HIncrBy(key string, field []byte, delta int64) (int64, error) {
	return s.shardFor(key).HIncrBy(key, field, delta)
}

// HIncrByFloat increments field's float value in the hash stored at key
func (s *ShardedMapStorage) HIncrByFloat(key string, field []byte, delta float64) (float64, error) {
	return s.shardFor(key).HIncrByFloat(key, field, delta)
}

// HDel removes the specified fields from the hash stored at key
func (s *ShardedMapStorage) HDel(key string, fields [][]byte) (int64, error) {
	return s.shardFor(key).HDel(key, fields)
}

// HExpire sets a per-field TTL on the hash stored at key
func (s *ShardedMapStorage) HExpire(key string, expireAtMs uint64, cond hfe.ExpireSetCond, fields [][]byte) ([]HExpireCode, error) {
	return s.shardFor(key).HExpire(key, expireAtMs, cond, fields)
}

// HTTL returns the remaining per-field TTL, in milliseconds, of the hash stored at key
func (s *ShardedMapStorage) HTTL(key string, fields [][]byte) ([]int64, error) {
	return s.shardFor(key).HTTL(key, fields)
}

// HExpireTime returns the absolute per-field expire time, in milliseconds, of the hash stored at key
func (s *ShardedMapStorage) HExpireTime(key string, fields [][]byte) ([]int64, error) {
	return s.shardFor(key).HExpireTime(key, fields)
}

// HPersist clears the per-field TTL of the hash stored at key
func (s *ShardedMapStorage) HPersist(key string, fields [][]byte) ([]HPersistCode, error) {
	return s.shardFor(key).HPersist(key, fields)
}

// HRandField returns one or more random fields from the hash stored at key
func (s *ShardedMapStorage) HRandField(key string, count int) ([]hfe.FieldSample, error) {
	return s.shardFor(key).HRandField(key, count)
}
