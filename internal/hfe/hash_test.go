package hfe

import (
	"fmt"
	"testing"
)

func smallCfg() *Config {
	return &Config{MaxListpackEntries: 8, MaxListpackValue: 64}
}

func fillHash(t *testing.T, h *Hash, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.Set([]byte(fmt.Sprintf("field-%03d", i)), []byte(fmt.Sprintf("value-%03d", i)), false)
	}
}

func TestHashPromotesToHashtable(t *testing.T) {
	cfg := smallCfg()
	h := NewHash("k", cfg)

	fillHash(t, h, cfg.MaxListpackEntries)
	if h.kind != encLp {
		t.Fatalf("expected listpack encoding at threshold, got kind=%d", h.kind)
	}

	h.Set([]byte("one-more"), []byte("v"), false)
	if h.kind != encHt {
		t.Fatalf("expected promotion to hashtable past MaxListpackEntries, got kind=%d", h.kind)
	}
	if h.rawLength() != cfg.MaxListpackEntries+1 {
		t.Fatalf("promotion lost fields: got %d want %d", h.rawLength(), cfg.MaxListpackEntries+1)
	}

	for i := 0; i < cfg.MaxListpackEntries; i++ {
		field := []byte(fmt.Sprintf("field-%03d", i))
		v, _, found := h.rawGet(field)
		if !found || string(v) != fmt.Sprintf("value-%03d", i) {
			t.Fatalf("field %s lost or corrupted across promotion", field)
		}
	}
}

func TestRandomCountUniqueOnHashtable(t *testing.T) {
	cfg := smallCfg()
	h := NewHash("k", cfg)
	fillHash(t, h, 50)
	if h.kind != encHt {
		t.Fatalf("test setup expected hashtable encoding, got kind=%d", h.kind)
	}

	const count = 30
	samples := h.RandomCount(count)
	if len(samples) != count {
		t.Fatalf("got %d samples, want %d", len(samples), count)
	}

	seen := make(map[string]bool, count)
	for _, s := range samples {
		key := string(s.Field)
		if seen[key] {
			t.Fatalf("HRANDFIELD returned duplicate field %q on hashtable-encoded hash", key)
		}
		seen[key] = true
	}
}

func TestRandomCountNegativeAllowsDuplicates(t *testing.T) {
	cfg := smallCfg()
	h := NewHash("k", cfg)
	fillHash(t, h, 3)

	samples := h.RandomCount(-20)
	if len(samples) != 20 {
		t.Fatalf("got %d samples, want 20 (with-replacement sampling must always hit count)", len(samples))
	}
}

func TestIterStableAcrossCallsOnHashtable(t *testing.T) {
	cfg := smallCfg()
	h := NewHash("k", cfg)
	fillHash(t, h, 40)
	if h.kind != encHt {
		t.Fatalf("test setup expected hashtable encoding, got kind=%d", h.kind)
	}

	var first []string
	h.Iter(ExpireInvalid, false, func(field, value []byte, ttl uint64) {
		first = append(first, string(field))
	})

	var second []string
	h.Iter(ExpireInvalid, false, func(field, value []byte, ttl uint64) {
		second = append(second, string(field))
	})

	if len(first) != len(second) {
		t.Fatalf("iteration length changed across calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("iteration order changed at index %d: %q vs %q", i, first[i], second[i])
		}
	}
}

// TestScanPagingCoversEveryFieldOnce exercises the same pattern HScan uses
// (page through Iter's output by cursor offset) against a hashtable-encoded
// hash, verifying a resumed cursor neither skips nor repeats a field.
func TestScanPagingCoversEveryFieldOnce(t *testing.T) {
	cfg := smallCfg()
	h := NewHash("k", cfg)
	const total = 57
	fillHash(t, h, total)
	if h.kind != encHt {
		t.Fatalf("test setup expected hashtable encoding, got kind=%d", h.kind)
	}

	const pageSize = 10
	seen := make(map[string]int)
	var cursor uint64
	pages := 0
	for {
		var all []string
		h.Iter(ExpireInvalid, false, func(field, value []byte, ttl uint64) {
			all = append(all, string(field))
		})
		if cursor >= uint64(len(all)) {
			break
		}
		end := cursor + uint64(pageSize)
		if end > uint64(len(all)) {
			end = uint64(len(all))
		}
		for _, f := range all[cursor:end] {
			seen[f]++
		}
		cursor = end
		if cursor >= uint64(len(all)) {
			cursor = 0
			break
		}
		pages++
		if pages > total {
			t.Fatalf("scan did not terminate, cursor-based paging likely cycling")
		}
	}

	if len(seen) != total {
		t.Fatalf("scan covered %d distinct fields, want %d", len(seen), total)
	}
	for f, n := range seen {
		if n != 1 {
			t.Fatalf("field %q seen %d times across scan pages, want exactly 1", f, n)
		}
	}
}

func TestActiveExpireQuotaBounded(t *testing.T) {
	cfg := smallCfg()
	hashBuckets := NewBucketSet[*Hash]()

	const numHashes = 20
	now := uint64(1_000_000)
	for i := 0; i < numHashes; i++ {
		h := NewHash(fmt.Sprintf("hash-%d", i), cfg)
		batch := NewSetExBatch(h, now, CondNone)
		field := []byte("f")
		h.Set(field, []byte("v"), false)
		batch.Apply(field, now+1)
		hashBuckets.Add(h, h.MinExpire())
	}

	if hashBuckets.Len() != numHashes {
		t.Fatalf("expected %d hashes registered in C6, got %d", numHashes, hashBuckets.Len())
	}

	const quota = 7
	later := now + 10_000
	result := ActiveExpire(hashBuckets, quota, later)

	if result.FieldsExpired > quota {
		t.Fatalf("ActiveExpire expired %d fields, exceeds quota %d", result.FieldsExpired, quota)
	}
	if result.FieldsExpired == 0 {
		t.Fatalf("expected ActiveExpire to expire some fields past their TTL")
	}
	if len(result.EmptiedHashes) != int(result.FieldsExpired) {
		t.Fatalf("each expired field here empties its one-field hash: got %d emptied hashes for %d expired fields", len(result.EmptiedHashes), result.FieldsExpired)
	}

	remaining := hashBuckets.Len()
	if remaining != numHashes-int(result.FieldsExpired) {
		t.Fatalf("C6 still holds %d hashes after sweep, want %d", remaining, numHashes-int(result.FieldsExpired))
	}
}
