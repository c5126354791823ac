package server

import (
	"testing"
	"time"

	"github.com/fieldflux/fieldflux/internal/config"
	"github.com/fieldflux/fieldflux/internal/hfe"
	"github.com/fieldflux/fieldflux/internal/logger"
	"github.com/fieldflux/fieldflux/internal/resp"
	"github.com/fieldflux/fieldflux/internal/storage"
)

func TestHSetHGetHDel(t *testing.T) {
	e := setupEngine()

	res := e.Execute("HSET", makeCommand("HSET", "h", "a", "1", "b", "2", "c", "3"))
	if res.Integer != 3 {
		t.Fatalf("expected 3 fields created, got %d", res.Integer)
	}

	// Re-setting an existing field doesn't count as a creation
	res = e.Execute("HSET", makeCommand("HSET", "h", "a", "11"))
	if res.Integer != 0 {
		t.Errorf("expected 0 created on update, got %d", res.Integer)
	}

	get := e.Execute("HGET", makeCommand("HGET", "h", "a"))
	if string(get.String) != "11" {
		t.Errorf("expected updated value 11, got %q", get.String)
	}

	length := e.Execute("HLEN", makeCommand("HLEN", "h"))
	if length.Integer != 3 {
		t.Errorf("expected HLEN 3, got %d", length.Integer)
	}

	del := e.Execute("HDEL", makeCommand("HDEL", "h", "a", "nosuch"))
	if del.Integer != 1 {
		t.Errorf("expected 1 field removed, got %d", del.Integer)
	}

	missing := e.Execute("HGET", makeCommand("HGET", "h", "a"))
	if !missing.IsNull {
		t.Errorf("expected nil after HDEL, got %v", missing.Type)
	}
}

func TestHSetWrongType(t *testing.T) {
	e := setupEngine()
	e.Execute("SET", makeCommand("SET", "str", "v"))

	res := e.Execute("HSET", makeCommand("HSET", "str", "f", "v"))
	if res.Type != resp.TypeError {
		t.Fatalf("expected WRONGTYPE error, got %v", res.Type)
	}
	if string(res.String) != errWrongTypeMsg {
		t.Errorf("unexpected error message: %q", res.String)
	}
}

// TestHashTTLPromotionAndOrdering is scenario S1: TTL promotion and
// per-field expiry ordering.
func TestHashTTLPromotionAndOrdering(t *testing.T) {
	e := setupEngine()

	e.Execute("HSET", makeCommand("HSET", "h", "a", "1", "b", "2", "c", "3"))
	if n := e.Execute("HLEN", makeCommand("HLEN", "h")); n.Integer != 3 {
		t.Fatalf("expected length 3, got %d", n.Integer)
	}

	codes := e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "10000", "FIELDS", "1", "b"))
	if len(codes.Array) != 1 || codes.Array[0].Integer != 1 {
		t.Fatalf("expected [1], got %+v", codes.Array)
	}

	ttl := e.Execute("HTTL", makeCommand("HTTL", "h", "FIELDS", "1", "b"))
	if len(ttl.Array) != 1 || ttl.Array[0].Integer != 10 {
		t.Fatalf("expected HTTL [10], got %+v", ttl.Array)
	}

	codes = e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "5000", "FIELDS", "1", "c"))
	if codes.Array[0].Integer != 1 {
		t.Fatalf("expected [1] for c, got %+v", codes.Array)
	}

	codes = e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "1", "FIELDS", "1", "a"))
	if codes.Array[0].Integer != 2 {
		t.Fatalf("expected DELETED(2) for a, got %+v", codes.Array)
	}

	missing := e.Execute("HGET", makeCommand("HGET", "h", "a"))
	if !missing.IsNull {
		t.Errorf("expected field a gone after past-TTL HPEXPIRE")
	}

	length := e.Execute("HLEN", makeCommand("HLEN", "h"))
	if length.Integer != 2 {
		t.Errorf("expected HLEN 2, got %d", length.Integer)
	}
}

// TestHashConditionalExpire is scenario S2: NX/XX/GT/LT conditional
// semantics.
func TestHashConditionalExpire(t *testing.T) {
	e := setupEngine()

	e.Execute("HSET", makeCommand("HSET", "h", "x", "1"))
	codes := e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "10000", "FIELDS", "1", "x"))
	if codes.Array[0].Integer != 1 {
		t.Fatalf("initial HPEXPIRE should succeed, got %+v", codes.Array)
	}

	codes = e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "5000", "NX", "FIELDS", "1", "x"))
	if codes.Array[0].Integer != 0 {
		t.Errorf("NX on TTL'd field should refuse, got %d", codes.Array[0].Integer)
	}

	codes = e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "5000", "GT", "FIELDS", "1", "x"))
	if codes.Array[0].Integer != 0 {
		t.Errorf("GT with smaller ttl should refuse, got %d", codes.Array[0].Integer)
	}

	codes = e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "20000", "GT", "FIELDS", "1", "x"))
	if codes.Array[0].Integer != 1 {
		t.Errorf("GT with larger ttl should accept, got %d", codes.Array[0].Integer)
	}

	codes = e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "5000", "LT", "FIELDS", "1", "x"))
	if codes.Array[0].Integer != 1 {
		t.Errorf("LT with smaller ttl should accept, got %d", codes.Array[0].Integer)
	}

	codes = e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "1000", "XX", "FIELDS", "1", "nosuch"))
	if codes.Array[0].Integer != -2 {
		t.Errorf("missing field should report -2, got %d", codes.Array[0].Integer)
	}
}

// TestHashLazyExpiryDeletesKey is scenario S3: lazy expiry cascading to key
// deletion when the last field expires.
func TestHashLazyExpiryDeletesKey(t *testing.T) {
	e := setupEngine()

	e.Execute("HSET", makeCommand("HSET", "h", "only", "1"))
	e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "1", "FIELDS", "1", "only"))

	time.Sleep(50 * time.Millisecond)

	get := e.Execute("HGET", makeCommand("HGET", "h", "only"))
	if !get.IsNull {
		t.Errorf("expected nil after lazy expiry, got %v", get.Type)
	}

	exists := e.Execute("HEXISTS", makeCommand("HEXISTS", "h", "only"))
	if exists.Integer != 0 {
		t.Errorf("expected HEXISTS 0 after lazy expiry, got %d", exists.Integer)
	}

	length := e.Execute("HLEN", makeCommand("HLEN", "h"))
	if length.Integer != 0 {
		t.Errorf("expected empty hash, got length %d", length.Integer)
	}
}

// TestHashEncodingPromotionBySize is scenario S4: with a listpack limit of
// 4 entries, the fifth field pushes the hash past the limit (promoting it to
// the hashtable encoding) and every field is still counted.
func TestHashEncodingPromotionBySize(t *testing.T) {
	s, _ := storage.NewShardedMapStorage(1, hfe.Config{MaxListpackEntries: 4, MaxListpackValue: 64}, 1000, false) //nolint:errcheck
	e, _ := NewEngine(s, &config.Config{}, logger.New("debug", "console"))

	e.Execute("HSET", makeCommand("HSET", "h", "a", "1", "b", "2", "c", "3", "d", "4"))
	e.Execute("HSET", makeCommand("HSET", "h", "e", "5"))

	length := e.Execute("HLEN", makeCommand("HLEN", "h"))
	if length.Integer != 5 {
		t.Errorf("expected HLEN 5 after promotion, got %d", length.Integer)
	}
}

func TestHIncrByAndFloat(t *testing.T) {
	e := setupEngine()

	res := e.Execute("HINCRBY", makeCommand("HINCRBY", "h", "counter", "5"))
	if res.Integer != 5 {
		t.Fatalf("expected 5, got %d", res.Integer)
	}
	res = e.Execute("HINCRBY", makeCommand("HINCRBY", "h", "counter", "-2"))
	if res.Integer != 3 {
		t.Errorf("expected 3, got %d", res.Integer)
	}

	f := e.Execute("HINCRBYFLOAT", makeCommand("HINCRBYFLOAT", "h", "ratio", "1.5"))
	if string(f.String) != "1.5" {
		t.Errorf("expected 1.5, got %q", f.String)
	}
}

func TestHPersist(t *testing.T) {
	e := setupEngine()

	e.Execute("HSET", makeCommand("HSET", "h", "x", "1"))
	codes := e.Execute("HPERSIST", makeCommand("HPERSIST", "h", "FIELDS", "1", "x"))
	if codes.Array[0].Integer != -1 {
		t.Fatalf("expected NO_TTL(-1) for a field with no TTL, got %d", codes.Array[0].Integer)
	}

	e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "10000", "FIELDS", "1", "x"))
	codes = e.Execute("HPERSIST", makeCommand("HPERSIST", "h", "FIELDS", "1", "x"))
	if codes.Array[0].Integer != 1 {
		t.Fatalf("expected OK(1) clearing the TTL, got %d", codes.Array[0].Integer)
	}

	ttl := e.Execute("HTTL", makeCommand("HTTL", "h", "FIELDS", "1", "x"))
	if ttl.Array[0].Integer != -1 {
		t.Errorf("expected no TTL after HPERSIST, got %d", ttl.Array[0].Integer)
	}
}

func TestHRandField(t *testing.T) {
	e := setupEngine()
	e.Execute("HSET", makeCommand("HSET", "h", "a", "1", "b", "2", "c", "3"))

	single := e.Execute("HRANDFIELD", makeCommand("HRANDFIELD", "h"))
	if single.Type != resp.TypeBulkString || single.IsNull {
		t.Fatalf("expected a field name, got %v", single.Type)
	}

	many := e.Execute("HRANDFIELD", makeCommand("HRANDFIELD", "h", "10"))
	if len(many.Array) != 3 {
		t.Errorf("expected whole hash (3) when count exceeds size, got %d", len(many.Array))
	}

	withValues := e.Execute("HRANDFIELD", makeCommand("HRANDFIELD", "h", "2", "WITHVALUES"))
	if len(withValues.Array) != 4 {
		t.Errorf("expected 4 elements (2 field/value pairs), got %d", len(withValues.Array))
	}

	none := e.Execute("HRANDFIELD", makeCommand("HRANDFIELD", "missing"))
	if !none.IsNull {
		t.Errorf("expected nil for missing key, got %v", none.Type)
	}
}

// TestHashGlobalIndexBatching is scenario S6: a multi-field HPEXPIRE
// accepts the TTL for every listed field and each field then reports it.
func TestHashGlobalIndexBatching(t *testing.T) {
	e := setupEngine()

	e.Execute("HSET", makeCommand("HSET", "h", "a", "1", "b", "2"))
	codes := e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "10000", "FIELDS", "2", "a", "b"))
	if len(codes.Array) != 2 || codes.Array[0].Integer != 1 || codes.Array[1].Integer != 1 {
		t.Fatalf("expected both fields to accept the TTL, got %+v", codes.Array)
	}

	ttl := e.Execute("HPTTL", makeCommand("HPTTL", "h", "FIELDS", "2", "a", "b"))
	for _, v := range ttl.Array {
		if v.Integer <= 0 || v.Integer > 10000 {
			t.Errorf("expected both fields to carry the ~10s ttl, got %d", v.Integer)
		}
	}
}

func TestHExpireSyntaxErrors(t *testing.T) {
	e := setupEngine()
	e.Execute("HSET", makeCommand("HSET", "h", "a", "1"))

	res := e.Execute("HPEXPIRE", makeCommand("HPEXPIRE", "h", "1000", "FIELDS", "2", "a"))
	if res.Type != resp.TypeError {
		t.Errorf("expected syntax error on numfields mismatch, got %v", res.Type)
	}

	res = e.Execute("HTTL", makeCommand("HTTL", "h", "a"))
	if res.Type != resp.TypeError {
		t.Errorf("expected an error when FIELDS keyword missing, got %v", res.Type)
	}
}

func TestHScan(t *testing.T) {
	e := setupEngine()
	e.Execute("HSET", makeCommand("HSET", "h", "a", "1", "b", "2", "c", "3"))

	cursor, pairs, _ := func() (string, []resp.Value, error) {
		res := e.Execute("HSCAN", makeCommand("HSCAN", "h", "0", "COUNT", "10"))
		return string(res.Array[0].String), res.Array[1].Array, nil
	}()
	if cursor != "0" {
		t.Errorf("expected cursor 0 (full scan in one page), got %q", cursor)
	}
	if len(pairs) != 6 {
		t.Errorf("expected 6 elements (3 field/value pairs), got %d", len(pairs))
	}
}
