package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fieldflux/fieldflux/internal/hfe"
	"github.com/fieldflux/fieldflux/internal/resp"
	"github.com/fieldflux/fieldflux/internal/storage"
)

// errWrongTypeMsg matches hfe.ErrWrongType's text so every layer that
// surfaces it to a client reads the same message.
const errWrongTypeMsg = "WRONGTYPE Operation against a key holding the wrong kind of value"

// hashStorageErr maps a storage-layer error to its RESP reply, collapsing
// storage.ErrWrongType onto the canonical WRONGTYPE text.
func hashStorageErr(err error) resp.Value {
	if errors.Is(err, storage.ErrWrongType) {
		return resp.MakeError(errWrongTypeMsg)
	}
	return resp.MakeError(err.Error())
}

// nowMillis is the wall clock HEXPIRE/HPEXPIRE use to turn a relative TTL
// into the absolute expire time the storage layer expects.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// hset upserts one or more field/value pairs in the hash at key.
func hset(ctx *context) resp.Value {
	if len(ctx.args) < 3 || len(ctx.args)%2 != 1 {
		return resp.MakeErrorWrongNumberOfArguments("HSET")
	}

	key := string(ctx.args[0].String)
	fields := make([]storage.HashFieldValue, 0, (len(ctx.args)-1)/2)
	for i := 1; i < len(ctx.args); i += 2 {
		fields = append(fields, storage.HashFieldValue{
			Field: ctx.args[i].String,
			Value: ctx.args[i+1].String,
		})
	}

	created, err := (*ctx.storage).HSet(key, fields)
	if err != nil {
		return hashStorageErr(err)
	}
	return resp.MakeInteger(created)
}

// hsetnx inserts field only if it does not already exist.
func hsetnx(ctx *context) resp.Value {
	if len(ctx.args) != 3 {
		return resp.MakeErrorWrongNumberOfArguments("HSETNX")
	}

	key := string(ctx.args[0].String)
	created, err := (*ctx.storage).HSetNX(key, ctx.args[1].String, ctx.args[2].String)
	if err != nil {
		return hashStorageErr(err)
	}
	if created {
		return resp.MakeInteger(1)
	}
	return resp.MakeInteger(0)
}

// hget returns the value of one field.
func hget(ctx *context) resp.Value {
	if len(ctx.args) != 2 {
		return resp.MakeErrorWrongNumberOfArguments("HGET")
	}

	key := string(ctx.args[0].String)
	value, found, err := (*ctx.storage).HGet(key, ctx.args[1].String)
	if err != nil {
		return hashStorageErr(err)
	}
	if !found {
		return resp.MakeNilBulkString()
	}
	return resp.MakeBulkString(string(value))
}

// hmget returns the values of several fields, nil for each missing one.
func hmget(ctx *context) resp.Value {
	if len(ctx.args) < 2 {
		return resp.MakeErrorWrongNumberOfArguments("HMGET")
	}

	key := string(ctx.args[0].String)
	fields := bulkArgsToFields(ctx.args[1:])
	values, err := (*ctx.storage).HMGet(key, fields)
	if err != nil {
		return hashStorageErr(err)
	}

	out := make([]resp.Value, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = resp.MakeNilBulkString()
		} else {
			out[i] = resp.MakeBulkString(string(v))
		}
	}
	return resp.MakeArray(out)
}

// hgetall returns every live field/value pair, flattened field, value, field, value...
func hgetall(ctx *context) resp.Value {
	if len(ctx.args) != 1 {
		return resp.MakeErrorWrongNumberOfArguments("HGETALL")
	}

	key := string(ctx.args[0].String)
	pairs, err := (*ctx.storage).HGetAll(key)
	if err != nil {
		return hashStorageErr(err)
	}

	out := make([]resp.Value, 0, len(pairs)*2)
	for _, p := range pairs {
		out = append(out, resp.MakeBulkString(string(p.Field)), resp.MakeBulkString(string(p.Value)))
	}
	return resp.MakeArray(out)
}

// hkeys returns every live field name.
func hkeys(ctx *context) resp.Value {
	if len(ctx.args) != 1 {
		return resp.MakeErrorWrongNumberOfArguments("HKEYS")
	}

	key := string(ctx.args[0].String)
	keys, err := (*ctx.storage).HKeys(key)
	if err != nil {
		return hashStorageErr(err)
	}
	return resp.MakeArray(bytesToBulkStrings(keys))
}

// hvals returns every live value.
func hvals(ctx *context) resp.Value {
	if len(ctx.args) != 1 {
		return resp.MakeErrorWrongNumberOfArguments("HVALS")
	}

	key := string(ctx.args[0].String)
	vals, err := (*ctx.storage).HVals(key)
	if err != nil {
		return hashStorageErr(err)
	}
	return resp.MakeArray(bytesToBulkStrings(vals))
}

// hexists reports whether field exists (and has not expired).
func hexists(ctx *context) resp.Value {
	if len(ctx.args) != 2 {
		return resp.MakeErrorWrongNumberOfArguments("HEXISTS")
	}

	key := string(ctx.args[0].String)
	found, err := (*ctx.storage).HExists(key, ctx.args[1].String)
	if err != nil {
		return hashStorageErr(err)
	}
	if found {
		return resp.MakeInteger(1)
	}
	return resp.MakeInteger(0)
}

// hlen returns the number of live fields.
func hlen(ctx *context) resp.Value {
	if len(ctx.args) != 1 {
		return resp.MakeErrorWrongNumberOfArguments("HLEN")
	}

	key := string(ctx.args[0].String)
	n, err := (*ctx.storage).HLen(key)
	if err != nil {
		return hashStorageErr(err)
	}
	return resp.MakeInteger(n)
}

// hstrlen returns the byte length of field's value, or 0 if absent.
func hstrlen(ctx *context) resp.Value {
	if len(ctx.args) != 2 {
		return resp.MakeErrorWrongNumberOfArguments("HSTRLEN")
	}

	key := string(ctx.args[0].String)
	n, err := (*ctx.storage).HStrLen(key, ctx.args[1].String)
	if err != nil {
		return hashStorageErr(err)
	}
	return resp.MakeInteger(n)
}

// hscan incrementally iterates the hash's fields.
func hscan(ctx *context) resp.Value {
	if len(ctx.args) < 2 {
		return resp.MakeErrorWrongNumberOfArguments("HSCAN")
	}

	key := string(ctx.args[0].String)
	cursor, err := strconv.ParseUint(string(ctx.args[1].String), 10, 64)
	if err != nil {
		return resp.MakeError("invalid cursor")
	}

	var (
		match    string
		count    int
		novalues bool
	)

	for i := 2; i < len(ctx.args); i++ {
		tok := strings.ToUpper(string(ctx.args[i].String))
		switch tok {
		case "MATCH":
			if i+1 >= len(ctx.args) {
				return resp.MakeError(hfe.ErrSyntax.Error())
			}
			match = string(ctx.args[i+1].String)
			i++
		case "COUNT":
			if i+1 >= len(ctx.args) {
				return resp.MakeError(hfe.ErrSyntax.Error())
			}
			count, err = strconv.Atoi(string(ctx.args[i+1].String))
			if err != nil {
				return resp.MakeError("value is not an integer or out of range")
			}
			i++
		case "NOVALUES":
			novalues = true
		default:
			return resp.MakeError(hfe.ErrSyntax.Error())
		}
	}

	next, pairs, err := (*ctx.storage).HScan(key, cursor, match, count, novalues)
	if err != nil {
		return hashStorageErr(err)
	}

	items := make([]resp.Value, 0, len(pairs)*2)
	for _, p := range pairs {
		items = append(items, resp.MakeBulkString(string(p.Field)))
		if !novalues {
			items = append(items, resp.MakeBulkString(string(p.Value)))
		}
	}

	return resp.MakeArray([]resp.Value{
		resp.MakeBulkString(strconv.FormatUint(next, 10)),
		resp.MakeArray(items),
	})
}

// hincrby increments field's integer value, treating a missing field as 0.
func hincrby(ctx *context) resp.Value {
	if len(ctx.args) != 3 {
		return resp.MakeErrorWrongNumberOfArguments("HINCRBY")
	}

	key := string(ctx.args[0].String)
	delta, err := strconv.ParseInt(string(ctx.args[2].String), 10, 64)
	if err != nil {
		return resp.MakeError("value is not an integer or out of range")
	}

	newVal, err := (*ctx.storage).HIncrBy(key, ctx.args[1].String, delta)
	if err != nil {
		if errors.Is(err, storage.ErrNotInteger) {
			return resp.MakeError("hash value is not an integer")
		}
		return hashStorageErr(err)
	}
	return resp.MakeInteger(newVal)
}

// hincrbyfloat increments field's float value.
func hincrbyfloat(ctx *context) resp.Value {
	if len(ctx.args) != 3 {
		return resp.MakeErrorWrongNumberOfArguments("HINCRBYFLOAT")
	}

	key := string(ctx.args[0].String)
	delta, err := strconv.ParseFloat(string(ctx.args[2].String), 64)
	if err != nil {
		return resp.MakeError("value is not a valid float")
	}

	newVal, err := (*ctx.storage).HIncrByFloat(key, ctx.args[1].String, delta)
	if err != nil {
		if errors.Is(err, storage.ErrNotFloat) {
			return resp.MakeError("hash value is not a float")
		}
		return hashStorageErr(err)
	}
	return resp.MakeBulkString(strconv.FormatFloat(newVal, 'f', -1, 64))
}

// hdel removes one or more fields, deleting the key if the hash empties.
func hdel(ctx *context) resp.Value {
	if len(ctx.args) < 2 {
		return resp.MakeErrorWrongNumberOfArguments("HDEL")
	}

	key := string(ctx.args[0].String)
	fields := bulkArgsToFields(ctx.args[1:])
	removed, err := (*ctx.storage).HDel(key, fields)
	if err != nil {
		return hashStorageErr(err)
	}
	return resp.MakeInteger(removed)
}

// parseExpireCond consumes an optional NX/XX/GT/LT token at args[idx],
// returning the condition and the next unconsumed index.
func parseExpireCond(args []resp.Value, idx int) (hfe.ExpireSetCond, int) {
	if idx >= len(args) {
		return hfe.CondNone, idx
	}
	switch strings.ToUpper(string(args[idx].String)) {
	case "NX":
		return hfe.CondNX, idx + 1
	case "XX":
		return hfe.CondXX, idx + 1
	case "GT":
		return hfe.CondGT, idx + 1
	case "LT":
		return hfe.CondLT, idx + 1
	default:
		return hfe.CondNone, idx
	}
}

// parseFieldsClause parses "FIELDS numfields field...", requiring
// numfields to match the number of field tokens that follow.
func parseFieldsClause(args []resp.Value, idx int) ([][]byte, error) {
	if idx >= len(args) || !strings.EqualFold(string(args[idx].String), "FIELDS") {
		return nil, hfe.ErrSyntax
	}
	idx++
	if idx >= len(args) {
		return nil, hfe.ErrSyntax
	}
	numFields, err := strconv.Atoi(string(args[idx].String))
	if err != nil || numFields <= 0 {
		return nil, fmt.Errorf("%w: numfields must be a positive integer", hfe.ErrSyntax)
	}
	idx++
	if len(args)-idx != numFields {
		return nil, fmt.Errorf("%w: numfields does not match the number of fields", hfe.ErrSyntax)
	}
	return bulkArgsToFields(args[idx:]), nil
}

// bulkArgsToFields collects the raw bytes of a run of bulk-string args.
func bulkArgsToFields(args []resp.Value) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = a.String
	}
	return out
}

// bytesToBulkStrings wraps each byte slice as a RESP bulk string.
func bytesToBulkStrings(items [][]byte) []resp.Value {
	out := make([]resp.Value, len(items))
	for i, b := range items {
		out[i] = resp.MakeBulkString(string(b))
	}
	return out
}

// codesToArray renders a slice of per-field integer reply codes.
func codesToArray[T ~int64](codes []T) resp.Value {
	out := make([]resp.Value, len(codes))
	for i, c := range codes {
		out[i] = resp.MakeInteger(int64(c))
	}
	return resp.MakeArray(out)
}

// hexpireFamily builds the HEXPIRE/HPEXPIRE/HEXPIREAT/HPEXPIREAT handler.
// unitMs scales the command's numeric TTL argument to milliseconds;
// absolute selects *AT (the argument is already an epoch time) vs. the
// relative forms.
func hexpireFamily(name string, unitMs int64, absolute bool) commandFunc {
	return func(ctx *context) resp.Value {
		if len(ctx.args) < 5 {
			return resp.MakeErrorWrongNumberOfArguments(name)
		}

		key := string(ctx.args[0].String)
		ttlRaw, err := strconv.ParseInt(string(ctx.args[1].String), 10, 64)
		if err != nil {
			return resp.MakeError("value is not an integer or out of range")
		}

		cond, idx := parseExpireCond(ctx.args, 2)
		fields, err := parseFieldsClause(ctx.args, idx)
		if err != nil {
			return resp.MakeError(err.Error())
		}

		var expireAtMs int64
		if absolute {
			expireAtMs = ttlRaw * unitMs
		} else {
			expireAtMs = nowMillis() + ttlRaw*unitMs
		}
		if expireAtMs < 0 || uint64(expireAtMs) > hfe.ExpireTimeMax {
			return resp.MakeError(hfe.ErrExpireTimeOverflow.Error())
		}

		codes, err := (*ctx.storage).HExpire(key, uint64(expireAtMs), cond, fields)
		if err != nil {
			return hashStorageErr(err)
		}
		return codesToArray(codes)
	}
}

// httlFamily builds the HTTL/HPTTL/HEXPIRETIME/HPEXPIRETIME handler.
// absolute selects expire-time vs. remaining-ttl; seconds rounds the
// millisecond result the storage layer returns up to whole seconds.
func httlFamily(name string, absolute, seconds bool) commandFunc {
	return func(ctx *context) resp.Value {
		if len(ctx.args) < 4 {
			return resp.MakeErrorWrongNumberOfArguments(name)
		}

		key := string(ctx.args[0].String)
		fields, err := parseFieldsClause(ctx.args, 1)
		if err != nil {
			return resp.MakeError(err.Error())
		}

		var out []int64
		if absolute {
			out, err = (*ctx.storage).HExpireTime(key, fields)
		} else {
			out, err = (*ctx.storage).HTTL(key, fields)
		}
		if err != nil {
			return hashStorageErr(err)
		}

		vals := make([]resp.Value, len(out))
		for i, v := range out {
			if seconds && v >= 0 {
				v = (v + 999) / 1000
			}
			vals[i] = resp.MakeInteger(v)
		}
		return resp.MakeArray(vals)
	}
}

// hpersist clears the TTL of one or more fields.
func hpersist(ctx *context) resp.Value {
	if len(ctx.args) < 4 {
		return resp.MakeErrorWrongNumberOfArguments("HPERSIST")
	}

	key := string(ctx.args[0].String)
	fields, err := parseFieldsClause(ctx.args, 1)
	if err != nil {
		return resp.MakeError(err.Error())
	}

	codes, err := (*ctx.storage).HPersist(key, fields)
	if err != nil {
		return hashStorageErr(err)
	}
	return codesToArray(codes)
}

// rewriteForPropagation rewrites HEXPIRE/HPEXPIRE/HEXPIREAT into their
// HPEXPIREAT absolute-millisecond form before AOF serialization, per §9
// "Replication propagation": a relative TTL re-evaluated at AOF-replay time
// would drift from the time the command actually ran. Any other command
// passes through unchanged.
func rewriteForPropagation(name string, args []resp.Value) (string, []resp.Value) {
	var unitMs int64
	var absolute bool
	switch name {
	case "HEXPIRE":
		unitMs, absolute = 1000, false
	case "HPEXPIRE":
		unitMs, absolute = 1, false
	case "HEXPIREAT":
		unitMs, absolute = 1000, true
	default:
		return name, args
	}

	if len(args) < 2 {
		return name, args
	}
	ttlRaw, err := strconv.ParseInt(string(args[1].String), 10, 64)
	if err != nil {
		return name, args
	}

	var expireAtMs int64
	if absolute {
		expireAtMs = ttlRaw * unitMs
	} else {
		expireAtMs = nowMillis() + ttlRaw*unitMs
	}

	rewritten := make([]resp.Value, len(args))
	copy(rewritten, args)
	rewritten[1] = resp.MakeBulkString(strconv.FormatInt(expireAtMs, 10))
	return "HPEXPIREAT", rewritten
}

// hrandfield samples fields per §4.5's HRANDFIELD semantics.
func hrandfield(ctx *context) resp.Value {
	if len(ctx.args) < 1 || len(ctx.args) > 3 {
		return resp.MakeErrorWrongNumberOfArguments("HRANDFIELD")
	}

	key := string(ctx.args[0].String)

	if len(ctx.args) == 1 {
		samples, err := (*ctx.storage).HRandField(key, 1)
		if err != nil {
			return hashStorageErr(err)
		}
		if len(samples) == 0 {
			return resp.MakeNilBulkString()
		}
		return resp.MakeBulkString(string(samples[0].Field))
	}

	count, err := strconv.Atoi(string(ctx.args[1].String))
	if err != nil {
		return resp.MakeError("value is not an integer or out of range")
	}

	withValues := false
	if len(ctx.args) == 3 {
		if !strings.EqualFold(string(ctx.args[2].String), "WITHVALUES") {
			return resp.MakeError(hfe.ErrSyntax.Error())
		}
		withValues = true
	}

	samples, err := (*ctx.storage).HRandField(key, count)
	if err != nil {
		return hashStorageErr(err)
	}

	out := make([]resp.Value, 0, len(samples)*2)
	for _, s := range samples {
		out = append(out, resp.MakeBulkString(string(s.Field)))
		if withValues {
			out = append(out, resp.MakeBulkString(string(s.Value)))
		}
	}
	return resp.MakeArray(out)
}
