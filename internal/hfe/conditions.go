package hfe

import "math"

// ExpireInvalid marks "no expiry" wherever an expire time in milliseconds
// is returned: plain fields, hashes with no TTL'd field, empty bucket sets.
const ExpireInvalid = uint64(math.MaxUint64)

// ExpireTimeMax bounds the absolute expire time (ms since epoch) a field may
// carry. Mirrors EB_EXPIRE_TIME_MAX: kept well below ExpireInvalid so the
// sentinel and a legal value can never collide.
const ExpireTimeMax = uint64(1)<<56 - 1

// FieldSetCond governs whether SetExBatch.Apply is allowed to create or
// overwrite a field's value.
type FieldSetCond uint8

const (
	// CreateOrOverwrite inserts a new field or overwrites an existing one.
	CreateOrOverwrite FieldSetCond = iota
	// DontCreate refuses the operation if the field does not already exist.
	DontCreate
	// DontCreate2 is DontCreate's sibling used by commands that must
	// distinguish "field missing" from "condition not met" in their reply
	// codes even though the refusal behavior is identical.
	DontCreate2
	// DontOverwrite refuses the operation if the field already exists.
	DontOverwrite
)

// ExpireSetCond governs whether a TTL update is allowed to take effect,
// given the field's current TTL.
type ExpireSetCond uint8

const (
	// CondNone applies the new expire unconditionally.
	CondNone ExpireSetCond = iota
	// CondNX applies only if the field has no TTL.
	CondNX
	// CondXX applies only if the field already has a TTL.
	CondXX
	// CondGT applies only if the new expire is later than the current one;
	// a field with no TTL is treated as "infinite", so GT always refuses.
	CondGT
	// CondLT applies only if the new expire is earlier than the current
	// one; a field with no TTL is treated as "infinite", so LT always
	// accepts.
	CondLT
)

// Allows reports whether newExpire may replace currentExpire (ExpireInvalid
// meaning "no TTL") under cond.
func (cond ExpireSetCond) Allows(currentExpire, newExpire uint64) bool {
	hasTTL := currentExpire != ExpireInvalid
	switch cond {
	case CondNX:
		return !hasTTL
	case CondXX:
		return hasTTL
	case CondGT:
		return hasTTL && newExpire > currentExpire
	case CondLT:
		return !hasTTL || newExpire < currentExpire
	default:
		return true
	}
}

// ApplyOutcome is the per-field result of a SetExBatch.Apply call.
type ApplyOutcome uint8

const (
	// ApplyOK is a plain successful TTL/value update.
	ApplyOK ApplyOutcome = iota
	// ApplyNoField means the field does not exist (and the condition
	// requires it to).
	ApplyNoField
	// ApplyConditionNotMet means the NX/XX/GT/LT condition refused the
	// update; the field is unchanged.
	ApplyConditionNotMet
	// ApplyDeleted means the requested expire time was already in the
	// past; the field was deleted instead of given a TTL.
	ApplyDeleted
	// ApplyUpdated means only the field's value changed (no TTL touched).
	ApplyUpdated
)

// PersistOutcome is the result of Hash.Persist.
type PersistOutcome uint8

const (
	// PersistOK means the field's TTL was cleared.
	PersistOK PersistOutcome = iota
	// PersistNoTTL means the field exists but had no TTL to clear.
	PersistNoTTL
	// PersistNoField means the field does not exist.
	PersistNoField
)
