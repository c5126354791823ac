package hfe

import "errors"

// Error kinds the core surfaces, per §7 of the HFE specification. These are
// returned unchanged by storage/server; no state change has happened when
// any of these is returned.
var (
	// ErrWrongType is returned when a key exists but does not hold a hash.
	// In practice this is checked one layer up: internal/storage, which
	// owns the Entity type tag, returns its own storage.ErrWrongType, and
	// the server replies with this sentinel's text.
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	// ErrSyntax marks a malformed command: unknown subcommand, mis-ordered
	// FIELDS clause, non-integer TTL argument.
	ErrSyntax = errors.New("syntax error")

	// ErrExpireTimeOverflow marks a computed absolute expire time beyond
	// ExpireTimeMax.
	ErrExpireTimeOverflow = errors.New("invalid expire time, must be >= 0 and <= EB_EXPIRE_TIME_MAX")
)
