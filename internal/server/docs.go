package server

import (
	"strings"

	"github.com/fieldflux/fieldflux/internal/resp"
)

type commandMetadata struct {
	arity    int      // Arity includes the command name itself
	flags    []string // read, write, fast, denyoom, etc
	firstKey int      // 1-based index of the first key
	lastKey  int      // 1-based index of the last key
	step     int      // Step count for finding keys
}

var (
	commandRegistry = map[string]commandMetadata{
		"PING":    {-1, []string{"fast", "stale"}, 0, 0, 0},
		"GET":     {2, []string{"readonly", "fast"}, 1, 1, 1},
		"SET":     {-3, []string{"write", "denyoom"}, 1, 1, 1},
		"DEL":     {-2, []string{"write"}, 1, -1, 1},
		"TTL":     {2, []string{"readonly", "fast"}, 1, 1, 1},
		"PTTL":    {2, []string{"readonly", "fast"}, 1, 1, 1},
		"PERSIST": {2, []string{"write", "fast"}, 1, 1, 1},
		"COMMAND": {-1, []string{"random", "loading", "stale"}, 0, 0, 0},

		"HSET":          {-4, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"HSETNX":        {4, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"HGET":          {3, []string{"readonly", "fast"}, 1, 1, 1},
		"HMGET":         {-3, []string{"readonly", "fast"}, 1, 1, 1},
		"HGETALL":       {2, []string{"readonly"}, 1, 1, 1},
		"HKEYS":         {2, []string{"readonly"}, 1, 1, 1},
		"HVALS":         {2, []string{"readonly"}, 1, 1, 1},
		"HEXISTS":       {3, []string{"readonly", "fast"}, 1, 1, 1},
		"HLEN":          {2, []string{"readonly", "fast"}, 1, 1, 1},
		"HSTRLEN":       {3, []string{"readonly", "fast"}, 1, 1, 1},
		"HSCAN":         {-3, []string{"readonly"}, 1, 1, 1},
		"HINCRBY":       {4, []string{"write", "denyoom", "fast"}, 1, 1, 1},
		"HINCRBYFLOAT":  {4, []string{"write", "denyoom"}, 1, 1, 1},
		"HDEL":          {-3, []string{"write", "fast"}, 1, 1, 1},
		"HEXPIRE":       {-6, []string{"write", "fast"}, 1, 1, 1},
		"HPEXPIRE":      {-6, []string{"write", "fast"}, 1, 1, 1},
		"HEXPIREAT":     {-6, []string{"write", "fast"}, 1, 1, 1},
		"HPEXPIREAT":    {-6, []string{"write", "fast"}, 1, 1, 1},
		"HTTL":          {-5, []string{"readonly", "fast"}, 1, 1, 1},
		"HPTTL":         {-5, []string{"readonly", "fast"}, 1, 1, 1},
		"HEXPIRETIME":   {-5, []string{"readonly", "fast"}, 1, 1, 1},
		"HPEXPIRETIME":  {-5, []string{"readonly", "fast"}, 1, 1, 1},
		"HPERSIST":      {-5, []string{"write", "fast"}, 1, 1, 1},
		"HRANDFIELD":    {-2, []string{"readonly"}, 1, 1, 1},
	}
)

// commandDoc stores a description for the command
type commandDoc struct {
	summary    string
	complexity string
	group      string
	since      string
}

// commandDocsRegistry documentation registry
var commandDocsRegistry = map[string]commandDoc{
	"PING": {
		summary:    "Ping the server.",
		complexity: "O(1)",
		group:      "connection",
		since:      "1.0.0",
	},
	"GET": {
		summary:    "Get the value of a key.",
		complexity: "O(1)",
		group:      "string",
		since:      "1.0.0",
	},
	"SET": {
		summary:    "Set the string value of a key.",
		complexity: "O(1)",
		group:      "string",
		since:      "1.0.0",
	},
	"DEL": {
		summary:    "Delete a key.",
		complexity: "O(N) where N is the number of keys that will be removed.",
		group:      "generic",
		since:      "1.0.0",
	},
	"TTL": {
		summary:    "Get the time to live for a key in seconds.",
		complexity: "O(1)",
		group:      "generic",
		since:      "1.0.0",
	},
	"PTTL": {
		summary:    "Get the time to live for a key in milliseconds.",
		complexity: "O(1)",
		group:      "generic",
		since:      "1.0.0",
	},
	"PERSIST": {
		summary:    "Remove the expiration from a key.",
		complexity: "O(1)",
		group:      "generic",
		since:      "1.0.0",
	},
	"COMMAND": {
		summary:    "Get array of command details.",
		complexity: "O(N) where N is the number of commands to look up.",
		group:      "server",
		since:      "1.0.0",
	},
	"HSET": {
		summary:    "Set the value of one or more fields in a hash, clearing any per-field TTL.",
		complexity: "O(N) where N is the number of fields being set.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HSETNX": {
		summary:    "Set a hash field only if it does not already exist.",
		complexity: "O(1)",
		group:      "hash",
		since:      "1.0.0",
	},
	"HGET": {
		summary:    "Get the value of a hash field.",
		complexity: "O(1)",
		group:      "hash",
		since:      "1.0.0",
	},
	"HMGET": {
		summary:    "Get the values of multiple hash fields.",
		complexity: "O(N) where N is the number of fields requested.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HGETALL": {
		summary:    "Get all fields and values of a hash, skipping expired fields.",
		complexity: "O(N) where N is the hash size.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HKEYS": {
		summary:    "Get all field names in a hash.",
		complexity: "O(N) where N is the hash size.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HVALS": {
		summary:    "Get all values in a hash.",
		complexity: "O(N) where N is the hash size.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HEXISTS": {
		summary:    "Check whether a hash field exists.",
		complexity: "O(1)",
		group:      "hash",
		since:      "1.0.0",
	},
	"HLEN": {
		summary:    "Get the number of fields in a hash, excluding expired fields.",
		complexity: "O(1) for the compact encoding, amortized O(1) otherwise.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HSTRLEN": {
		summary:    "Get the length of the value of a hash field.",
		complexity: "O(1)",
		group:      "hash",
		since:      "1.0.0",
	},
	"HSCAN": {
		summary:    "Incrementally iterate hash fields and values.",
		complexity: "O(N) per call, where N is the number of fields in the hash.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HINCRBY": {
		summary:    "Increment the integer value of a hash field, without touching its TTL.",
		complexity: "O(1)",
		group:      "hash",
		since:      "1.0.0",
	},
	"HINCRBYFLOAT": {
		summary:    "Increment the float value of a hash field, without touching its TTL.",
		complexity: "O(1)",
		group:      "hash",
		since:      "1.0.0",
	},
	"HDEL": {
		summary:    "Delete one or more hash fields, removing the key if the hash becomes empty.",
		complexity: "O(N) where N is the number of fields to delete.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HEXPIRE": {
		summary:    "Set a relative TTL in seconds on one or more hash fields.",
		complexity: "O(N) where N is the number of fields.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HPEXPIRE": {
		summary:    "Set a relative TTL in milliseconds on one or more hash fields.",
		complexity: "O(N) where N is the number of fields.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HEXPIREAT": {
		summary:    "Set an absolute TTL in unix seconds on one or more hash fields.",
		complexity: "O(N) where N is the number of fields.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HPEXPIREAT": {
		summary:    "Set an absolute TTL in unix milliseconds on one or more hash fields.",
		complexity: "O(N) where N is the number of fields.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HTTL": {
		summary:    "Get the remaining TTL in seconds of one or more hash fields.",
		complexity: "O(N) where N is the number of fields.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HPTTL": {
		summary:    "Get the remaining TTL in milliseconds of one or more hash fields.",
		complexity: "O(N) where N is the number of fields.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HEXPIRETIME": {
		summary:    "Get the absolute TTL in unix seconds of one or more hash fields.",
		complexity: "O(N) where N is the number of fields.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HPEXPIRETIME": {
		summary:    "Get the absolute TTL in unix milliseconds of one or more hash fields.",
		complexity: "O(N) where N is the number of fields.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HPERSIST": {
		summary:    "Remove the TTL from one or more hash fields.",
		complexity: "O(N) where N is the number of fields.",
		group:      "hash",
		since:      "1.0.0",
	},
	"HRANDFIELD": {
		summary:    "Get one or more random fields from a hash.",
		complexity: "O(N) where N is the number of fields returned.",
		group:      "hash",
		since:      "1.0.0",
	},
}

func makeFlagsArray(flags []string) resp.Value {
	vals := make([]resp.Value, len(flags))
	for i, f := range flags {
		vals[i] = resp.MakeSimpleString(f)
	}
	return resp.MakeArray(vals)
}

func makeInfoCmdArray(name string) []resp.Value {
	return []resp.Value{
		resp.MakeBulkString(name),
		resp.MakeInteger(int64(commandRegistry[name].arity)),
		makeFlagsArray(commandRegistry[name].flags),
		resp.MakeInteger(int64(commandRegistry[name].firstKey)),
		resp.MakeInteger(int64(commandRegistry[name].lastKey)),
		resp.MakeInteger(int64(commandRegistry[name].step)),
	}
}

func getAllCommands() resp.Value {
	cmdArray := make([]resp.Value, 0, len(commandRegistry))
	for name := range commandRegistry {
		details := makeInfoCmdArray(name)
		cmdArray = append(cmdArray, resp.MakeArray(details))
	}
	return resp.MakeArray(cmdArray)
}

// getCommandsDocs returns documentation for specified commands or all commands
// Format: [Name, [Summary, val, Since, val...], Name, [...]]
func getCommandsDocs(args []resp.Value) resp.Value {
	var targets []string

	if len(args) == 0 {
		targets = make([]string, 0, len(commandDocsRegistry))
		for name := range commandDocsRegistry {
			targets = append(targets, name)
		}
	} else {
		targets = make([]string, 0, len(args))
		for _, arg := range args {
			targets = append(targets, strings.ToUpper(string(arg.String)))
		}
	}

	result := make([]resp.Value, 0, len(targets)*2)

	for _, name := range targets {
		doc, ok := commandDocsRegistry[name]
		if !ok {
			continue
		}

		result = append(result, resp.MakeBulkString(name))

		props := []resp.Value{
			resp.MakeBulkString("summary"),
			resp.MakeBulkString(doc.summary),
			resp.MakeBulkString("since"),
			resp.MakeBulkString(doc.since),
			resp.MakeBulkString("group"),
			resp.MakeBulkString(doc.group),
			resp.MakeBulkString("complexity"),
			resp.MakeBulkString(doc.complexity),
		}

		result = append(result, resp.MakeArray(props))
	}

	return resp.MakeArray(result)
}
