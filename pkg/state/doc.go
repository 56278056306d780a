// Package state persists container records and rebuilds containers from them.
//
// A Store only loads and saves one record tree for one Ref. Repository sits on
// top of a Store and owns the container semantics: plain loads, instances
// layered on a stored template, defaults merged through the layering package,
// multi-record template chains built with datastore.Stack, and optimistic
// concurrency through Meta.ETag.
//
// Data flow:
//
//	Store -> Repository -> datastore.FromRecord / NewInstance / Stack.Build -> *datastore.Container
//
// Keys:
//
//	Ref.Identifier() returns "<domain>/<name>". Both parts must be non-empty and
//	must not contain "/".
//
// Two implementations ship with the package: MemoryStore for tests and
// SQLiteStore (mattn/go-sqlite3) which stores each record as a JSON document.
package state
