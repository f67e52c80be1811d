// Package store persists channel history for relay-gateway using SQLite.
//
// # Streams
//
// Every channel that has been published to with history enabled owns a
// stream row holding its epoch and top offset. Offsets start at 1 and grow by
// one per publication. RemoveHistory drops stored publications but keeps the
// stream row, so offsets never go backwards within an epoch.
//
// # Retention
//
// Append trims the channel to AppendOptions.Size newest publications and
// deletes entries older than AppendOptions.TTL. History applies the TTL again
// at read time so expired entries are hidden even before the next append.
//
// # Driver
//
// The pure-Go modernc.org/sqlite driver is used so the binary builds without
// cgo. The pool is limited to a single connection, which also makes ":memory:"
// databases usable.
package store
