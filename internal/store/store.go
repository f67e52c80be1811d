// ABOUTME: Store interface and data types for relay-gateway channel history
// ABOUTME: Defines Publication, StreamPosition and the HistoryStore contract

package store

import (
	"context"
	"encoding/json"
	"time"
)

// Publication is a single message published into a channel.
type Publication struct {
	ID        string
	Offset    uint64
	Data      json.RawMessage
	Tags      map[string]string
	CreatedAt time.Time
}

// StreamPosition identifies a point in a channel's history stream.
// Epoch changes whenever the stream is recreated from scratch.
type StreamPosition struct {
	Offset uint64
	Epoch  string
}

// AppendOptions bounds retained history for a channel.
// Size 0 keeps nothing beyond the stream position; TTL 0 never expires.
type AppendOptions struct {
	Size int
	TTL  time.Duration
}

// HistoryFilter selects publications from a channel's history.
type HistoryFilter struct {
	// Since returns only publications with an offset greater than Since.
	Since uint64
	// Limit caps the number of publications returned. 0 means no limit.
	Limit int
	// Reverse returns newest publications first.
	Reverse bool
	// TTL hides publications older than this age. 0 disables the check.
	TTL time.Duration
}

// HistoryStore persists channel history.
type HistoryStore interface {
	Append(ctx context.Context, channel string, pub *Publication, opts AppendOptions) (StreamPosition, error)
	History(ctx context.Context, channel string, filter HistoryFilter) ([]*Publication, StreamPosition, error)
	RemoveHistory(ctx context.Context, channel string) error
	Channels(ctx context.Context) ([]string, error)
	Close() error
}
