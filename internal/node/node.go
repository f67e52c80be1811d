// ABOUTME: In-memory channel hub backing the server API
// ABOUTME: Resolves namespaces, persists history, fans out publications, and tracks presence

package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/dedupe"
	"github.com/2389/relay-gateway/internal/store"
)

// NamespaceSeparator splits "namespace:name" channels.
const NamespaceSeparator = ":"

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

var (
	// ErrInvalidChannel is returned for an empty or malformed channel name.
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrUnknownChannel is returned when a channel's namespace is not configured.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrHistoryDisabled is returned for history calls on channels without history.
	ErrHistoryDisabled = errors.New("history not available")
	// ErrPresenceDisabled is returned for presence calls on channels without presence.
	ErrPresenceDisabled = errors.New("presence not available")
	// ErrClosed is returned once the node has been closed.
	ErrClosed = errors.New("node closed")
)

// ChannelOptions control history and presence for a group of channels.
type ChannelOptions struct {
	HistorySize int
	HistoryTTL  time.Duration
	Presence    bool
}

// Config configures a Node.
type Config struct {
	Name          string
	Version       string
	Default       ChannelOptions
	Namespaces    map[string]ChannelOptions
	DedupeTTL     time.Duration
	DedupeMaxSize int
}

// ClientInfo describes a subscriber for presence.
type ClientInfo struct {
	ClientID string
	User     string
	ConnInfo json.RawMessage
	JoinedAt time.Time
}

// PublishOptions tune a single publish.
type PublishOptions struct {
	Tags           map[string]string
	SkipHistory    bool
	IdempotencyKey string
}

// PublishResult reports the stream position assigned to a publication.
// Offset and Epoch are empty when the channel keeps no history.
type PublishResult struct {
	Offset uint64
	Epoch  string
}

// Info is a snapshot of node state.
type Info struct {
	ID                 string
	Name               string
	Version            string
	Uptime             time.Duration
	NumChannels        int
	NumClients         int
	NumUsers           int
	NumSubs            int
	NumPublications    uint64
	NumHistoryChannels int
}

// Node is the channel hub. All methods are safe for concurrent use.
type Node struct {
	id        string
	cfg       Config
	history   store.HistoryStore
	dedupe    *dedupe.Cache[PublishResult]
	logger    *slog.Logger
	startedAt time.Time

	// idemMu serializes publishes that carry an idempotency key so two
	// concurrent retries cannot both miss the cache.
	idemMu sync.Mutex

	mu       sync.RWMutex
	channels map[string]map[string]*subscriber // channel -> subID -> subscriber
	closed   bool

	numPublications atomic.Uint64
}

// New creates a Node. history may be nil, in which case history is
// unavailable on every channel regardless of configuration.
func New(cfg Config, history store.HistoryStore, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DedupeTTL == 0 {
		cfg.DedupeTTL = 5 * time.Minute
	}
	if cfg.DedupeMaxSize == 0 {
		cfg.DedupeMaxSize = 100_000
	}
	return &Node{
		id:        uuid.NewString(),
		cfg:       cfg,
		history:   history,
		dedupe:    dedupe.New[PublishResult](cfg.DedupeTTL, cfg.DedupeMaxSize),
		logger:    logger,
		startedAt: time.Now(),
		channels:  make(map[string]map[string]*subscriber),
	}
}

// ID returns the unique identifier of this node instance.
func (n *Node) ID() string {
	return n.id
}

// ChannelOptions resolves the options for channel from its namespace.
func (n *Node) ChannelOptions(channel string) (ChannelOptions, error) {
	if channel == "" || strings.ContainsAny(channel, " \t\r\n") {
		return ChannelOptions{}, ErrInvalidChannel
	}

	ns, _, found := strings.Cut(channel, NamespaceSeparator)
	if !found {
		opts := n.cfg.Default
		if n.history == nil {
			opts.HistorySize = 0
		}
		return opts, nil
	}

	opts, ok := n.cfg.Namespaces[ns]
	if !ok {
		return ChannelOptions{}, fmt.Errorf("%w: namespace %q not found", ErrUnknownChannel, ns)
	}
	if n.history == nil {
		opts.HistorySize = 0
	}
	return opts, nil
}

// Publish delivers data to every subscriber of channel, storing it in history
// first when the channel keeps history. A repeated IdempotencyKey within the
// dedupe window returns the first result without publishing again.
func (n *Node) Publish(ctx context.Context, channel string, data json.RawMessage, opts PublishOptions) (PublishResult, error) {
	chOpts, err := n.ChannelOptions(channel)
	if err != nil {
		return PublishResult{}, err
	}

	if opts.IdempotencyKey != "" {
		n.idemMu.Lock()
		defer n.idemMu.Unlock()

		if res, ok := n.dedupe.Get(idempotencyKey(channel, opts.IdempotencyKey)); ok {
			n.logger.Debug("duplicate publish suppressed", "channel", channel, "idempotency_key", opts.IdempotencyKey)
			return res, nil
		}
	}

	pub := &store.Publication{
		ID:        uuid.NewString(),
		Data:      data,
		Tags:      opts.Tags,
		CreatedAt: time.Now(),
	}

	if n.isClosed() {
		return PublishResult{}, ErrClosed
	}

	var res PublishResult
	if chOpts.HistorySize > 0 && !opts.SkipHistory {
		pos, err := n.history.Append(ctx, channel, pub, store.AppendOptions{
			Size: chOpts.HistorySize,
			TTL:  chOpts.HistoryTTL,
		})
		if err != nil {
			return PublishResult{}, fmt.Errorf("appending to history: %w", err)
		}
		res = PublishResult{Offset: pos.Offset, Epoch: pos.Epoch}
	}

	// A node closed after the append has no subscribers left; the
	// publication is already recorded, so report it as published.
	if err := n.broadcast(channel, pub); err != nil && !errors.Is(err, ErrClosed) {
		return PublishResult{}, err
	}
	n.numPublications.Add(1)

	if opts.IdempotencyKey != "" {
		n.dedupe.Put(idempotencyKey(channel, opts.IdempotencyKey), res)
	}
	return res, nil
}

func idempotencyKey(channel, key string) string {
	return channel + "\x00" + key
}

// History returns stored publications for channel.
func (n *Node) History(ctx context.Context, channel string, filter store.HistoryFilter) ([]*store.Publication, store.StreamPosition, error) {
	chOpts, err := n.ChannelOptions(channel)
	if err != nil {
		return nil, store.StreamPosition{}, err
	}
	if chOpts.HistorySize == 0 {
		return nil, store.StreamPosition{}, ErrHistoryDisabled
	}
	filter.TTL = chOpts.HistoryTTL
	return n.history.History(ctx, channel, filter)
}

// RemoveHistory clears stored publications for channel.
func (n *Node) RemoveHistory(ctx context.Context, channel string) error {
	chOpts, err := n.ChannelOptions(channel)
	if err != nil {
		return err
	}
	if chOpts.HistorySize == 0 {
		return ErrHistoryDisabled
	}
	return n.history.RemoveHistory(ctx, channel)
}

// Presence returns subscribers of channel keyed by client ID.
func (n *Node) Presence(channel string) (map[string]ClientInfo, error) {
	chOpts, err := n.ChannelOptions(channel)
	if err != nil {
		return nil, err
	}
	if !chOpts.Presence {
		return nil, ErrPresenceDisabled
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	result := make(map[string]ClientInfo, len(n.channels[channel]))
	for _, sub := range n.channels[channel] {
		result[sub.info.ClientID] = sub.info
	}
	return result, nil
}

// PresenceStats returns the number of subscribed clients and distinct users.
func (n *Node) PresenceStats(channel string) (numClients, numUsers int, err error) {
	presence, err := n.Presence(channel)
	if err != nil {
		return 0, 0, err
	}
	users := make(map[string]struct{}, len(presence))
	for _, info := range presence {
		users[info.User] = struct{}{}
	}
	return len(presence), len(users), nil
}

// Channels returns active channels matching pattern with their subscriber
// counts. An empty pattern matches everything; otherwise path.Match syntax
// is used.
func (n *Node) Channels(pattern string) (map[string]int, error) {
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidChannel, err)
		}
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	result := make(map[string]int, len(n.channels))
	for ch, subs := range n.channels {
		if pattern != "" {
			if ok, _ := path.Match(pattern, ch); !ok {
				continue
			}
		}
		result[ch] = len(subs)
	}
	return result, nil
}

// Info returns a snapshot of node statistics.
func (n *Node) Info(ctx context.Context) (Info, error) {
	info := Info{
		ID:              n.id,
		Name:            n.cfg.Name,
		Version:         n.cfg.Version,
		Uptime:          time.Since(n.startedAt),
		NumPublications: n.numPublications.Load(),
	}

	n.mu.RLock()
	clients := make(map[string]struct{})
	users := make(map[string]struct{})
	for _, subs := range n.channels {
		info.NumSubs += len(subs)
		for _, sub := range subs {
			clients[sub.info.ClientID] = struct{}{}
			users[sub.info.User] = struct{}{}
		}
	}
	info.NumChannels = len(n.channels)
	n.mu.RUnlock()

	info.NumClients = len(clients)
	info.NumUsers = len(users)

	if n.history != nil {
		channels, err := n.history.Channels(ctx)
		if err != nil {
			return Info{}, fmt.Errorf("listing history channels: %w", err)
		}
		info.NumHistoryChannels = len(channels)
	}
	return info, nil
}

func (n *Node) isClosed() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.closed
}

// Close disconnects all subscribers and stops background work.
// The history store is owned by the caller and is not closed.
func (n *Node) Close() {
	n.mu.Lock()
	n.closed = true
	for ch, subs := range n.channels {
		for id, sub := range subs {
			sub.close()
			delete(subs, id)
		}
		delete(n.channels, ch)
	}
	n.mu.Unlock()

	n.dedupe.Close()
	n.logger.Debug("node closed")
}
