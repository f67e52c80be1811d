// ABOUTME: Channel subscriptions and publication fan-out for the node
// ABOUTME: Buffered per-subscriber delivery; subscribers that fall behind are disconnected

package node

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/store"
)

type subscriber struct {
	id      string
	channel string
	info    ClientInfo
	ch      chan *store.Publication
	done    chan struct{}
	once    sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

// Subscription is a live attachment to a channel. C is closed when the
// subscription ends: on Close, context cancellation, Unsubscribe, node
// shutdown, or when the subscriber falls too far behind.
type Subscription struct {
	ID      string
	Channel string
	Info    ClientInfo
	C       <-chan *store.Publication

	node *Node
}

// Close ends the subscription. It is safe to call multiple times.
func (s *Subscription) Close() {
	s.node.removeSubscriber(s.Channel, s.ID, "closed")
}

// Subscribe attaches a subscriber to channel until ctx is cancelled or the
// subscription is closed. An empty ClientID is replaced by a generated one.
func (n *Node) Subscribe(ctx context.Context, channel string, info ClientInfo) (*Subscription, error) {
	if _, err := n.ChannelOptions(channel); err != nil {
		return nil, err
	}

	if info.ClientID == "" {
		info.ClientID = uuid.NewString()
	}
	info.JoinedAt = time.Now()

	sub := &subscriber{
		id:      uuid.NewString(),
		channel: channel,
		info:    info,
		ch:      make(chan *store.Publication, subscriberBufferSize),
		done:    make(chan struct{}),
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := n.channels[channel]; !ok {
		n.channels[channel] = make(map[string]*subscriber)
	}
	n.channels[channel][sub.id] = sub
	n.mu.Unlock()

	n.logger.Debug("subscriber added",
		"channel", channel,
		"sub_id", sub.id,
		"user", info.User,
	)

	go func() {
		select {
		case <-ctx.Done():
			n.removeSubscriber(channel, sub.id, "context done")
		case <-sub.done:
		}
	}()

	return &Subscription{
		ID:      sub.id,
		Channel: channel,
		Info:    info,
		C:       sub.ch,
		node:    n,
	}, nil
}

// Unsubscribe disconnects every subscription of user from channel and
// returns how many were removed.
func (n *Node) Unsubscribe(channel, user string) (int, error) {
	if _, err := n.ChannelOptions(channel); err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	removed := 0
	for id, sub := range n.channels[channel] {
		if sub.info.User != user {
			continue
		}
		n.removeSubscriberLocked(channel, id)
		removed++
	}

	if removed > 0 {
		n.logger.Info("unsubscribed user", "channel", channel, "user", user, "subscriptions", removed)
	}
	return removed, nil
}

// broadcast delivers pub to every subscriber of channel without blocking.
// Subscribers whose buffer is full are disconnected so they can recover
// from history instead of silently missing publications.
func (n *Node) broadcast(channel string, pub *store.Publication) error {
	var slow []string

	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return ErrClosed
	}
	for id, sub := range n.channels[channel] {
		select {
		case sub.ch <- pub:
		default:
			slow = append(slow, id)
		}
	}
	n.mu.RUnlock()

	for _, id := range slow {
		n.logger.Warn("disconnecting slow subscriber", "channel", channel, "sub_id", id)
		n.removeSubscriber(channel, id, "slow")
	}
	return nil
}

func (n *Node) removeSubscriber(channel, subID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removeSubscriberLocked(channel, subID) {
		n.logger.Debug("subscriber removed", "channel", channel, "sub_id", subID, "reason", reason)
	}
}

// removeSubscriberLocked must be called with mu held.
func (n *Node) removeSubscriberLocked(channel, subID string) bool {
	subs, ok := n.channels[channel]
	if !ok {
		return false
	}
	sub, ok := subs[subID]
	if !ok {
		return false
	}

	delete(subs, subID)
	sub.close()

	if len(subs) == 0 {
		delete(n.channels, channel)
	}
	return true
}
