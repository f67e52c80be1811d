// ABOUTME: Tests for the channel hub
// ABOUTME: Covers namespaces, publish fan-out, history, idempotency, presence, and unsubscribe

package node

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/store"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()

	hs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hs.Close() })

	n := New(Config{
		Name:    "test",
		Version: "dev",
		Default: ChannelOptions{HistorySize: 10},
		Namespaces: map[string]ChannelOptions{
			"chat":    {HistorySize: 5, Presence: true},
			"nohist":  {Presence: true},
			"private": {},
		},
	}, hs, nil)
	t.Cleanup(n.Close)
	return n
}

func recv(t *testing.T, sub *Subscription) *store.Publication {
	t.Helper()
	select {
	case pub, ok := <-sub.C:
		require.True(t, ok, "subscription closed unexpectedly")
		return pub
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publication")
		return nil
	}
}

func TestChannelOptions(t *testing.T) {
	n := newTestNode(t)

	tests := []struct {
		channel string
		want    ChannelOptions
		wantErr error
	}{
		{channel: "news", want: ChannelOptions{HistorySize: 10}},
		{channel: "chat:room", want: ChannelOptions{HistorySize: 5, Presence: true}},
		{channel: "chat:room:sub", want: ChannelOptions{HistorySize: 5, Presence: true}},
		{channel: "missing:room", wantErr: ErrUnknownChannel},
		{channel: "", wantErr: ErrInvalidChannel},
		{channel: "has space", wantErr: ErrInvalidChannel},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			got, err := n.ChannelOptions(tt.channel)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChannelOptions_NoHistoryStore(t *testing.T) {
	n := New(Config{Default: ChannelOptions{HistorySize: 10}}, nil, nil)
	defer n.Close()

	opts, err := n.ChannelOptions("news")
	require.NoError(t, err)
	assert.Zero(t, opts.HistorySize)

	_, _, err = n.History(context.Background(), "news", store.HistoryFilter{})
	assert.ErrorIs(t, err, ErrHistoryDisabled)

	info, err := n.Info(context.Background())
	require.NoError(t, err)
	assert.Zero(t, info.NumHistoryChannels)
}

func TestPublish_FanOut(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	sub1, err := n.Subscribe(ctx, "chat:room", ClientInfo{User: "alice"})
	require.NoError(t, err)
	sub2, err := n.Subscribe(ctx, "chat:room", ClientInfo{User: "bob"})
	require.NoError(t, err)
	other, err := n.Subscribe(ctx, "chat:other", ClientInfo{User: "carol"})
	require.NoError(t, err)

	res, err := n.Publish(ctx, "chat:room", json.RawMessage(`{"text":"hi"}`), PublishOptions{Tags: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Offset)
	assert.NotEmpty(t, res.Epoch)

	for _, sub := range []*Subscription{sub1, sub2} {
		pub := recv(t, sub)
		assert.JSONEq(t, `{"text":"hi"}`, string(pub.Data))
		assert.Equal(t, uint64(1), pub.Offset)
		assert.Equal(t, "v", pub.Tags["k"])
	}

	select {
	case <-other.C:
		t.Fatal("subscriber of another channel received publication")
	default:
	}
}

func TestPublish_NoHistoryNamespace(t *testing.T) {
	n := newTestNode(t)

	res, err := n.Publish(context.Background(), "nohist:x", json.RawMessage(`{}`), PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, PublishResult{}, res)
}

func TestPublish_SkipHistory(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	res, err := n.Publish(ctx, "news", json.RawMessage(`{}`), PublishOptions{SkipHistory: true})
	require.NoError(t, err)
	assert.Equal(t, PublishResult{}, res)

	pubs, _, err := n.History(ctx, "news", store.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, pubs)
}

func TestPublish_UnknownNamespace(t *testing.T) {
	n := newTestNode(t)

	_, err := n.Publish(context.Background(), "missing:x", json.RawMessage(`{}`), PublishOptions{})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestPublish_Idempotent(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	first, err := n.Publish(ctx, "news", json.RawMessage(`{"n":1}`), PublishOptions{IdempotencyKey: "k1"})
	require.NoError(t, err)
	second, err := n.Publish(ctx, "news", json.RawMessage(`{"n":1}`), PublishOptions{IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The same key on another channel is independent.
	other, err := n.Publish(ctx, "chat:room", json.RawMessage(`{"n":1}`), PublishOptions{IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), other.Offset)

	pubs, _, err := n.History(ctx, "news", store.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, pubs, 1)
}

func TestPublish_IdempotentConcurrent(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := n.Publish(ctx, "news", json.RawMessage(`{}`), PublishOptions{IdempotencyKey: "same"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pubs, _, err := n.History(ctx, "news", store.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, pubs, 1)
}

func TestHistory(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		_, err := n.Publish(ctx, "chat:room", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)), PublishOptions{})
		require.NoError(t, err)
	}

	pubs, pos, err := n.History(ctx, "chat:room", store.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, pubs, 5, "namespace history_size bounds retained publications")
	assert.Equal(t, uint64(7), pos.Offset)

	_, _, err = n.History(ctx, "nohist:x", store.HistoryFilter{})
	assert.ErrorIs(t, err, ErrHistoryDisabled)

	require.NoError(t, n.RemoveHistory(ctx, "chat:room"))
	pubs, _, err = n.History(ctx, "chat:room", store.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, pubs)

	assert.ErrorIs(t, n.RemoveHistory(ctx, "private:x"), ErrHistoryDisabled)
}

func TestPresence(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	_, err := n.Subscribe(ctx, "chat:room", ClientInfo{ClientID: "c1", User: "alice"})
	require.NoError(t, err)
	_, err = n.Subscribe(ctx, "chat:room", ClientInfo{ClientID: "c2", User: "alice"})
	require.NoError(t, err)
	_, err = n.Subscribe(ctx, "chat:room", ClientInfo{ClientID: "c3", User: "bob"})
	require.NoError(t, err)

	presence, err := n.Presence("chat:room")
	require.NoError(t, err)
	assert.Len(t, presence, 3)
	assert.Equal(t, "alice", presence["c1"].User)
	assert.False(t, presence["c1"].JoinedAt.IsZero())

	clients, users, err := n.PresenceStats("chat:room")
	require.NoError(t, err)
	assert.Equal(t, 3, clients)
	assert.Equal(t, 2, users)

	_, err = n.Presence("news")
	assert.ErrorIs(t, err, ErrPresenceDisabled)
	_, _, err = n.PresenceStats("missing:x")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestSubscribe_ContextCancelRemoves(t *testing.T) {
	n := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := n.Subscribe(ctx, "chat:room", ClientInfo{User: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.Info.ClientID)

	cancel()

	select {
	case _, ok := <-sub.C:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed after context cancel")
	}

	channels, err := n.Channels("")
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestSubscription_Close(t *testing.T) {
	n := newTestNode(t)

	sub, err := n.Subscribe(context.Background(), "news", ClientInfo{})
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestUnsubscribe(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	a1, err := n.Subscribe(ctx, "chat:room", ClientInfo{User: "alice"})
	require.NoError(t, err)
	a2, err := n.Subscribe(ctx, "chat:room", ClientInfo{User: "alice"})
	require.NoError(t, err)
	b, err := n.Subscribe(ctx, "chat:room", ClientInfo{User: "bob"})
	require.NoError(t, err)

	removed, err := n.Unsubscribe("chat:room", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for _, sub := range []*Subscription{a1, a2} {
		_, ok := <-sub.C
		assert.False(t, ok)
	}

	_, err = n.Publish(ctx, "chat:room", json.RawMessage(`{}`), PublishOptions{})
	require.NoError(t, err)
	recv(t, b)

	removed, err = n.Unsubscribe("chat:room", "nobody")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestBroadcast_DisconnectsSlowSubscriber(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	sub, err := n.Subscribe(ctx, "private:x", ClientInfo{User: "slow"})
	require.NoError(t, err)

	for i := 0; i < subscriberBufferSize+1; i++ {
		_, err := n.Publish(ctx, "private:x", json.RawMessage(`{}`), PublishOptions{})
		require.NoError(t, err)
	}

	received := 0
	for range sub.C {
		received++
	}
	assert.Equal(t, subscriberBufferSize, received)
}

func TestChannels(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	for _, ch := range []string{"chat:a", "chat:a", "chat:b", "news"} {
		_, err := n.Subscribe(ctx, ch, ClientInfo{})
		require.NoError(t, err)
	}

	all, err := n.Channels("")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"chat:a": 2, "chat:b": 1, "news": 1}, all)

	chat, err := n.Channels("chat:*")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"chat:a": 2, "chat:b": 1}, chat)

	_, err = n.Channels("[")
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestInfo(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	_, err := n.Subscribe(ctx, "chat:a", ClientInfo{ClientID: "c1", User: "alice"})
	require.NoError(t, err)
	_, err = n.Subscribe(ctx, "chat:b", ClientInfo{ClientID: "c1", User: "alice"})
	require.NoError(t, err)
	_, err = n.Subscribe(ctx, "chat:b", ClientInfo{ClientID: "c2", User: "bob"})
	require.NoError(t, err)

	_, err = n.Publish(ctx, "news", json.RawMessage(`{}`), PublishOptions{})
	require.NoError(t, err)

	info, err := n.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, n.ID(), info.ID)
	assert.Equal(t, "test", info.Name)
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, 2, info.NumChannels)
	assert.Equal(t, 3, info.NumSubs)
	assert.Equal(t, 2, info.NumClients)
	assert.Equal(t, 2, info.NumUsers)
	assert.Equal(t, uint64(1), info.NumPublications)
	assert.Equal(t, 1, info.NumHistoryChannels)
}

func TestClose(t *testing.T) {
	hs, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer hs.Close()

	n := New(Config{}, hs, nil)
	sub, err := n.Subscribe(context.Background(), "news", ClientInfo{})
	require.NoError(t, err)

	n.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	_, err = n.Subscribe(context.Background(), "news", ClientInfo{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = n.Publish(context.Background(), "news", json.RawMessage(`{}`), PublishOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublish_AfterCloseStoresNothing(t *testing.T) {
	hs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	defer hs.Close()

	n := New(Config{Default: ChannelOptions{HistorySize: 10}}, hs, nil)
	n.Close()

	_, err = n.Publish(context.Background(), "news", json.RawMessage(`{}`), PublishOptions{})
	require.ErrorIs(t, err, ErrClosed)

	pubs, pos, err := hs.History(context.Background(), "news", store.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, pubs)
	assert.Zero(t, pos.Offset)
}

func TestSubscription_CloseStopsContextWatcher(t *testing.T) {
	n := newTestNode(t)
	before := runtime.NumGoroutine()

	var subs []*Subscription
	for i := 0; i < 20; i++ {
		sub, err := n.Subscribe(context.Background(), "news", ClientInfo{User: "alice"})
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	assert.GreaterOrEqual(t, runtime.NumGoroutine(), before+20)

	for _, sub := range subs[:10] {
		sub.Close()
	}
	removed, err := n.Unsubscribe("news", "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, removed)

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond)
}
