// ABOUTME: Executor runs server API requests against the node
// ABOUTME: Shared by the gRPC service and the HTTP API; failures become reply errors

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/2389/relay-gateway/internal/node"
	"github.com/2389/relay-gateway/internal/store"
)

// Executor translates API requests into node operations. Its methods never
// return a Go error: every failure is reported in the reply's Error field.
type Executor struct {
	node   *node.Node
	logger *slog.Logger
}

// NewExecutor creates an Executor over n.
func NewExecutor(n *node.Node, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{node: n, logger: logger}
}

// Node returns the node the executor operates on.
func (e *Executor) Node() *node.Node {
	return e.node
}

func badRequest(msg string) *Error {
	return &Error{Code: CodeBadRequest, Message: msg}
}

// toAPIError maps node and store failures onto application error codes.
func (e *Executor) toAPIError(method string, err error) *Error {
	switch {
	case errors.Is(err, node.ErrUnknownChannel):
		return ErrorUnknownChannel
	case errors.Is(err, node.ErrInvalidChannel):
		return badRequest(err.Error())
	case errors.Is(err, node.ErrHistoryDisabled), errors.Is(err, node.ErrPresenceDisabled):
		return &Error{Code: CodeNotAvailable, Message: err.Error()}
	default:
		e.logger.Error("server api call failed", "method", method, "error", err)
		return ErrorInternal
	}
}

// Info returns statistics for this node.
func (e *Executor) Info(ctx context.Context, _ *InfoRequest) *InfoReply {
	info, err := e.node.Info(ctx)
	if err != nil {
		return &InfoReply{Error: e.toAPIError("info", err)}
	}
	return &InfoReply{Result: &InfoResult{Nodes: []*NodeResult{{
		UID:                info.ID,
		Name:               info.Name,
		Version:            info.Version,
		NumClients:         uint32(info.NumClients),
		NumUsers:           uint32(info.NumUsers),
		NumChannels:        uint32(info.NumChannels),
		NumSubs:            uint32(info.NumSubs),
		NumPublications:    info.NumPublications,
		NumHistoryChannels: uint32(info.NumHistoryChannels),
		Uptime:             uint32(info.Uptime.Seconds()),
	}}}}
}

func validateData(data json.RawMessage) *Error {
	if len(data) == 0 {
		return badRequest("data required")
	}
	if !json.Valid(data) {
		return badRequest("data must be valid JSON")
	}
	return nil
}

// Publish sends data into a single channel.
func (e *Executor) Publish(ctx context.Context, req *PublishRequest) *PublishReply {
	if req.Channel == "" {
		return &PublishReply{Error: badRequest("channel required")}
	}
	if apiErr := validateData(req.Data); apiErr != nil {
		return &PublishReply{Error: apiErr}
	}
	return e.publish(ctx, req.Channel, req.Data, node.PublishOptions{
		Tags:           req.Tags,
		SkipHistory:    req.SkipHistory,
		IdempotencyKey: req.IdempotencyKey,
	})
}

func (e *Executor) publish(ctx context.Context, channel string, data json.RawMessage, opts node.PublishOptions) *PublishReply {
	res, err := e.node.Publish(ctx, channel, data, opts)
	if err != nil {
		return &PublishReply{Error: e.toAPIError("publish", err)}
	}
	return &PublishReply{Result: &PublishResult{Offset: res.Offset, Epoch: res.Epoch}}
}

// Broadcast sends the same data into many channels. A failure on one channel
// does not stop delivery to the others; per-channel outcomes are returned in
// request order.
func (e *Executor) Broadcast(ctx context.Context, req *BroadcastRequest) *BroadcastReply {
	if len(req.Channels) == 0 {
		return &BroadcastReply{Error: badRequest("channels required")}
	}
	if apiErr := validateData(req.Data); apiErr != nil {
		return &BroadcastReply{Error: apiErr}
	}

	responses := make([]*PublishReply, 0, len(req.Channels))
	for _, ch := range req.Channels {
		if ch == "" {
			responses = append(responses, &PublishReply{Error: badRequest("channel required")})
			continue
		}
		responses = append(responses, e.publish(ctx, ch, req.Data, node.PublishOptions{
			Tags:           req.Tags,
			SkipHistory:    req.SkipHistory,
			IdempotencyKey: req.IdempotencyKey,
		}))
	}
	return &BroadcastReply{Result: &BroadcastResult{Responses: responses}}
}

// Presence lists the clients subscribed to a channel.
func (e *Executor) Presence(_ context.Context, req *PresenceRequest) *PresenceReply {
	if req.Channel == "" {
		return &PresenceReply{Error: badRequest("channel required")}
	}
	presence, err := e.node.Presence(req.Channel)
	if err != nil {
		return &PresenceReply{Error: e.toAPIError("presence", err)}
	}

	result := make(map[string]*ClientInfo, len(presence))
	for id, info := range presence {
		result[id] = &ClientInfo{User: info.User, Client: info.ClientID, ConnInfo: info.ConnInfo}
	}
	return &PresenceReply{Result: &PresenceResult{Presence: result}}
}

// PresenceStats returns client and user counts for a channel.
func (e *Executor) PresenceStats(_ context.Context, req *PresenceStatsRequest) *PresenceStatsReply {
	if req.Channel == "" {
		return &PresenceStatsReply{Error: badRequest("channel required")}
	}
	clients, users, err := e.node.PresenceStats(req.Channel)
	if err != nil {
		return &PresenceStatsReply{Error: e.toAPIError("presence_stats", err)}
	}
	return &PresenceStatsReply{Result: &PresenceStatsResult{
		NumClients: uint32(clients),
		NumUsers:   uint32(users),
	}}
}

// History returns stored publications for a channel. A Since position whose
// epoch no longer matches the stream is rejected, since offsets from a
// previous epoch cannot be compared with the current ones.
func (e *Executor) History(ctx context.Context, req *HistoryRequest) *HistoryReply {
	if req.Channel == "" {
		return &HistoryReply{Error: badRequest("channel required")}
	}
	if req.Limit < 0 {
		return &HistoryReply{Error: badRequest("limit must not be negative")}
	}

	filter := store.HistoryFilter{Limit: int(req.Limit), Reverse: req.Reverse}
	if req.Since != nil {
		filter.Since = req.Since.Offset
	}

	pubs, pos, err := e.node.History(ctx, req.Channel, filter)
	if err != nil {
		return &HistoryReply{Error: e.toAPIError("history", err)}
	}
	if req.Since != nil && req.Since.Epoch != "" && pos.Epoch != "" && req.Since.Epoch != pos.Epoch {
		return &HistoryReply{Error: badRequest("stream epoch mismatch")}
	}

	return &HistoryReply{Result: &HistoryResult{
		Publications: toAPIPublications(pubs),
		Epoch:        pos.Epoch,
		Offset:       pos.Offset,
	}}
}

func toAPIPublications(pubs []*store.Publication) []*Publication {
	out := make([]*Publication, 0, len(pubs))
	for _, p := range pubs {
		out = append(out, toAPIPublication(p))
	}
	return out
}

func toAPIPublication(p *store.Publication) *Publication {
	return &Publication{Data: p.Data, Offset: p.Offset, Tags: p.Tags}
}

// HistoryRemove clears a channel's stored publications.
func (e *Executor) HistoryRemove(ctx context.Context, req *HistoryRemoveRequest) *HistoryRemoveReply {
	if req.Channel == "" {
		return &HistoryRemoveReply{Error: badRequest("channel required")}
	}
	if err := e.node.RemoveHistory(ctx, req.Channel); err != nil {
		return &HistoryRemoveReply{Error: e.toAPIError("history_remove", err)}
	}
	return &HistoryRemoveReply{Result: &HistoryRemoveResult{}}
}

// Channels lists active channels, optionally filtered by a glob pattern.
func (e *Executor) Channels(_ context.Context, req *ChannelsRequest) *ChannelsReply {
	channels, err := e.node.Channels(req.Pattern)
	if err != nil {
		if errors.Is(err, node.ErrInvalidChannel) {
			return &ChannelsReply{Error: badRequest("invalid pattern")}
		}
		return &ChannelsReply{Error: e.toAPIError("channels", err)}
	}

	result := make(map[string]*ChannelInfo, len(channels))
	for ch, n := range channels {
		result[ch] = &ChannelInfo{NumClients: uint32(n)}
	}
	return &ChannelsReply{Result: &ChannelsResult{Channels: result}}
}

// Unsubscribe disconnects a user's subscriptions from a channel.
func (e *Executor) Unsubscribe(_ context.Context, req *UnsubscribeRequest) *UnsubscribeReply {
	if req.Channel == "" {
		return &UnsubscribeReply{Error: badRequest("channel required")}
	}
	if req.User == "" {
		return &UnsubscribeReply{Error: badRequest("user required")}
	}
	n, err := e.node.Unsubscribe(req.Channel, req.User)
	if err != nil {
		return &UnsubscribeReply{Error: e.toAPIError("unsubscribe", err)}
	}
	return &UnsubscribeReply{Result: &UnsubscribeResult{NumUnsubscribed: uint32(n)}}
}

// Subscribe attaches to a channel and returns the live subscription along
// with any publications to replay first. The caller must Close the
// subscription.
func (e *Executor) Subscribe(ctx context.Context, req *SubscribeRequest) (*node.Subscription, []*Publication, *Error) {
	if req.Channel == "" {
		return nil, nil, badRequest("channel required")
	}

	sub, err := e.node.Subscribe(ctx, req.Channel, node.ClientInfo{
		User:     req.User,
		ConnInfo: req.ConnInfo,
	})
	if err != nil {
		return nil, nil, e.toAPIError("subscribe", err)
	}
	if req.Since == nil {
		return sub, nil, nil
	}

	// Subscribe before reading history so nothing published in between is
	// lost; the stream skips live publications already replayed.
	pubs, pos, err := e.node.History(ctx, req.Channel, store.HistoryFilter{Since: req.Since.Offset})
	if err != nil {
		sub.Close()
		return nil, nil, e.toAPIError("subscribe", err)
	}
	if req.Since.Epoch != "" && pos.Epoch != "" && req.Since.Epoch != pos.Epoch {
		sub.Close()
		return nil, nil, badRequest("stream epoch mismatch")
	}
	sort.Slice(pubs, func(i, j int) bool { return pubs[i].Offset < pubs[j].Offset })
	return sub, toAPIPublications(pubs), nil
}

// Errors returned by Call when a request cannot be dispatched. They are
// transport-level failures and never appear inside a reply.
var (
	ErrMethodNotFound  = errors.New("method not found")
	ErrMalformedParams = errors.New("malformed params")
)

// Call decodes params into the request type for method and runs it. Method
// names are the snake_case forms used by the HTTP API, e.g. "publish" or
// "presence_stats". The returned reply may still carry an application error.
func (e *Executor) Call(ctx context.Context, method string, params json.RawMessage) (Reply, error) {
	h, ok := methodHandlers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMethodNotFound, method)
	}
	return h(ctx, e, params)
}

type methodHandler func(ctx context.Context, e *Executor, params json.RawMessage) (Reply, error)

func decodeAndRun[Req any, R Reply](fn func(*Executor, context.Context, *Req) R) methodHandler {
	return func(ctx context.Context, e *Executor, params json.RawMessage) (Reply, error) {
		req := new(Req)
		if len(params) > 0 {
			if err := json.Unmarshal(params, req); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedParams, err)
			}
		}
		return fn(e, ctx, req), nil
	}
}

var methodHandlers = map[string]methodHandler{
	"info":           decodeAndRun((*Executor).Info),
	"publish":        decodeAndRun((*Executor).Publish),
	"broadcast":      decodeAndRun((*Executor).Broadcast),
	"presence":       decodeAndRun((*Executor).Presence),
	"presence_stats": decodeAndRun((*Executor).PresenceStats),
	"history":        decodeAndRun((*Executor).History),
	"history_remove": decodeAndRun((*Executor).HistoryRemove),
	"channels":       decodeAndRun((*Executor).Channels),
	"unsubscribe":    decodeAndRun((*Executor).Unsubscribe),
}
