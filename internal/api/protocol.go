// ABOUTME: Server API request/reply messages and application-level error codes
// ABOUTME: Every reply carries either a result or an embedded error, never both

package api

import (
	"encoding/json"
	"fmt"
)

// Error is an application-level failure carried inside a successful reply.
// It is never converted into a transport status.
type Error struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Application error codes.
const (
	CodeInternal          uint32 = 100
	CodeUnauthorized      uint32 = 101
	CodeUnknownChannel    uint32 = 102
	CodePermissionDenied  uint32 = 103
	CodeMethodNotFound    uint32 = 104
	CodeAlreadySubscribed uint32 = 105
	CodeLimitExceeded     uint32 = 106
	CodeBadRequest        uint32 = 107
	CodeNotAvailable      uint32 = 108
)

// Predefined application errors.
var (
	ErrorInternal       = &Error{Code: CodeInternal, Message: "internal server error"}
	ErrorUnknownChannel = &Error{Code: CodeUnknownChannel, Message: "unknown channel"}
	ErrorBadRequest     = &Error{Code: CodeBadRequest, Message: "bad request"}
	ErrorNotAvailable   = &Error{Code: CodeNotAvailable, Message: "not available"}
)

// StreamPosition identifies a point in a channel's history stream.
type StreamPosition struct {
	Offset uint64 `json:"offset"`
	Epoch  string `json:"epoch"`
}

// Publication is a message as returned by History and Subscribe.
type Publication struct {
	Data   json.RawMessage   `json:"data"`
	Offset uint64            `json:"offset,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// ClientInfo describes a subscriber in presence results.
type ClientInfo struct {
	User     string          `json:"user"`
	Client   string          `json:"client"`
	ConnInfo json.RawMessage `json:"conn_info,omitempty"`
}

// Info

type InfoRequest struct{}

type InfoReply struct {
	Error  *Error      `json:"error,omitempty"`
	Result *InfoResult `json:"result,omitempty"`
}

type InfoResult struct {
	Nodes []*NodeResult `json:"nodes"`
}

type NodeResult struct {
	UID                string `json:"uid"`
	Name               string `json:"name"`
	Version            string `json:"version"`
	NumClients         uint32 `json:"num_clients"`
	NumUsers           uint32 `json:"num_users"`
	NumChannels        uint32 `json:"num_channels"`
	NumSubs            uint32 `json:"num_subs"`
	NumPublications    uint64 `json:"num_publications"`
	NumHistoryChannels uint32 `json:"num_history_channels"`
	Uptime             uint32 `json:"uptime"`
}

// Publish

type PublishRequest struct {
	Channel        string            `json:"channel"`
	Data           json.RawMessage   `json:"data"`
	SkipHistory    bool              `json:"skip_history,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type PublishReply struct {
	Error  *Error         `json:"error,omitempty"`
	Result *PublishResult `json:"result,omitempty"`
}

type PublishResult struct {
	Offset uint64 `json:"offset,omitempty"`
	Epoch  string `json:"epoch,omitempty"`
}

// Broadcast

type BroadcastRequest struct {
	Channels       []string          `json:"channels"`
	Data           json.RawMessage   `json:"data"`
	SkipHistory    bool              `json:"skip_history,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type BroadcastReply struct {
	Error  *Error           `json:"error,omitempty"`
	Result *BroadcastResult `json:"result,omitempty"`
}

// BroadcastResult holds one publish reply per requested channel, in order.
type BroadcastResult struct {
	Responses []*PublishReply `json:"responses"`
}

// Presence

type PresenceRequest struct {
	Channel string `json:"channel"`
}

type PresenceReply struct {
	Error  *Error          `json:"error,omitempty"`
	Result *PresenceResult `json:"result,omitempty"`
}

type PresenceResult struct {
	Presence map[string]*ClientInfo `json:"presence"`
}

type PresenceStatsRequest struct {
	Channel string `json:"channel"`
}

type PresenceStatsReply struct {
	Error  *Error               `json:"error,omitempty"`
	Result *PresenceStatsResult `json:"result,omitempty"`
}

type PresenceStatsResult struct {
	NumClients uint32 `json:"num_clients"`
	NumUsers   uint32 `json:"num_users"`
}

// History

type HistoryRequest struct {
	Channel string          `json:"channel"`
	Limit   int32           `json:"limit,omitempty"`
	Since   *StreamPosition `json:"since,omitempty"`
	Reverse bool            `json:"reverse,omitempty"`
}

type HistoryReply struct {
	Error  *Error         `json:"error,omitempty"`
	Result *HistoryResult `json:"result,omitempty"`
}

type HistoryResult struct {
	Publications []*Publication `json:"publications"`
	Epoch        string         `json:"epoch"`
	Offset       uint64         `json:"offset"`
}

type HistoryRemoveRequest struct {
	Channel string `json:"channel"`
}

type HistoryRemoveReply struct {
	Error  *Error               `json:"error,omitempty"`
	Result *HistoryRemoveResult `json:"result,omitempty"`
}

type HistoryRemoveResult struct{}

// Channels

type ChannelsRequest struct {
	Pattern string `json:"pattern,omitempty"`
}

type ChannelsReply struct {
	Error  *Error          `json:"error,omitempty"`
	Result *ChannelsResult `json:"result,omitempty"`
}

type ChannelsResult struct {
	Channels map[string]*ChannelInfo `json:"channels"`
}

type ChannelInfo struct {
	NumClients uint32 `json:"num_clients"`
}

// Unsubscribe

type UnsubscribeRequest struct {
	Channel string `json:"channel"`
	User    string `json:"user"`
}

type UnsubscribeReply struct {
	Error  *Error             `json:"error,omitempty"`
	Result *UnsubscribeResult `json:"result,omitempty"`
}

type UnsubscribeResult struct {
	NumUnsubscribed uint32 `json:"num_unsubscribed"`
}

// Subscribe (server streaming)

// SubscribeRequest attaches the caller to a channel. When Since is set and the
// channel keeps history, publications after that position are replayed first.
type SubscribeRequest struct {
	Channel  string          `json:"channel"`
	User     string          `json:"user,omitempty"`
	ConnInfo json.RawMessage `json:"conn_info,omitempty"`
	Since    *StreamPosition `json:"since,omitempty"`
}

// SubscribeReply is one stream message: a publication, or a terminal
// application error after which the server ends the stream.
type SubscribeReply struct {
	Error       *Error       `json:"error,omitempty"`
	Publication *Publication `json:"publication,omitempty"`
}

// Reply is implemented by every reply message.
type Reply interface {
	// GetError returns the embedded application error, if any. It is nil-safe.
	GetError() *Error
}

func (x *InfoReply) GetError() *Error {
	if x == nil {
		return nil
	}
	return x.Error
}

func (x *PublishReply) GetError() *Error {
	if x == nil {
		return nil
	}
	return x.Error
}

func (x *BroadcastReply) GetError() *Error {
	if x == nil {
		return nil
	}
	return x.Error
}

func (x *PresenceReply) GetError() *Error {
	if x == nil {
		return nil
	}
	return x.Error
}

func (x *PresenceStatsReply) GetError() *Error {
	if x == nil {
		return nil
	}
	return x.Error
}

func (x *HistoryReply) GetError() *Error {
	if x == nil {
		return nil
	}
	return x.Error
}

func (x *HistoryRemoveReply) GetError() *Error {
	if x == nil {
		return nil
	}
	return x.Error
}

func (x *ChannelsReply) GetError() *Error {
	if x == nil {
		return nil
	}
	return x.Error
}

func (x *UnsubscribeReply) GetError() *Error {
	if x == nil {
		return nil
	}
	return x.Error
}

func (x *SubscribeReply) GetError() *Error {
	if x == nil {
		return nil
	}
	return x.Error
}
