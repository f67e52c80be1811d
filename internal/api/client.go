// ABOUTME: Client stub for the server API gRPC service
// ABOUTME: Selects the JSON codec on every call and can attach an API key to the connection

package api

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/relay-gateway/internal/auth"
)

// DialOptions configure Dial.
type DialOptions struct {
	// APIKey is sent as "authorization: apikey <key>" on every call when set.
	APIKey string
	// TLS enables transport security using the system roots.
	TLS bool
}

// Dial opens a client connection to a server API endpoint.
func Dial(addr string, opts DialOptions) (*grpc.ClientConn, error) {
	var dialOpts []grpc.DialOption
	if opts.TLS {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(auth.NewAPIKeyCredentials(opts.APIKey, opts.TLS)))
	}

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

// Client is the client side of the server API.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func invoke[Req any, Reply any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts []grpc.CallOption) (*Reply, error) {
	out := new(Reply)
	if err := cc.Invoke(ctx, method, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Info(ctx context.Context, in *InfoRequest, opts ...grpc.CallOption) (*InfoReply, error) {
	return invoke[InfoRequest, InfoReply](ctx, c.cc, ServerAPI_Info_FullMethodName, in, opts)
}

func (c *Client) Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*PublishReply, error) {
	return invoke[PublishRequest, PublishReply](ctx, c.cc, ServerAPI_Publish_FullMethodName, in, opts)
}

func (c *Client) Broadcast(ctx context.Context, in *BroadcastRequest, opts ...grpc.CallOption) (*BroadcastReply, error) {
	return invoke[BroadcastRequest, BroadcastReply](ctx, c.cc, ServerAPI_Broadcast_FullMethodName, in, opts)
}

func (c *Client) Presence(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*PresenceReply, error) {
	return invoke[PresenceRequest, PresenceReply](ctx, c.cc, ServerAPI_Presence_FullMethodName, in, opts)
}

func (c *Client) PresenceStats(ctx context.Context, in *PresenceStatsRequest, opts ...grpc.CallOption) (*PresenceStatsReply, error) {
	return invoke[PresenceStatsRequest, PresenceStatsReply](ctx, c.cc, ServerAPI_PresenceStats_FullMethodName, in, opts)
}

func (c *Client) History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryReply, error) {
	return invoke[HistoryRequest, HistoryReply](ctx, c.cc, ServerAPI_History_FullMethodName, in, opts)
}

func (c *Client) HistoryRemove(ctx context.Context, in *HistoryRemoveRequest, opts ...grpc.CallOption) (*HistoryRemoveReply, error) {
	return invoke[HistoryRemoveRequest, HistoryRemoveReply](ctx, c.cc, ServerAPI_HistoryRemove_FullMethodName, in, opts)
}

func (c *Client) Channels(ctx context.Context, in *ChannelsRequest, opts ...grpc.CallOption) (*ChannelsReply, error) {
	return invoke[ChannelsRequest, ChannelsReply](ctx, c.cc, ServerAPI_Channels_FullMethodName, in, opts)
}

func (c *Client) Unsubscribe(ctx context.Context, in *UnsubscribeRequest, opts ...grpc.CallOption) (*UnsubscribeReply, error) {
	return invoke[UnsubscribeRequest, UnsubscribeReply](ctx, c.cc, ServerAPI_Unsubscribe_FullMethodName, in, opts)
}

// Subscribe opens a server stream of publications for in.Channel.
func (c *Client) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[SubscribeReply], error) {
	stream, err := c.cc.NewStream(ctx, &ServerAPI_ServiceDesc.Streams[0], ServerAPI_Subscribe_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[SubscribeRequest, SubscribeReply]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
