// ABOUTME: gRPC service descriptor, server interface, and registration for the server API
// ABOUTME: Written in the shape of generated code; messages travel through the JSON codec

package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "relay.api.ServerAPI"

// Full method names.
const (
	ServerAPI_Info_FullMethodName          = "/relay.api.ServerAPI/Info"
	ServerAPI_Publish_FullMethodName       = "/relay.api.ServerAPI/Publish"
	ServerAPI_Broadcast_FullMethodName     = "/relay.api.ServerAPI/Broadcast"
	ServerAPI_Presence_FullMethodName      = "/relay.api.ServerAPI/Presence"
	ServerAPI_PresenceStats_FullMethodName = "/relay.api.ServerAPI/PresenceStats"
	ServerAPI_History_FullMethodName       = "/relay.api.ServerAPI/History"
	ServerAPI_HistoryRemove_FullMethodName = "/relay.api.ServerAPI/HistoryRemove"
	ServerAPI_Channels_FullMethodName      = "/relay.api.ServerAPI/Channels"
	ServerAPI_Unsubscribe_FullMethodName   = "/relay.api.ServerAPI/Unsubscribe"
	ServerAPI_Subscribe_FullMethodName     = "/relay.api.ServerAPI/Subscribe"
)

// ServerAPIServer is the server side of the server API.
type ServerAPIServer interface {
	Info(context.Context, *InfoRequest) (*InfoReply, error)
	Publish(context.Context, *PublishRequest) (*PublishReply, error)
	Broadcast(context.Context, *BroadcastRequest) (*BroadcastReply, error)
	Presence(context.Context, *PresenceRequest) (*PresenceReply, error)
	PresenceStats(context.Context, *PresenceStatsRequest) (*PresenceStatsReply, error)
	History(context.Context, *HistoryRequest) (*HistoryReply, error)
	HistoryRemove(context.Context, *HistoryRemoveRequest) (*HistoryRemoveReply, error)
	Channels(context.Context, *ChannelsRequest) (*ChannelsReply, error)
	Unsubscribe(context.Context, *UnsubscribeRequest) (*UnsubscribeReply, error)
	Subscribe(*SubscribeRequest, grpc.ServerStreamingServer[SubscribeReply]) error
}

// UnimplementedServerAPIServer returns Unimplemented for every method.
// Embed it by value to stay forward compatible.
type UnimplementedServerAPIServer struct{}

func (UnimplementedServerAPIServer) Info(context.Context, *InfoRequest) (*InfoReply, error) {
	return nil, status.Error(codes.Unimplemented, "method Info not implemented")
}
func (UnimplementedServerAPIServer) Publish(context.Context, *PublishRequest) (*PublishReply, error) {
	return nil, status.Error(codes.Unimplemented, "method Publish not implemented")
}
func (UnimplementedServerAPIServer) Broadcast(context.Context, *BroadcastRequest) (*BroadcastReply, error) {
	return nil, status.Error(codes.Unimplemented, "method Broadcast not implemented")
}
func (UnimplementedServerAPIServer) Presence(context.Context, *PresenceRequest) (*PresenceReply, error) {
	return nil, status.Error(codes.Unimplemented, "method Presence not implemented")
}
func (UnimplementedServerAPIServer) PresenceStats(context.Context, *PresenceStatsRequest) (*PresenceStatsReply, error) {
	return nil, status.Error(codes.Unimplemented, "method PresenceStats not implemented")
}
func (UnimplementedServerAPIServer) History(context.Context, *HistoryRequest) (*HistoryReply, error) {
	return nil, status.Error(codes.Unimplemented, "method History not implemented")
}
func (UnimplementedServerAPIServer) HistoryRemove(context.Context, *HistoryRemoveRequest) (*HistoryRemoveReply, error) {
	return nil, status.Error(codes.Unimplemented, "method HistoryRemove not implemented")
}
func (UnimplementedServerAPIServer) Channels(context.Context, *ChannelsRequest) (*ChannelsReply, error) {
	return nil, status.Error(codes.Unimplemented, "method Channels not implemented")
}
func (UnimplementedServerAPIServer) Unsubscribe(context.Context, *UnsubscribeRequest) (*UnsubscribeReply, error) {
	return nil, status.Error(codes.Unimplemented, "method Unsubscribe not implemented")
}
func (UnimplementedServerAPIServer) Subscribe(*SubscribeRequest, grpc.ServerStreamingServer[SubscribeReply]) error {
	return status.Error(codes.Unimplemented, "method Subscribe not implemented")
}

// RegisterServerAPIServer registers srv on s.
func RegisterServerAPIServer(s grpc.ServiceRegistrar, srv ServerAPIServer) {
	s.RegisterService(&ServerAPI_ServiceDesc, srv)
}

// unaryHandler builds a grpc.MethodDesc handler for one unary method.
// call receives the concrete server and the decoded request.
func unaryHandler[Req any, Reply any](fullMethod string, call func(ServerAPIServer, context.Context, *Req) (Reply, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ServerAPIServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ServerAPIServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _ServerAPI_Subscribe_Handler(srv any, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ServerAPIServer).Subscribe(m, &grpc.GenericServerStream[SubscribeRequest, SubscribeReply]{ServerStream: stream})
}

// ServerAPI_ServiceDesc is the grpc.ServiceDesc for the server API.
var ServerAPI_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ServerAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Info",
			Handler:    unaryHandler(ServerAPI_Info_FullMethodName, ServerAPIServer.Info),
		},
		{
			MethodName: "Publish",
			Handler:    unaryHandler(ServerAPI_Publish_FullMethodName, ServerAPIServer.Publish),
		},
		{
			MethodName: "Broadcast",
			Handler:    unaryHandler(ServerAPI_Broadcast_FullMethodName, ServerAPIServer.Broadcast),
		},
		{
			MethodName: "Presence",
			Handler:    unaryHandler(ServerAPI_Presence_FullMethodName, ServerAPIServer.Presence),
		},
		{
			MethodName: "PresenceStats",
			Handler:    unaryHandler(ServerAPI_PresenceStats_FullMethodName, ServerAPIServer.PresenceStats),
		},
		{
			MethodName: "History",
			Handler:    unaryHandler(ServerAPI_History_FullMethodName, ServerAPIServer.History),
		},
		{
			MethodName: "HistoryRemove",
			Handler:    unaryHandler(ServerAPI_HistoryRemove_FullMethodName, ServerAPIServer.HistoryRemove),
		},
		{
			MethodName: "Channels",
			Handler:    unaryHandler(ServerAPI_Channels_FullMethodName, ServerAPIServer.Channels),
		},
		{
			MethodName: "Unsubscribe",
			Handler:    unaryHandler(ServerAPI_Unsubscribe_FullMethodName, ServerAPIServer.Unsubscribe),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       _ServerAPI_Subscribe_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "relay/api.proto",
}
