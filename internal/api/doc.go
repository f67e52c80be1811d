// Package api implements the relay server API: the request and reply
// messages, the Executor that runs them against a node.Node, and the
// relay.api.ServerAPI gRPC service with its client stub.
//
// Replies follow a two-tier error model. Transport failures, including a
// rejected API key, surface as gRPC status errors. Everything that happens
// after a call is accepted is reported inside the reply:
//
//	reply, err := client.Publish(ctx, &api.PublishRequest{Channel: "chat:room", Data: data})
//	if err != nil {
//		// transport error, e.g. codes.PermissionDenied
//	}
//	if reply.Error != nil {
//		// application error, e.g. api.CodeUnknownChannel
//	}
//
// Messages are encoded as JSON using the "json" gRPC content-subtype, which
// Client selects on every call.
package api
