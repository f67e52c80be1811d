// ABOUTME: gRPC adapter exposing the Executor as the ServerAPI service
// ABOUTME: Unary calls always succeed at transport level; Subscribe streams publications

package api

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/2389/relay-gateway/internal/node"
)

// Server implements ServerAPIServer on top of an Executor.
type Server struct {
	UnimplementedServerAPIServer

	exec   *Executor
	logger *slog.Logger
}

// NewServer creates a gRPC server API backed by exec.
func NewServer(exec *Executor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{exec: exec, logger: logger}
}

func (s *Server) Info(ctx context.Context, req *InfoRequest) (*InfoReply, error) {
	return s.exec.Info(ctx, req), nil
}

func (s *Server) Publish(ctx context.Context, req *PublishRequest) (*PublishReply, error) {
	return s.exec.Publish(ctx, req), nil
}

func (s *Server) Broadcast(ctx context.Context, req *BroadcastRequest) (*BroadcastReply, error) {
	return s.exec.Broadcast(ctx, req), nil
}

func (s *Server) Presence(ctx context.Context, req *PresenceRequest) (*PresenceReply, error) {
	return s.exec.Presence(ctx, req), nil
}

func (s *Server) PresenceStats(ctx context.Context, req *PresenceStatsRequest) (*PresenceStatsReply, error) {
	return s.exec.PresenceStats(ctx, req), nil
}

func (s *Server) History(ctx context.Context, req *HistoryRequest) (*HistoryReply, error) {
	return s.exec.History(ctx, req), nil
}

func (s *Server) HistoryRemove(ctx context.Context, req *HistoryRemoveRequest) (*HistoryRemoveReply, error) {
	return s.exec.HistoryRemove(ctx, req), nil
}

func (s *Server) Channels(ctx context.Context, req *ChannelsRequest) (*ChannelsReply, error) {
	return s.exec.Channels(ctx, req), nil
}

func (s *Server) Unsubscribe(ctx context.Context, req *UnsubscribeRequest) (*UnsubscribeReply, error) {
	return s.exec.Unsubscribe(ctx, req), nil
}

// Subscribe replays history after req.Since (when given) and then streams
// live publications until the client goes away or the subscription ends.
// An application error is sent as a single reply and the stream then
// completes normally.
func (s *Server) Subscribe(req *SubscribeRequest, stream grpc.ServerStreamingServer[SubscribeReply]) error {
	ctx := stream.Context()

	sub, replay, apiErr := s.exec.Subscribe(ctx, req)
	if apiErr != nil {
		return stream.Send(&SubscribeReply{Error: apiErr})
	}
	defer sub.Close()

	s.logger.Debug("stream subscriber attached", "channel", req.Channel, "user", req.User, "replay", len(replay))

	return ForwardPublications(ctx, sub, replay, func(pub *Publication) error {
		return stream.Send(&SubscribeReply{Publication: pub})
	})
}

// ForwardPublications sends replay and then every live publication of sub to
// send, until ctx is done or the subscription ends. Live publications already
// covered by the replay are skipped. It returns the first send error.
func ForwardPublications(ctx context.Context, sub *node.Subscription, replay []*Publication, send func(*Publication) error) error {
	var lastOffset uint64
	for _, pub := range replay {
		if err := send(pub); err != nil {
			return err
		}
		lastOffset = pub.Offset
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case pub, ok := <-sub.C:
			if !ok {
				return nil
			}
			// Offset 0 means the publication was not stored, so it cannot
			// have been part of the replay.
			if pub.Offset != 0 && pub.Offset <= lastOffset {
				continue
			}
			if err := send(toAPIPublication(pub)); err != nil {
				return err
			}
		}
	}
}
