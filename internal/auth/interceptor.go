// ABOUTME: gRPC interceptors enforcing API key authorization on the server API
// ABOUTME: Rejects unauthorized calls with PermissionDenied before any handler runs

package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// healthServicePrefix covers the standard gRPC health service, which stays open
// so load balancers can probe without a key.
const healthServicePrefix = "/grpc.health.v1.Health/"

// logAuthFailure logs an authorization failure with structured context.
// The presented credential is never logged.
func logAuthFailure(logger *slog.Logger, ctx context.Context, method string, err error) {
	if logger == nil {
		return
	}
	attrs := []any{"reason", err.Error(), "method", method}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("auth failure", attrs...)
}

// authorizeCall runs the authorizer against the call metadata and converts a
// denial into a transport-level status.
func authorizeCall(ctx context.Context, authz *APIKeyAuthorizer, method string, logger *slog.Logger) error {
	if !authz.Enabled() || strings.HasPrefix(method, healthServicePrefix) {
		return nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	if err := authz.Authorize(md); err != nil {
		logAuthFailure(logger, ctx, method, err)
		return status.Error(codes.PermissionDenied, err.Error())
	}
	return nil
}

// UnaryInterceptor returns a gRPC unary interceptor that authorizes requests.
// The optional logger enables auth failure logging for security monitoring.
func UnaryInterceptor(authz *APIKeyAuthorizer, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if err := authorizeCall(ctx, authz, info.FullMethod, logger); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authorizes requests.
func StreamInterceptor(authz *APIKeyAuthorizer, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := authorizeCall(ss.Context(), authz, info.FullMethod, logger); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
