// Package gateway orchestrates the relay-gateway server components.
//
// # Overview
//
// The gateway owns the history store, the channel node, and the two servers
// that expose it: a gRPC server carrying the relay.api.ServerAPI service and
// the standard grpc.health.v1 service, and an HTTP server for health checks
// and the HTTP flavour of the server API.
//
// # Authorization
//
// Both transports share one auth.APIKeyAuthorizer built from grpc_api.key.
// gRPC callers send "authorization: apikey <key>" metadata and are rejected
// with codes.PermissionDenied otherwise; HTTP callers send the same value in
// the Authorization header and are rejected with 403. The gRPC health service
// and the /health endpoints never require a key.
//
// # HTTP API
//
//   - POST /api/{method} - run a server API method (info, publish, broadcast,
//     presence, presence_stats, history, history_remove, channels, unsubscribe)
//   - GET /api/subscribe - stream a channel as server-sent events
//   - GET /health - liveness check
//   - GET /health/ready - readiness check (history store reachable)
//
// # Listeners
//
// Listeners are plain TCP on server.grpc_addr and server.http_addr, or tsnet
// listeners on the tailnet when tailscale.enabled is set (gRPC on :10000,
// HTTP on :80, or :443 with HTTPS or Funnel).
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled, then shuts down
package gateway
