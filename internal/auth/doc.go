// Package auth authorizes server API calls with a shared API key.
//
// # Credential Format
//
// Callers send the key in the "authorization" metadata entry (gRPC) or the
// Authorization header (HTTP):
//
//	authorization: apikey <secret>
//
// The keyword is lowercase and followed by exactly one space. The secret is
// compared in constant time against the key given to NewAPIKeyAuthorizer.
//
// # Disabled Mode
//
// An empty configured key disables authorization. Every call passes, with or
// without metadata.
//
// # Error Channels
//
// A denied call is a transport-level failure: codes.PermissionDenied on gRPC
// and 403 on HTTP. The handler never runs, so no reply payload is produced.
// Business failures travel inside successful replies and are not this
// package's concern.
//
// # gRPC Interceptors
//
//	authz := auth.NewAPIKeyAuthorizer(cfg.APIKey())
//	grpc.NewServer(
//	    grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(authz, logger)),
//	    grpc.ChainStreamInterceptor(auth.StreamInterceptor(authz, logger)),
//	)
//
// The grpc.health.v1 service is exempt so health probes do not need the key.
//
// # Clients
//
//	grpc.NewClient(addr,
//	    grpc.WithTransportCredentials(insecure.NewCredentials()),
//	    grpc.WithPerRPCCredentials(auth.NewAPIKeyCredentials(key, false)),
//	)
package auth
