// ABOUTME: Client-side per-RPC credentials that attach the API key to every call
// ABOUTME: Used by relay-api and tests to talk to the gRPC server API

package auth

import (
	"context"

	"google.golang.org/grpc/credentials"
)

// APIKeyCredentials implements credentials.PerRPCCredentials.
type APIKeyCredentials struct {
	key        string
	requireTLS bool
}

var _ credentials.PerRPCCredentials = (*APIKeyCredentials)(nil)

// NewAPIKeyCredentials creates per-RPC credentials sending "apikey <key>".
// Set requireTLS when the connection uses transport security; gRPC refuses to
// send credentials that require it over an insecure channel.
func NewAPIKeyCredentials(key string, requireTLS bool) *APIKeyCredentials {
	return &APIKeyCredentials{key: key, requireTLS: requireTLS}
}

// GetRequestMetadata returns the authorization metadata for a call.
func (c *APIKeyCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{MetadataKey: FormatAPIKey(c.key)}, nil
}

// RequireTransportSecurity reports whether the credentials need TLS.
func (c *APIKeyCredentials) RequireTransportSecurity() bool {
	return c.requireTLS
}
