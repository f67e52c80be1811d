// ABOUTME: Shared-secret API key authorization for the server API
// ABOUTME: Validates "authorization: apikey <secret>" metadata in constant time

package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"google.golang.org/grpc/metadata"
)

// MetadataKey is the call metadata entry carrying the credential.
// gRPC metadata keys are lowercased, so lookups are case-insensitive.
const MetadataKey = "authorization"

// Scheme is the literal prefix expected before the secret.
const Scheme = "apikey "

// Authorization errors. Callers map all of them to a transport-level rejection.
var (
	ErrMissingAPIKey   = errors.New("missing authorization")
	ErrMalformedAPIKey = errors.New("authorization must use the apikey scheme")
	ErrInvalidAPIKey   = errors.New("invalid api key")
)

// APIKeyAuthorizer gates server API calls on a key fixed at construction.
// It holds no mutable state and is safe for concurrent use.
type APIKeyAuthorizer struct {
	key []byte
}

// NewAPIKeyAuthorizer returns an authorizer for key. An empty key disables
// authorization: every call is allowed.
func NewAPIKeyAuthorizer(key string) *APIKeyAuthorizer {
	return &APIKeyAuthorizer{key: []byte(key)}
}

// Enabled reports whether a key is configured.
func (a *APIKeyAuthorizer) Enabled() bool {
	return a != nil && len(a.key) > 0
}

// Authorize checks incoming gRPC metadata. md may be nil.
func (a *APIKeyAuthorizer) Authorize(md metadata.MD) error {
	if !a.Enabled() {
		return nil
	}
	return a.check(md.Get(MetadataKey))
}

// AuthorizeValues checks raw header values, e.g. from http.Header.Values.
func (a *APIKeyAuthorizer) AuthorizeValues(values []string) error {
	if !a.Enabled() {
		return nil
	}
	return a.check(values)
}

func (a *APIKeyAuthorizer) check(values []string) error {
	if len(values) == 0 || values[0] == "" {
		return ErrMissingAPIKey
	}

	header := values[0]
	if !strings.HasPrefix(header, Scheme) {
		return ErrMalformedAPIKey
	}

	presented := []byte(strings.TrimPrefix(header, Scheme))
	if subtle.ConstantTimeCompare(presented, a.key) != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

// FormatAPIKey builds the authorization value for key.
func FormatAPIKey(key string) string {
	return Scheme + key
}
