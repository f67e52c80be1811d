// Package config loads relay-gateway configuration from YAML.
//
// # Example
//
//	server:
//	  grpc_addr: "0.0.0.0:10000"
//	  http_addr: "0.0.0.0:8000"
//	grpc_api:
//	  enabled: true
//	  key: "${RELAY_GRPC_API_KEY}"
//	http_api:
//	  enabled: true
//	database:
//	  path: "~/.local/share/relay/relay.db"
//	history:
//	  size: 100
//	  ttl: "10m"
//	namespaces:
//	  - name: chat
//	    history_size: 50
//	    history_ttl: "1h"
//	    presence: true
//
// ${VAR} references are expanded from the environment before parsing, and
// RELAY_API_KEY, when set, overrides grpc_api.key. An empty key turns server
// API authorization off.
package config
