// Package dedupe remembers the outcome of idempotent operations for a bounded
// time window, so a retried request can be answered with the original result
// instead of being applied twice.
package dedupe
