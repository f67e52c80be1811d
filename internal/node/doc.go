// Package node implements the in-memory channel hub behind the server API.
//
// # Channels and Namespaces
//
// A channel name without a colon belongs to the default namespace. A name of
// the form "chat:room-1" belongs to namespace "chat", which must be configured;
// otherwise operations fail with ErrUnknownChannel. Namespaces decide whether a
// channel keeps history and whether presence is tracked.
//
// # Publishing
//
// Publish stores the publication in the history store (when the channel keeps
// history) and then fans it out to subscribers. Each subscriber has a small
// buffer; one that falls behind is disconnected and expected to resubscribe
// with a stream position to recover missed publications.
//
// # Presence
//
// Presence is derived from live subscriptions, so it needs no separate
// bookkeeping and disappears with the subscriber.
package node
