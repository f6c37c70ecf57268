// Package notifier delivers user notifications and keeps their audit trail.
//
// # Gateway
//
// Gateway is the single entry point for alerts. It resolves the recipient
// through a user lookup, consults per-user Preferences, delivers through the
// configured Sink, and records every delivered message in History. A message
// whose level the user has disabled is dropped silently: nothing is
// delivered and nothing is recorded.
//
// # Sinks
//
// Sinks are the transports: console, simulated email and SMS, structured
// log, and Telegram. Exactly one sink is active per gateway and it can be
// swapped at runtime on config reload.
//
// # History
//
// History is an append-only, owned (not global) log of delivered
// notifications. It can optionally mirror entries to a storage.Store in the
// background; the mirror is an export and is never read back.
package notifier
