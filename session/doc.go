// Package session houses chat conversation storage keyed by chat id. Agents
// persisting message state (the context_visible / context_hidden input
// states) load prior turns from a Store and append new ones after each
// completed exchange.
//
// Add additional backends (Redis, Postgres, Firestore, etc.) in sub‑packages
// without changing any calling code – only the wiring layer needs to decide
// which implementation to instantiate.
package session
