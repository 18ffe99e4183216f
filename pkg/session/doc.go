// Package session holds the chat session domain model and the in-memory
// session store.
//
// Invariants:
// - Exactly one Session exists per id.
// - Message history, artifacts, and state are mutated only by the runner
//   bound to the session, or by the transport handling a control message.
// - Sessions live for the process lifetime; nothing is persisted.
package session
