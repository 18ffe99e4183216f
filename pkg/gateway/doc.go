// Package gateway is the websocket transport. It owns the connection table,
// per-connection heartbeat loops, and the per-chat event sink that writes
// server events back onto the socket.
//
// A connection survives malformed and unknown frames. Disconnecting unbinds
// the chat's sink but leaves the session in the store, so the REST surface
// can still read it afterward.
package gateway
