// Package voice implements the voice call session manager for the callme
// node layer.
//
// The package sits between a JSON-RPC dispatch layer and the peer-to-peer
// transport, tracking call identity, peer addressing and lifecycle state
// for concurrently active calls. It consists of three integrated parts:
//
//   - Store: the authoritative in-memory table of call sessions with the
//     lifecycle state machine
//   - Manager: the orchestration component exposed to the RPC layer
//   - Adapter: the transport-backed signaling adapter translating between
//     session events and callme signaling packets
//
// # Call lifecycle
//
// Outgoing sessions start in the dialing state, incoming sessions in the
// ringing state. Either kind reaches connected on answer and terminates in
// ended (graceful) or failed (transport fault). Terminal states reject all
// further events rather than ignoring them, so double-hangup races surface
// as explicit errors.
//
// Sessions are removed from the store as soon as they reach a terminal
// state; querying a finished call reports it as not found.
//
// # Usage
//
// Create a manager with a signaling adapter and node identity, then
// initialize it before any session operation:
//
//	adapter, _ := voice.NewAdapter(transport, resolver, identity)
//	manager, _ := voice.NewManager(adapter, identity)
//	adapter.Bind(manager)
//
//	if err := manager.Initialize(); err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := manager.StartCall("peer-node-id")
//
// Unanswered calls auto-end after the configured ring timeout. Lifecycle
// notifications (incoming call, connected, ended, failed) are published
// through the manager's event callback.
package voice
