// Package rpc exposes the voice call manager over JSON-RPC 2.0.
//
// Two transports are provided: a newline-delimited stdio server for
// embedding the node as a child process, and a WebSocket server for
// network clients. Both route requests through the same Dispatcher.
//
// # Methods
//
// The dispatcher serves eight methods:
//
//	init_voice_calls             initialize the manager, returns the node ID
//	get_voice_node_id            return the local node identity
//	start_voice_call             dial a peer, returns the new call ID
//	accept_voice_call            accept a ringing incoming call
//	end_voice_call               end, cancel, or reject a call
//	get_voice_call_status        return the state of one call
//	get_active_voice_calls       list calls that have not terminated
//	simulate_incoming_voice_call inject an incoming call for testing
//
// Manager errors are mapped to application error codes in the -32001 to
// -32006 range so clients can distinguish the failure classes.
package rpc
