package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callme/voice"
)

// Dispatcher routes JSON-RPC requests to voice call manager operations.
type Dispatcher struct {
	manager *voice.Manager
}

// NewDispatcher creates a dispatcher backed by the given manager.
func NewDispatcher(manager *voice.Manager) (*Dispatcher, error) {
	if manager == nil {
		return nil, errors.New("manager cannot be nil")
	}
	return &Dispatcher{manager: manager}, nil
}

type peerParams struct {
	Peer string `json:"peer"`
}

type callIDParams struct {
	CallID string `json:"call_id"`
}

type nodeIDResult struct {
	NodeID string `json:"node_id"`
}

type callResult struct {
	CallID string `json:"call_id"`
	State  string `json:"state"`
}

type ackResult struct {
	OK bool `json:"ok"`
}

type activeCallsResult struct {
	Calls []string `json:"calls"`
}

// DispatchRaw parses a raw request line and dispatches it, returning the
// serialized response. It never returns an empty payload: malformed input
// yields a JSON-RPC error response.
func (d *Dispatcher) DispatchRaw(data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return mustMarshal(NewError(nil, CodeParseError, "parse error"))
	}
	return mustMarshal(d.Dispatch(&req))
}

// Dispatch executes a single parsed request.
func (d *Dispatcher) Dispatch(req *Request) *Response {
	if req.JSONRPC != Version || req.Method == "" {
		return NewError(req.ID, CodeInvalidRequest, "invalid request")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dispatch",
		"method":   req.Method,
	}).Debug("Dispatching RPC request")

	switch req.Method {
	case "init_voice_calls":
		return d.initVoiceCalls(req)
	case "get_voice_node_id":
		return d.getVoiceNodeID(req)
	case "start_voice_call":
		return d.startVoiceCall(req)
	case "accept_voice_call":
		return d.acceptVoiceCall(req)
	case "end_voice_call":
		return d.endVoiceCall(req)
	case "get_voice_call_status":
		return d.getVoiceCallStatus(req)
	case "get_active_voice_calls":
		return d.getActiveVoiceCalls(req)
	case "simulate_incoming_voice_call":
		return d.simulateIncomingVoiceCall(req)
	default:
		return NewError(req.ID, CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (d *Dispatcher) initVoiceCalls(req *Request) *Response {
	if err := d.manager.Initialize(); err != nil {
		return errorResponse(req.ID, err)
	}
	nodeID, err := d.manager.NodeID()
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, nodeIDResult{NodeID: string(nodeID)})
}

func (d *Dispatcher) getVoiceNodeID(req *Request) *Response {
	nodeID, err := d.manager.NodeID()
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, nodeIDResult{NodeID: string(nodeID)})
}

func (d *Dispatcher) startVoiceCall(req *Request) *Response {
	var params peerParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, CodeInvalidParams, "invalid params")
	}
	id, err := d.manager.StartCall(voice.PeerAddress(params.Peer))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	state, err := d.manager.CallStatus(id)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, callResult{CallID: string(id), State: state.String()})
}

func (d *Dispatcher) acceptVoiceCall(req *Request) *Response {
	var params callIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, CodeInvalidParams, "invalid params")
	}
	if err := d.manager.AcceptCall(voice.CallID(params.CallID)); err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, ackResult{OK: true})
}

func (d *Dispatcher) endVoiceCall(req *Request) *Response {
	var params callIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, CodeInvalidParams, "invalid params")
	}
	if err := d.manager.EndCall(voice.CallID(params.CallID)); err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, ackResult{OK: true})
}

func (d *Dispatcher) getVoiceCallStatus(req *Request) *Response {
	var params callIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, CodeInvalidParams, "invalid params")
	}
	state, err := d.manager.CallStatus(voice.CallID(params.CallID))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, callResult{CallID: params.CallID, State: state.String()})
}

func (d *Dispatcher) getActiveVoiceCalls(req *Request) *Response {
	ids, err := d.manager.ActiveCalls()
	if err != nil {
		return errorResponse(req.ID, err)
	}
	calls := make([]string, 0, len(ids))
	for _, id := range ids {
		calls = append(calls, string(id))
	}
	return NewResult(req.ID, activeCallsResult{Calls: calls})
}

func (d *Dispatcher) simulateIncomingVoiceCall(req *Request) *Response {
	var params peerParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, CodeInvalidParams, "invalid params")
	}
	id, err := d.manager.HandleIncomingCall(voice.PeerAddress(params.Peer))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	state, err := d.manager.CallStatus(id)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return NewResult(req.ID, callResult{CallID: string(id), State: state.String()})
}

// errorResponse maps a manager error to its JSON-RPC application code.
func errorResponse(id json.RawMessage, err error) *Response {
	code := CodeInternalFault
	switch {
	case errors.Is(err, voice.ErrNotInitialized):
		code = CodeNotInitialized
	case errors.Is(err, voice.ErrInvalidPeer):
		code = CodeInvalidPeer
	case errors.Is(err, voice.ErrCallNotFound):
		code = CodeCallNotFound
	case errors.Is(err, voice.ErrInvalidState), errors.Is(err, voice.ErrInvalidTransition):
		code = CodeInvalidState
	case errors.Is(err, voice.ErrTransportUnavailable):
		code = CodeTransportUnavailable
	}
	return NewError(id, code, err.Error())
}

func mustMarshal(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// A response built from our own types always marshals; fall back to
		// a static internal error rather than dropping the reply.
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error"},"id":null}`)
	}
	return data
}
