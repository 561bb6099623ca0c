package rpc

import "encoding/json"

// JSON-RPC 2.0 protocol version string.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes mapping the call manager's error taxonomy into
// the JSON-RPC error space.
const (
	CodeNotInitialized       = -32001
	CodeInvalidPeer          = -32002
	CodeCallNotFound         = -32003
	CodeInvalidState         = -32004
	CodeTransportUnavailable = -32005
	CodeInternalFault        = -32006
)

// Request is a JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// ErrorObject is a JSON-RPC 2.0 error member.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewResult builds a success response for the given request ID.
func NewResult(id json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: id}
}

// NewError builds an error response for the given request ID.
func NewError(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   &ErrorObject{Code: code, Message: message},
		ID:      id,
	}
}
