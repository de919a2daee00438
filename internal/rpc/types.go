package rpc

import "encoding/json"

// Version is the only protocol revision this dispatcher speaks.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes, plus the implementation-defined code
// carrying domain error names.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeDomainError wraps the enumerated domain outcomes (InvalidLinkingCode,
	// AccessDenied, ...) whose name travels in the error message.
	CodeDomainError = -32000
)

// Request is an inbound JSON-RPC 2.0 envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is an outbound JSON-RPC 2.0 envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error member.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Null is the explicit null result for methods that succeed with no value.
// A typed non-nil value survives the Response's omitempty.
var Null = json.RawMessage("null")

func errorResponse(id json.RawMessage, code int, message string) Response {
	// When the request id could not be determined the response must still
	// carry one, as an explicit null.
	if len(id) == 0 {
		id = Null
	}
	return Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	}
}

func resultResponse(id json.RawMessage, result any) Response {
	return Response{
		JSONRPC: Version,
		ID:      id,
		Result:  result,
	}
}
