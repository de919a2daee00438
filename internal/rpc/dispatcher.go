package rpc

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// Handler executes one method. It returns either a result value or an
// *ErrorObject; domain failures are values here, never panics.
type Handler func(ctx context.Context, params json.RawMessage) (any, *ErrorObject)

// Dispatcher routes request envelopes to handlers. The routing table is
// copied at construction and never mutated afterwards, so concurrent
// dispatches share it without locks.
type Dispatcher struct {
	methods map[string]Handler
	log     *logrus.Entry
}

// NewDispatcher builds a dispatcher over an explicit method table.
func NewDispatcher(methods map[string]Handler, log *logrus.Entry) *Dispatcher {
	table := make(map[string]Handler, len(methods))
	for name, handler := range methods {
		table[name] = handler
	}
	return &Dispatcher{
		methods: table,
		log:     log.WithField("component", "rpc"),
	}
}

// Dispatch parses one request envelope, invokes its handler, and returns
// the response envelope. It never lets a handler fault escape: panics are
// logged with their cause and surface as a bare internal error.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return errorResponse(nil, CodeParseError, "Parse error")
	}

	if req.JSONRPC != Version || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid Request")
	}

	handler, ok := d.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, "Method not found")
	}

	result, errObj := d.invoke(ctx, req, handler)
	if errObj != nil {
		return errorResponse(req.ID, errObj.Code, errObj.Message)
	}
	return resultResponse(req.ID, result)
}

func (d *Dispatcher) invoke(ctx context.Context, req Request, handler Handler) (result any, errObj *ErrorObject) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"method": req.Method,
				"panic":  r,
			}).Error("handler panicked")
			result = nil
			errObj = &ErrorObject{Code: CodeInternalError, Message: "Internal error"}
		}
	}()

	return handler(ctx, req.Params)
}

// unmarshalParams decodes params into a typed struct, rejecting unknown
// fields; handlers validate required fields afterwards.
func unmarshalParams(params json.RawMessage, dst any) *ErrorObject {
	if len(params) == 0 {
		return &ErrorObject{Code: CodeInvalidParams, Message: "Invalid params"}
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ErrorObject{Code: CodeInvalidParams, Message: "Invalid params"}
	}
	return nil
}
