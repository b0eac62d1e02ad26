// Package jsonrpc carries service calls between regions and grid services.
//
// Requests are plain JSON-RPC 2.0 objects. Responses are wrapped in a
// top-level "_Result" key on the wire; clients accept both forms.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// ResultKey wraps every response body written by Server.
const ResultKey = "_Result"

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeServer         = -32000
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Errorf builds an *Error a handler can return to pick its own code.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

type wrapped struct {
	Result *Response `json:"_Result"`
}

func parseRequest(body []byte) (Request, *Error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, &Error{Code: CodeParseError, Message: "parse error"}
	}
	if req.JSONRPC != "" && req.JSONRPC != Version {
		return req, &Error{Code: CodeInvalidRequest, Message: "unsupported jsonrpc version"}
	}
	if req.Method == "" {
		return req, &Error{Code: CodeInvalidRequest, Message: "missing method"}
	}
	return req, nil
}

// decodeResponse unwraps a "_Result" envelope when present.
func decodeResponse(body []byte) (Response, error) {
	var w wrapped
	if err := json.Unmarshal(body, &w); err == nil && w.Result != nil {
		return *w.Result, nil
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Response{}, err
	}
	if resp.JSONRPC == "" && resp.Result == nil && resp.Error == nil {
		return Response{}, fmt.Errorf("not a jsonrpc response")
	}
	return resp, nil
}
