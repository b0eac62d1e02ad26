package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
)

// HandlerFunc receives raw params and returns a JSON-encodable result.
// Returning an *Error selects the response code; any other error maps to CodeServer.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

type Server struct {
	log *log.Logger

	mu      sync.RWMutex
	methods map[string]HandlerFunc
}

func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{log: logger, methods: map[string]HandlerFunc{}}
}

func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = fn
}

func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.methods))
	for m := range s.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	_ = r.Body.Close()
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	resp := s.Dispatch(r.Context(), body)
	rw.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(rw).Encode(wrapped{Result: &resp})
}

// Dispatch decodes one request body and runs the matching handler.
func (s *Server) Dispatch(ctx context.Context, body []byte) Response {
	req, perr := parseRequest(body)
	if perr != nil {
		return Response{JSONRPC: Version, ID: req.ID, Error: perr}
	}
	s.mu.RLock()
	fn := s.methods[req.Method]
	s.mu.RUnlock()
	if fn == nil {
		return Response{JSONRPC: Version, ID: req.ID, Error: &Error{Code: CodeMethodNotFound, Message: "method not found"}}
	}

	out, err := s.call(ctx, fn, req.Params)
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			return Response{JSONRPC: Version, ID: req.ID, Error: rerr}
		}
		s.log.Printf("%s: %v", req.Method, err)
		return Response{JSONRPC: Version, ID: req.ID, Error: &Error{Code: CodeServer, Message: err.Error()}}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return Response{JSONRPC: Version, ID: req.ID, Error: &Error{Code: CodeInternal, Message: "encode result"}}
	}
	return Response{JSONRPC: Version, ID: req.ID, Result: b}
}

func (s *Server) call(ctx context.Context, fn HandlerFunc, params json.RawMessage) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Printf("handler panic: %v", p)
			err = &Error{Code: CodeInternal, Message: "internal error"}
		}
	}()
	return fn(ctx, params)
}

// Params decodes raw params into v, mapping failures to CodeInvalidParams.
func Params(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &Error{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "bad params", Data: err.Error()}
	}
	return nil
}
