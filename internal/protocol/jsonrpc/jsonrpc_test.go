package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newEchoServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(nil)
	s.Handle("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Text string `json:"text"`
		}
		if err := Params(params, &p); err != nil {
			return nil, err
		}
		return map[string]string{"text": p.Text}, nil
	})
	s.Handle("fail", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errors.New("backend down")
	})
	s.Handle("boom", func(ctx context.Context, params json.RawMessage) (any, error) {
		panic("boom")
	})
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServer_WrapsResponsesInResultKey(t *testing.T) {
	_, ts := newEchoServer(t)
	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":"7","method":"echo","params":{"text":"hi"}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	inner, ok := body[ResultKey]
	if !ok {
		t.Fatalf("missing %s key: %v", ResultKey, body)
	}
	var r Response
	if err := json.Unmarshal(inner, &r); err != nil {
		t.Fatalf("inner: %v", err)
	}
	if r.JSONRPC != "2.0" || string(r.ID) != `"7"` || r.Error != nil {
		t.Fatalf("response: %+v", r)
	}
}

func TestServer_ErrorCodes(t *testing.T) {
	s, _ := newEchoServer(t)
	cases := []struct {
		body string
		code int
	}{
		{`{not json`, CodeParseError},
		{`{"jsonrpc":"1.0","method":"echo"}`, CodeInvalidRequest},
		{`{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
		{`{"jsonrpc":"2.0","id":1,"method":"nope"}`, CodeMethodNotFound},
		{`{"jsonrpc":"2.0","id":1,"method":"echo"}`, CodeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"fail"}`, CodeServer},
		{`{"jsonrpc":"2.0","id":1,"method":"boom"}`, CodeInternal},
	}
	for _, tc := range cases {
		r := s.Dispatch(context.Background(), []byte(tc.body))
		if r.Error == nil || r.Error.Code != tc.code {
			t.Fatalf("%s: got %+v want code %d", tc.body, r.Error, tc.code)
		}
	}
}

func TestClient_CallRoundTrip(t *testing.T) {
	_, ts := newEchoServer(t)
	c := NewClient(ts.URL, nil, nil)
	var out struct {
		Text string `json:"text"`
	}
	if !c.Call(context.Background(), "echo", map[string]string{"text": "hello"}, &out) {
		t.Fatalf("call failed")
	}
	if out.Text != "hello" {
		t.Fatalf("text: %q", out.Text)
	}
	if c.Call(context.Background(), "fail", nil, nil) {
		t.Fatalf("expected failure flag")
	}
	err := c.Do(context.Background(), "nope", nil, nil)
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found, got %v", err)
	}
}

func TestClient_AcceptsUnwrappedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"ok":true}}`))
	}))
	defer ts.Close()
	var out struct {
		OK bool `json:"ok"`
	}
	if err := NewClient(ts.URL, nil, nil).Do(context.Background(), "x", nil, &out); err != nil {
		t.Fatalf("do: %v", err)
	}
	if !out.OK {
		t.Fatalf("result not decoded")
	}
}

func TestClient_UnreachableReturnsFalse(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	if NewClient(url, nil, nil).Call(context.Background(), "echo", nil, nil) {
		t.Fatalf("expected false for unreachable server")
	}
}
