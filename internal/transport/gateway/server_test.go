package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func startServer(t *testing.T, r *Router, cfg ServerConfig) net.Addr {
	t.Helper()
	srv := NewServer(r, zap.NewNop(), cfg)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return ln.Addr()
}

// roundTrip writes raw bytes and reads until EOF, relying on the server's
// write-side close to delimit the response.
func roundTrip(t *testing.T, addr net.Addr, raw string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(out)
}

func parseRaw(t *testing.T, resp string) (status string, headers map[string]string, body string) {
	t.Helper()
	head, body, found := strings.Cut(resp, "\r\n\r\n")
	if !found {
		t.Fatalf("no header terminator in response: %q", resp)
	}
	lines := strings.Split(head, "\r\n")
	headers = make(map[string]string)
	for _, line := range lines[1:] {
		k, v, _ := strings.Cut(line, ": ")
		headers[k] = v
	}
	return lines[0], headers, body
}

func TestServer_EndToEnd(t *testing.T) {
	r := NewRouter()
	r.Handle("GET", "/ping", func(_ context.Context, _ Request) (Response, error) {
		return Response{StatusCode: 200, Body: map[string]string{"pong": "true"}}, nil
	})
	r.Handle("POST", "/echo", func(_ context.Context, req Request) (Response, error) {
		return Response{StatusCode: 201, Body: map[string]string{"got": req.Body}}, nil
	})
	addr := startServer(t, r, ServerConfig{ReadTimeout: 2 * time.Second})

	t.Run("simple GET", func(t *testing.T) {
		resp := roundTrip(t, addr, "GET /ping HTTP/1.1\r\nHost: x\r\n\r\n")
		status, headers, body := parseRaw(t, resp)
		if status != "HTTP/1.1 200 OK" {
			t.Errorf("status line = %q", status)
		}
		if headers["Content-Type"] != "application/json" {
			t.Errorf("content type = %q", headers["Content-Type"])
		}
		if headers["Access-Control-Allow-Origin"] != "*" {
			t.Error("missing CORS header")
		}
		var decoded map[string]string
		if err := json.Unmarshal([]byte(body), &decoded); err != nil || decoded["pong"] != "true" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("POST with body", func(t *testing.T) {
		resp := roundTrip(t, addr, "POST /echo HTTP/1.1\r\nHost: x\r\n\r\n{\"k\":1}")
		status, _, body := parseRaw(t, resp)
		if status != "HTTP/1.1 201 Created" {
			t.Errorf("status line = %q", status)
		}
		if !strings.Contains(body, `{\"k\":1}`) {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("unknown route 404 with CORS", func(t *testing.T) {
		resp := roundTrip(t, addr, "GET /nope HTTP/1.1\r\n\r\n")
		status, headers, body := parseRaw(t, resp)
		if status != "HTTP/1.1 404 Not Found" {
			t.Errorf("status line = %q", status)
		}
		if headers["Access-Control-Allow-Origin"] != "*" {
			t.Error("error responses must carry CORS headers")
		}
		if !strings.Contains(body, "Not Found") {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("OPTIONS preflight", func(t *testing.T) {
		resp := roundTrip(t, addr, "OPTIONS /anything HTTP/1.1\r\n\r\n")
		status, headers, body := parseRaw(t, resp)
		if status != "HTTP/1.1 200 OK" {
			t.Errorf("status line = %q", status)
		}
		if headers["Access-Control-Allow-Methods"] == "" {
			t.Error("missing Access-Control-Allow-Methods")
		}
		if body != "" {
			t.Errorf("preflight body = %q, want empty", body)
		}
	})
}

func TestServer_SplitWritesAccumulate(t *testing.T) {
	r := NewRouter()
	r.Handle("GET", "/ping", func(_ context.Context, _ Request) (Response, error) {
		return Response{StatusCode: 200, Body: "ok", ContentType: "text/plain"}, nil
	})
	addr := startServer(t, r, ServerConfig{ReadTimeout: 2 * time.Second})

	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// The frame arrives in three writes; no response until the terminator.
	for _, part := range []string{"GET /pi", "ng HTTP/1.1\r\nHost: x", "\r\n\r\n"} {
		if _, err := conn.Write([]byte(part)); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	out, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(out), "HTTP/1.1 200 OK") {
		t.Errorf("response = %q", out)
	}
}

func TestServer_HandlerErrorBecomes500(t *testing.T) {
	r := NewRouter()
	r.Handle("GET", "/boom", func(_ context.Context, _ Request) (Response, error) {
		return Response{}, errors.New("downstream unavailable")
	})
	addr := startServer(t, r, ServerConfig{ReadTimeout: 2 * time.Second})

	resp := roundTrip(t, addr, "GET /boom HTTP/1.1\r\n\r\n")
	status, headers, body := parseRaw(t, resp)
	if status != "HTTP/1.1 500 Internal Server Error" {
		t.Errorf("status line = %q", status)
	}
	if headers["Access-Control-Allow-Origin"] != "*" {
		t.Error("missing CORS header on 500")
	}
	if !strings.Contains(body, "downstream unavailable") {
		t.Errorf("body = %q", body)
	}
}

func TestServer_HandlerPanicBecomes500(t *testing.T) {
	r := NewRouter()
	r.Handle("GET", "/panic", func(_ context.Context, _ Request) (Response, error) {
		panic("boom")
	})
	addr := startServer(t, r, ServerConfig{ReadTimeout: 2 * time.Second})

	resp := roundTrip(t, addr, "GET /panic HTTP/1.1\r\n\r\n")
	status, _, body := parseRaw(t, resp)
	if status != "HTTP/1.1 500 Internal Server Error" {
		t.Errorf("status line = %q", status)
	}
	if !strings.Contains(body, "boom") {
		t.Errorf("body = %q", body)
	}
}

func TestServer_OneRequestPerConnection(t *testing.T) {
	r := NewRouter()
	r.Handle("GET", "/ping", func(_ context.Context, _ Request) (Response, error) {
		return Response{StatusCode: 200, Body: "ok", ContentType: "text/plain"}, nil
	})
	addr := startServer(t, r, ServerConfig{ReadTimeout: 2 * time.Second})

	// Two framed requests in one write still yield a single response.
	resp := roundTrip(t, addr, "GET /ping HTTP/1.1\r\n\r\nGET /ping HTTP/1.1\r\n\r\n")
	if strings.Count(resp, "HTTP/1.1 200 OK") != 1 {
		t.Errorf("want exactly one response, got %q", resp)
	}
}

func TestServer_OversizedRequestRejected(t *testing.T) {
	r := NewRouter()
	addr := startServer(t, r, ServerConfig{ReadTimeout: 2 * time.Second, MaxRequestBytes: 64})

	resp := roundTrip(t, addr, "GET /x HTTP/1.1\r\nPadding: "+strings.Repeat("a", 200))
	status, _, body := parseRaw(t, resp)
	if status != "HTTP/1.1 400 Bad Request" {
		t.Errorf("status line = %q", status)
	}
	if !strings.Contains(body, "maximum size") {
		t.Errorf("body = %q", body)
	}
}
