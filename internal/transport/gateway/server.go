package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lyca499/cactus-app-1/internal/logger"
	"github.com/lyca499/cactus-app-1/internal/metrics"
)

// ServerConfig bounds per-connection resource usage.
type ServerConfig struct {
	// ReadTimeout is the per-read deadline while accumulating a request frame.
	ReadTimeout time.Duration
	// HandlerTimeout bounds a single dispatched request, including model calls.
	HandlerTimeout time.Duration
	// MaxRequestBytes drops connections whose frame exceeds this size.
	MaxRequestBytes int
}

// Server is a minimal HTTP/1.1 server over raw TCP. Each connection carries
// exactly one request: bytes are accumulated until a complete frame parses,
// the buffer is reset, the request is dispatched, one response is written,
// and the connection is closed. There is no keep-alive and no pipelining.
type Server struct {
	router *Router
	log    *zap.Logger
	cfg    ServerConfig

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a gateway server around a router.
func NewServer(router *Router, log *zap.Logger, cfg ServerConfig) *Server {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 10 << 20
	}
	return &Server{router: router, log: log, cfg: cfg}
}

// ListenAndServe binds addr and serves until Close.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the listener is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting and waits for in-flight connections to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

// Addr reports the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) > s.cfg.MaxRequestBytes {
				s.writeResponse(conn, Request{}, Response{
					StatusCode: 400,
					Body: map[string]string{
						"error":   "Invalid Request",
						"message": "request exceeds maximum size",
					},
				}, time.Now())
				return
			}
			if req, ok := Parse(buf); ok {
				// Reset before dispatch; bytes of a dispatched request are
				// never retained.
				buf = buf[:0]
				s.dispatch(conn, req)
				return
			}
			// A frame that contains the terminator but fails request-line
			// parsing is dropped silently pending more bytes, matching the
			// reference behavior.
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatch(conn net.Conn, req Request) {
	start := time.Now()

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if s.cfg.HandlerTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandlerTimeout)
	}
	defer cancel()
	ctx = logger.ContextWithLogger(ctx, s.log)

	resp := s.safeDispatch(ctx, req)
	s.writeResponse(conn, req, resp, start)
}

// safeDispatch converts handler errors and panics into 500 responses so a
// connection always receives exactly one response.
func (s *Server) safeDispatch(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Any("panic", r),
				zap.Stack("stacktrace"),
			)
			resp = Response{
				StatusCode: 500,
				Body: map[string]string{
					"error":   "Internal Server Error",
					"message": fmt.Sprint(r),
				},
			}
		}
	}()

	resp, err := s.router.Dispatch(ctx, req)
	if err != nil {
		return Response{
			StatusCode: 500,
			Body: map[string]string{
				"error":   "Internal Server Error",
				"message": err.Error(),
			},
		}
	}
	return resp
}

func (s *Server) writeResponse(conn net.Conn, req Request, resp Response, start time.Time) {
	wire := WriteResponse(resp.StatusCode, resp.Body, resp.ContentType)

	_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if _, err := conn.Write(wire); err != nil {
		s.log.Warn("write response failed", zap.Error(err))
	}
	// Half-close signals end-of-response to clients that read until EOF.
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	status := strconv.Itoa(resp.StatusCode)
	path := req.Path
	if path == "" {
		path = "unknown"
	}
	method := req.Method
	if method == "" {
		method = "unknown"
	}
	metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())

	// Canonical log line, one per request.
	s.log.Info("http_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.String("ip", conn.RemoteAddr().String()),
		zap.Int("response_bytes", len(wire)),
	)
}
