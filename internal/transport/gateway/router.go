package gateway

import (
	"context"
	"fmt"
)

// HandlerFunc serves one parsed request. A returned error becomes a 500
// response at the server boundary.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

type routeKey struct {
	method string
	path   string
}

// Router maps (method, path) pairs to handlers. OPTIONS requests are answered
// with an empty 200 preflight response for any path; unmatched routes get a
// JSON 404.
type Router struct {
	routes map[routeKey]HandlerFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[routeKey]HandlerFunc)}
}

// Handle registers a handler for the given method and path.
func (r *Router) Handle(method, path string, h HandlerFunc) {
	r.routes[routeKey{method: method, path: path}] = h
}

// Dispatch routes a request to its handler.
func (r *Router) Dispatch(ctx context.Context, req Request) (Response, error) {
	if req.Method == "OPTIONS" {
		return Response{StatusCode: 200, Body: ""}, nil
	}

	if h, ok := r.routes[routeKey{method: req.Method, path: req.Path}]; ok {
		return h(ctx, req)
	}

	return Response{
		StatusCode: 404,
		Body: map[string]string{
			"error":   "Not Found",
			"message": fmt.Sprintf("Route %s %s not found", req.Method, req.Path),
		},
	}, nil
}
