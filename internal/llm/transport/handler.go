// Package transport defines the request pipeline for LLM provider calls.
// A Handler chain built from composable Middleware wraps a core HTTP handler,
// with provider adapters translating the normalized Request/Response shapes
// to and from each vendor's wire format.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Router selects the appropriate provider adapter for request routing.
// Implemented by the providers package.
type Router interface {
	Pick(provider, model string) (ProviderAdapter, error)
}

// ProviderAdapter abstracts provider-specific HTTP communication patterns.
// Implemented by the providers package.
type ProviderAdapter interface {
	Build(ctx context.Context, req *Request) (*http.Request, error)
	Parse(httpResp *http.Response) (*Response, error)
	Name() string
}

// Validator checks provider responses before they leave the transport.
// Implemented by the business package.
type Validator interface {
	ValidateProviderResponse(resp *Response) error
	ValidateCompletion(content string) error
}

// Handler is the unit every pipeline stage implements, from the outermost
// middleware down to the HTTP core.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware wraps a Handler with one concern: caching, rate limiting,
// retries, breakers, observability.
type Middleware func(Handler) Handler

// Chain wraps h so the first middleware in the list sits outermost and sees
// the request first.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that performs the actual HTTP
// requests. A nil validator skips response validation.
func NewHTTPHandler(client *http.Client, router Router, validator Validator) Handler {
	return &httpHandler{
		client:    client,
		router:    router,
		validator: validator,
	}
}

// httpHandler is the bottom of every chain: route, build, send, parse,
// validate.
type httpHandler struct {
	client    *http.Client
	router    Router
	validator Validator
}

func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	adapter, err := h.router.Pick(req.Provider, req.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to select provider: %w", err)
	}

	// Per-request timeout overrides the client-level timeout when set.
	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	resp, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	resp.Usage.LatencyMs = latency.Milliseconds()

	if h.validator != nil {
		if err := h.validator.ValidateProviderResponse(resp); err != nil {
			return nil, fmt.Errorf("invalid provider response: %w", err)
		}
		if err := h.validator.ValidateCompletion(resp.Content); err != nil {
			return nil, fmt.Errorf("invalid completion: %w", err)
		}
	}

	return resp, nil
}
