// Package handler implements the accept loop's Classifying step: it
// decodes the first request line on a freshly accepted connection
// and dispatches to Tunneling (CONNECT) or HttpExchange. This
// replaces a net/http+Hijacker CONNECT-only handler, which cannot see
// or reshape non-CONNECT traffic, with a raw net.Listener loop driven
// directly by internal/codec.
package handler

import (
	"context"
	"net"

	"github.com/relaywire/proxy/internal/domain"
	"github.com/relaywire/proxy/internal/hostport"
	"github.com/relaywire/proxy/internal/usecase"
)

// ProxyHandler owns the listener accept loop.
type ProxyHandler struct {
	proxyUseCase *usecase.ProxyUseCase
	logger       domain.Logger
	metrics      domain.MetricsCollector
}

// NewProxyHandler wires the use case the handler delegates to.
func NewProxyHandler(proxyUseCase *usecase.ProxyUseCase, logger domain.Logger, metrics domain.MetricsCollector) *ProxyHandler {
	return &ProxyHandler{proxyUseCase: proxyUseCase, logger: logger, metrics: metrics}
}

// Serve accepts connections from ln until it returns an error (e.g.
// the listener was closed for a restart), spawning one goroutine per
// connection, one goroutine per connection.
func (h *ProxyHandler) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		h.metrics.IncrementConnections()
		go h.handleConnection(ctx, conn)
	}
}

func (h *ProxyHandler) handleConnection(ctx context.Context, conn net.Conn) {
	defer h.metrics.DecrementConnections()
	defer conn.Close()

	clientIP := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(clientIP); err == nil {
		clientIP = host
	}

	reqCodec := h.proxyUseCase.NewClientCodec()
	req, err := h.proxyUseCase.DecodeNextRequest(conn, reqCodec)
	if err != nil {
		h.proxyUseCase.HandleDecodeError(conn, clientIP, err)
		return
	}

	if req.Method == domain.MethodConnect {
		h.handleConnect(ctx, conn, req, clientIP)
		return
	}

	h.proxyUseCase.RunHTTPExchange(ctx, conn, clientIP, req, reqCodec)
}

func (h *ProxyHandler) handleConnect(ctx context.Context, conn net.Conn, req *domain.Request, clientIP string) {
	target, err := hostport.ParseConnectTarget(req.Target)
	if err != nil {
		h.logger.Error("invalid CONNECT target", err, map[string]interface{}{"target": req.Target})
		return
	}

	allowed, err := h.proxyUseCase.CheckAccess(ctx, clientIP, target.Host)
	if err != nil {
		h.logger.Error("access control check failed", err, map[string]interface{}{"client_ip": clientIP, "host": target.Host})
		return
	}
	if !allowed {
		h.logger.Info("access blocked", map[string]interface{}{"client_ip": clientIP, "host": target.Host})
		conn.Write([]byte("HTTP/1.1 403 Forbidden\r\nConnection: close\r\n\r\n"))
		return
	}

	if err := h.proxyUseCase.HandleTunnel(ctx, conn, target, clientIP); err != nil {
		h.logger.Error("tunnel handling failed", err, map[string]interface{}{"host": target.Host})
	}
}
