// Package usecase implements the proxy engine's per-connection state
// machine: Accepting -> Classifying -> (Tunneling | HttpExchange) ->
// Closed. It generalizes a CONNECT-only relay into the full HTTP/1.x
// intercepting loop: host filtering, upstream resolution (direct or
// external-proxy), request/response rewriting, keep-alive, and event
// publication.
package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/relaywire/proxy/internal/codec"
	"github.com/relaywire/proxy/internal/config"
	"github.com/relaywire/proxy/internal/domain"
	"github.com/relaywire/proxy/internal/hostport"
	"github.com/relaywire/proxy/internal/rewrite"
)

// ProxyUseCase drives one accepted connection through the
// Accepting -> Classifying -> (Tunneling | HttpExchange) -> Closed
// state machine.
type ProxyUseCase struct {
	accessControl domain.AccessController
	connManager   domain.ConnectionManager
	metrics       domain.MetricsCollector
	logger        domain.Logger
	exchangeStore domain.ExchangeStore
	publisher     domain.Publisher
	configStore   *config.Store
}

// NewProxyUseCase wires the collaborators the state machine needs.
func NewProxyUseCase(
	accessControl domain.AccessController,
	connManager domain.ConnectionManager,
	metrics domain.MetricsCollector,
	logger domain.Logger,
	exchangeStore domain.ExchangeStore,
	publisher domain.Publisher,
	configStore *config.Store,
) *ProxyUseCase {
	return &ProxyUseCase{
		accessControl: accessControl,
		connManager:   connManager,
		metrics:       metrics,
		logger:        logger,
		exchangeStore: exchangeStore,
		publisher:     publisher,
		configStore:   configStore,
	}
}

// CheckAccess consults the host filter, recording a blocked-request
// metric on denial.
func (uc *ProxyUseCase) CheckAccess(ctx context.Context, clientIP, host string) (bool, error) {
	allowed, err := uc.accessControl.IsAllowed(clientIP, host)
	if err != nil {
		return false, fmt.Errorf("access control check failed: %v", err)
	}
	if !allowed {
		uc.metrics.RecordBlockedRequest()
	}
	return allowed, nil
}

// NewClientCodec returns a request codec sized per the current
// configuration snapshot, for the handler's Classifying step to
// decode the connection's first request line with.
func (uc *ProxyUseCase) NewClientCodec() *codec.Codec {
	cfg := uc.configStore.Snapshot()
	return codec.NewRequestCodec(cfg.DefaultMaxLineLen, cfg.MaxBodyLength)
}

// DecodeNextRequest reads from clientConn until reqCodec has decoded
// one full request, honoring the configured client-idle deadline.
func (uc *ProxyUseCase) DecodeNextRequest(clientConn net.Conn, reqCodec *codec.Codec) (*domain.Request, error) {
	cfg := uc.configStore.Snapshot()
	clientConn.SetReadDeadline(time.Now().Add(cfg.Timeouts.ClientIdle))
	return readRequest(clientConn, reqCodec)
}

// HandleDecodeError reports the outcome of a failed DecodeNextRequest
// call. A malformed request line/headers (*domain.ParseError) gets a
// synthesized 400 and a KindParseError exchange event, mirroring
// finishWithError's handling of a mid-exchange failure. Anything else
// (idle timeout, client closed the connection) is a benign end of the
// connection with nothing to synthesize a response for or report.
func (uc *ProxyUseCase) HandleDecodeError(clientConn net.Conn, clientIP string, err error) {
	var perr *domain.ParseError
	if !errors.As(err, &perr) {
		return
	}
	uc.writeSynthesized(clientConn, domain.KindParseError.StatusCode(), statusReason(domain.KindParseError.StatusCode()))
	exch := &domain.Exchange{ID: domain.NewExchangeID(), RemoteAddress: clientIP, Kind: domain.KindParseError}
	uc.finish(exch, time.Now(), false)
}

// RunHTTPExchange drives the HttpExchange loop (steps
// 1-9) starting from a first request the handler already decoded
// during Classifying, repeating on the same reqCodec/connection while
// both sides indicate persistence.
func (uc *ProxyUseCase) RunHTTPExchange(ctx context.Context, clientConn net.Conn, clientIP string, first *domain.Request, reqCodec *codec.Codec) {
	req := first
	for {
		cfg := uc.configStore.Snapshot()

		uc.metrics.RecordRequest()
		keepAlive := uc.handleOneExchange(ctx, clientConn, req, clientIP, cfg)
		if !keepAlive {
			return
		}

		var err error
		req, err = uc.DecodeNextRequest(clientConn, reqCodec)
		if err != nil {
			uc.HandleDecodeError(clientConn, clientIP, err)
			return
		}
	}
}

// handleOneExchange runs steps 1-9 for a single decoded request and
// reports whether the connection should be kept alive for another
// exchange.
func (uc *ProxyUseCase) handleOneExchange(
	ctx context.Context, clientConn net.Conn, req *domain.Request, clientIP string, cfg domain.Configuration,
) bool {
	started := time.Now()
	exch := &domain.Exchange{ID: req.ExchangeID, Request: req, RemoteAddress: clientIP}

	target, err := resolveTarget(req)
	if err != nil {
		uc.finishWithError(clientConn, exch, domain.KindParseError, started)
		return false
	}
	req.Host = target

	allowed, err := uc.CheckAccess(ctx, clientIP, target.Host)
	if err != nil || !allowed {
		uc.writeSynthesized(clientConn, 403, "Forbidden")
		exch.Kind = domain.KindConfigError
		uc.finish(exch, started, false)
		return false
	}

	matcher := rewrite.Compile(cfg.Rewrites)
	if applyRequestRewrite(req, matcher) {
		uc.metrics.RecordRewriteApplied()
	}

	dialHostPort, useAbsoluteForm := resolveDialAddress(cfg, target)

	upstreamConn, err := uc.connManager.GetConnection(dialHostPort)
	if err != nil {
		uc.finishWithError(clientConn, exch, domain.KindUpstreamConnectError, started)
		return false
	}

	if useAbsoluteForm {
		req.Target = absoluteFormTarget(target, req.Target)
		addProxyAuth(req, cfg.ExternalProxy)
	}

	upstreamConn.SetWriteDeadline(time.Now().Add(cfg.Timeouts.UpstreamConnect))
	if _, err := upstreamConn.Write(codec.EncodeRequest(req)); err != nil {
		upstreamConn.Close()
		uc.finishWithError(clientConn, exch, domain.KindUpstreamConnectError, started)
		return false
	}

	respCodec := codec.NewResponseCodec(cfg.DefaultMaxLineLen, cfg.MaxBodyLength)
	respCodec.SetLastRequestMethod(req.Method)
	upstreamConn.SetReadDeadline(time.Now().Add(cfg.Timeouts.UpstreamRead))

	resp, err := readResponse(upstreamConn, respCodec)
	if err != nil {
		upstreamConn.Close()
		kind := domain.KindUpstreamConnectError
		if isTimeout(err) {
			kind = domain.KindUpstreamTimeoutError
		}
		uc.finishWithError(clientConn, exch, kind, started)
		return false
	}
	resp.ExchangeID = req.ExchangeID
	exch.Response = resp

	if applyResponseRewrite(resp, matcher, target.Host, req.Target) {
		uc.metrics.RecordRewriteApplied()
	}

	uc.metrics.AddBytesTransferred(int64(len(resp.Body)))
	if _, err := clientConn.Write(codec.EncodeResponse(resp)); err != nil {
		upstreamConn.Close()
		uc.finish(exch, started, false)
		return false
	}

	persistent := isKeepAlive(req, resp)
	if persistent {
		uc.connManager.ReleaseConnection(dialHostPort, upstreamConn)
	} else {
		upstreamConn.Close()
	}

	uc.finish(exch, started, true)
	return persistent
}

func (uc *ProxyUseCase) finish(exch *domain.Exchange, started time.Time, ok bool) {
	exch.DurationMs = time.Since(started).Milliseconds()
	if ok {
		uc.metrics.RecordError(domain.KindNone)
	} else {
		uc.metrics.RecordError(exch.Kind)
	}
	uc.publisher.Publish(exch)
	if err := uc.exchangeStore.Put(exch); err != nil {
		uc.logger.Warn("failed to retain exchange", map[string]interface{}{"error": err.Error()})
	}
}

func (uc *ProxyUseCase) finishWithError(clientConn net.Conn, exch *domain.Exchange, kind domain.ErrorKind, started time.Time) {
	exch.Kind = kind
	if exch.Response == nil {
		uc.writeSynthesized(clientConn, kind.StatusCode(), statusReason(kind.StatusCode()))
	}
	uc.finish(exch, started, false)
}

func (uc *ProxyUseCase) writeSynthesized(clientConn net.Conn, statusCode int, reason string) {
	resp := &domain.Response{
		Message:      domain.Message{ProtocolVersion: "HTTP/1.1", Headers: domain.NewHeaders()},
		StatusCode:   statusCode,
		ReasonPhrase: reason,
	}
	resp.Headers.Set("Connection", "close")
	clientConn.Write(codec.EncodeResponse(resp))
}

// HandleTunnel services a CONNECT request: replies 200, then pumps
// bytes bidirectionally between clientConn and the dialed origin until
// either side closes; the other direction then gets up to
// Timeouts.TunnelDrain to finish.
func (uc *ProxyUseCase) HandleTunnel(ctx context.Context, clientConn net.Conn, target domain.HostAndPort, clientIP string) error {
	cfg := uc.configStore.Snapshot()
	dialHostPort, _ := resolveDialAddress(cfg, target)

	serverConn, err := uc.connManager.GetConnection(dialHostPort)
	if err != nil {
		uc.writeSynthesized(clientConn, 502, "Bad Gateway")
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer serverConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return fmt.Errorf("failed to write connection established response: %w", err)
	}

	uc.metrics.RecordTunnel()

	var wg sync.WaitGroup
	wg.Add(2)
	errc := make(chan error, 2)
	halfClosed := make(chan struct{}, 2)

	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		n, err := io.CopyBuffer(serverConn, clientConn, buf)
		uc.metrics.AddBytesTransferred(n)
		if err != nil && !isConnectionClosed(err) {
			uc.logger.Error("client->server tunnel transfer failed", err, nil)
			errc <- err
		}
		if tc, ok := serverConn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		halfClosed <- struct{}{}
	}()

	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		n, err := io.CopyBuffer(clientConn, serverConn, buf)
		uc.metrics.AddBytesTransferred(n)
		if err != nil && !isConnectionClosed(err) {
			uc.logger.Error("server->client tunnel transfer failed", err, nil)
			errc <- err
		}
		if tc, ok := clientConn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		halfClosed <- struct{}{}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	case <-done:
		return nil
	case <-halfClosed:
	}

	drain := time.After(cfg.Timeouts.TunnelDrain)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	case <-done:
		return nil
	case <-drain:
		return nil
	}
}

func isConnectionClosed(err error) bool {
	if err == io.EOF {
		return true
	}
	if operr, ok := err.(*net.OpError); ok {
		return strings.Contains(operr.Err.Error(), "use of closed network connection")
	}
	return false
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// resolveTarget computes the upstream HostAndPort from a decoded
// request's target and Host header.
func resolveTarget(req *domain.Request) (domain.HostAndPort, error) {
	if strings.HasPrefix(req.Target, "http://") || strings.HasPrefix(req.Target, "https://") {
		return hostport.ParseAbsoluteURI(req.Target)
	}
	hostHeader, _ := req.Headers.Get("Host")
	return hostport.FromOriginForm(hostHeader)
}

// resolveDialAddress picks the direct origin or the configured
// external proxy as the dial target: an
// external proxy is used unless the target matches its bypass list.
func resolveDialAddress(cfg domain.Configuration, target domain.HostAndPort) (hostPort string, useAbsoluteForm bool) {
	if cfg.ExternalProxy.Enabled && !bypassMatches(cfg.ExternalProxy.Bypass, target.Host) {
		return fmt.Sprintf("%s:%d", cfg.ExternalProxy.Host, cfg.ExternalProxy.Port), true
	}
	return target.String(), false
}

func bypassMatches(patterns []string, host string) bool {
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		if g.Match(strings.ToLower(host)) {
			return true
		}
	}
	return false
}

func absoluteFormTarget(target domain.HostAndPort, originalTarget string) string {
	scheme := "http"
	if target.TLS {
		scheme = "https"
	}
	path := originalTarget
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", scheme, target.String(), path)
}

func addProxyAuth(req *domain.Request, ep domain.ExternalProxy) {
	if ep.Username == "" {
		return
	}
	creds := base64.StdEncoding.EncodeToString([]byte(ep.Username + ":" + ep.Password))
	req.Headers.Set("Proxy-Authorization", "Basic "+creds)
}

// applyRequestRewrite replaces req's body with the matching rule's
// RequestBody, if any, reporting whether a replacement was made.
func applyRequestRewrite(req *domain.Request, matcher *rewrite.Matcher) bool {
	path := pathOf(req.Target)
	rule, ok := matcher.Match(req.Host.Host, path)
	if !ok || rule.RequestBody == nil {
		return false
	}
	req.Body = []byte(*rule.RequestBody)
	req.Headers.Remove("Transfer-Encoding")
	req.Headers.Set("Content-Length", fmt.Sprintf("%d", len(req.Body)))
	return true
}

// applyResponseRewrite replaces resp's body with the matching rule's
// ResponseBody, if any, reporting whether a replacement was made.
func applyResponseRewrite(resp *domain.Response, matcher *rewrite.Matcher, host, target string) bool {
	rule, ok := matcher.Match(host, pathOf(target))
	if !ok || rule.ResponseBody == nil {
		return false
	}
	resp.Body = []byte(*rule.ResponseBody)
	return true
}

func pathOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// isKeepAlive decides persistence per HTTP/1.1 vs HTTP/1.0 defaults: HTTP/1.1
// without "Connection: close", or HTTP/1.0 with "Connection:
// keep-alive".
func isKeepAlive(req *domain.Request, resp *domain.Response) bool {
	reqConn, _ := req.Headers.Get("Connection")
	respConn, _ := resp.Headers.Get("Connection")

	if strings.EqualFold(reqConn, "close") || strings.EqualFold(respConn, "close") {
		return false
	}
	if req.ProtocolVersion == "HTTP/1.1" && resp.ProtocolVersion == "HTTP/1.1" {
		return true
	}
	return strings.EqualFold(reqConn, "keep-alive") && strings.EqualFold(respConn, "keep-alive")
}

// statusReason maps the status codes the engine synthesizes to a
// reason phrase.
func statusReason(code int) string {
	switch code {
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 502:
		return "Bad Gateway"
	case 504:
		return "Gateway Timeout"
	default:
		return "Internal Server Error"
	}
}

// readRequest drains conn into c until a full request has been
// decoded, per the codec's "ok=false, err=nil means need more bytes"
// contract.
func readRequest(conn net.Conn, c *codec.Codec) (*domain.Request, error) {
	buf := make([]byte, 8192)
	for {
		req, ok, err := c.DecodeRequest()
		if err != nil {
			return nil, err
		}
		if ok {
			return req, nil
		}
		n, rerr := conn.Read(buf)
		if n > 0 {
			c.Feed(buf[:n])
			continue
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

// readResponse is readRequest's response-decoding counterpart.
func readResponse(conn net.Conn, c *codec.Codec) (*domain.Response, error) {
	buf := make([]byte, 8192)
	for {
		resp, ok, err := c.DecodeResponse()
		if err != nil {
			return nil, err
		}
		if ok {
			return resp, nil
		}
		n, rerr := conn.Read(buf)
		if n > 0 {
			c.Feed(buf[:n])
			continue
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}
