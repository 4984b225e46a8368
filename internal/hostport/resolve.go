// Package hostport resolves CONNECT targets and absolute/origin-form
// request URIs into a domain.HostAndPort, classifying TLS vs.
// plaintext.
package hostport

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/relaywire/proxy/internal/domain"
)

// ParseConnectTarget parses a CONNECT target of the form "host:port"
// (IPv6 literals accepted in bracketed form). TLS is true unless the
// port is anything other than 443 and the caller has no other reason
// to believe otherwise — CONNECT on 443 implies
// TLS; CONNECT on any other port does not.
func ParseConnectTarget(target string) (domain.HostAndPort, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return domain.HostAndPort{}, domain.NewParseError("invalid CONNECT target", []byte(target))
	}
	port, err := parsePort(portStr)
	if err != nil {
		return domain.HostAndPort{}, err
	}
	return domain.HostAndPort{Host: host, Port: port, TLS: port == 443}, nil
}

// ParseAbsoluteURI parses an absolute-form request target (a full URL
// used with proxies), e.g. "http://example.com:8080/path".
func ParseAbsoluteURI(target string) (domain.HostAndPort, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return domain.HostAndPort{}, domain.NewParseError("invalid absolute-form URI", []byte(target))
	}

	host := u.Hostname()
	portStr := u.Port()
	scheme := strings.ToLower(u.Scheme)

	var port uint16
	if portStr != "" {
		p, perr := parsePort(portStr)
		if perr != nil {
			return domain.HostAndPort{}, perr
		}
		port = p
	} else if scheme == "https" {
		port = 443
	} else {
		port = 80
	}

	tls := scheme == "https" || port == 443
	return domain.HostAndPort{Host: host, Port: port, TLS: tls}, nil
}

// FromOriginForm completes a HostAndPort for an origin-form request
// target (a bare path) using the request's Host header: origin-form
// request URIs require a Host header to complete the HostAndPort.
func FromOriginForm(hostHeader string) (domain.HostAndPort, error) {
	if hostHeader == "" {
		return domain.HostAndPort{}, domain.NewParseError("origin-form request missing Host header", nil)
	}

	host, portStr, err := net.SplitHostPort(hostHeader)
	if err != nil {
		// no explicit port: bare host, default to plaintext HTTP.
		return domain.HostAndPort{Host: hostHeader, Port: 80, TLS: false}, nil
	}
	port, err := parsePort(portStr)
	if err != nil {
		return domain.HostAndPort{}, err
	}
	return domain.HostAndPort{Host: host, Port: port, TLS: port == 443}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, domain.NewParseError("invalid port", []byte(s))
	}
	return uint16(n), nil
}
