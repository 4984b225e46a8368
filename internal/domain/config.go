package domain

import "time"

// ExternalProxy is the upstream proxy the engine dials through instead
// of connecting to the origin directly, unless the target matches
// Bypass.
type ExternalProxy struct {
	Enabled  bool
	Host     string
	Port     uint16
	Username string
	Password string
	Bypass   []string // glob patterns
}

// FilterMode selects whether HostFilter.List is an allow-list or a
// deny-list.
type FilterMode string

const (
	FilterModeAllow FilterMode = "allow"
	FilterModeDeny  FilterMode = "deny"
)

// HostFilter allows or denies requests by host glob.
type HostFilter struct {
	Mode FilterMode
	List []string // glob patterns
}

// Timeouts holds the process's configurable client-facing and
// upstream-facing timeout knobs.
type Timeouts struct {
	ClientIdle      time.Duration
	UpstreamConnect time.Duration
	UpstreamRead    time.Duration
	TunnelDrain     time.Duration
}

// DefaultTimeouts returns the built-in default timeout values.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ClientIdle:      30 * time.Second,
		UpstreamConnect: 30 * time.Second,
		UpstreamRead:    60 * time.Second,
		TunnelDrain:     10 * time.Second,
	}
}

// Configuration is the process-wide, engine-owned proxy configuration.
// It is never mutated in place: edits go through typed commands
// (internal/config) that compute a new Configuration value and swap
// it atomically.
type Configuration struct {
	ListenPort         uint16
	SystemProxyEnabled bool
	ExternalProxy      ExternalProxy
	HostFilter         HostFilter
	Rewrites           RewriteRules
	Timeouts           Timeouts
	MaxBodyLength      int64
	DefaultMaxLineLen  int
}

// DefaultConfiguration returns the built-in default configuration.
func DefaultConfiguration() Configuration {
	return Configuration{
		ListenPort:        9999,
		HostFilter:        HostFilter{Mode: FilterModeDeny},
		Timeouts:          DefaultTimeouts(),
		MaxBodyLength:     4_096_000,
		DefaultMaxLineLen: 10240,
	}
}

// Validate reports a *ErrConfig if the configuration cannot be applied.
func (c Configuration) Validate() error {
	if c.ListenPort == 0 {
		return &ErrConfig{Field: "ListenPort", Message: "must be in 1..=65535"}
	}
	if c.ExternalProxy.Enabled {
		if c.ExternalProxy.Host == "" {
			return &ErrConfig{Field: "ExternalProxy.Host", Message: "required when enabled"}
		}
		if c.ExternalProxy.Port == 0 {
			return &ErrConfig{Field: "ExternalProxy.Port", Message: "must be in 1..=65535"}
		}
	}
	switch c.HostFilter.Mode {
	case FilterModeAllow, FilterModeDeny, "":
	default:
		return &ErrConfig{Field: "HostFilter.Mode", Message: "must be allow or deny"}
	}
	for _, rule := range c.Rewrites.Rules {
		if rule.PathGlob == "" {
			return &ErrConfig{Field: "Rewrites.Rules", Message: "path glob must be non-empty"}
		}
	}
	return nil
}
