package config

import (
	"bytes"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/relaywire/proxy/internal/domain"
)

// fileFormat is the on-disk shape persisted via TOML. Configuration's
// host filter and timeouts are left out here. The host filter that
// requests are checked against lives in the access repository's own
// YAML file (see internal/interface/repository/access); a Configuration
// loaded through this codec keeps the default HostFilter and Timeouts.
type fileFormat struct {
	ListenPort         uint16              `toml:"listen_port"`
	SystemProxyEnabled bool                `toml:"system_proxy_enabled"`
	ExternalProxy      externalProxyFile   `toml:"external_proxy"`
	Rewrites           rewritesFile        `toml:"rewrites"`
	MaxBodyLength      int64               `toml:"max_body_length"`
	DefaultMaxLineLen  int                 `toml:"default_max_line_len"`
}

type externalProxyFile struct {
	Enabled  bool     `toml:"enabled"`
	Host     string   `toml:"host"`
	Port     uint16   `toml:"port"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	Bypass   []string `toml:"bypass"`
}

type rewritesFile struct {
	Enabled bool             `toml:"enabled"`
	Rules   []ruleFile       `toml:"rules"`
}

type ruleFile struct {
	Enabled      bool    `toml:"enabled"`
	Domain       string  `toml:"domain"`
	PathGlob     string  `toml:"path_glob"`
	RequestBody  *string `toml:"request_body,omitempty"`
	ResponseBody *string `toml:"response_body,omitempty"`
}

// TOMLCodec implements Codec by reading and writing Configuration
// (minus the host filter and timeouts) as TOML at Path, per SPEC_FULL.md §6.
type TOMLCodec struct {
	Path string
}

// Load reads Path, returning DefaultConfiguration if it does not
// exist yet.
func (c *TOMLCodec) Load() (domain.Configuration, error) {
	cfg := domain.DefaultConfiguration()

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var ff fileFormat
	if err := toml.Unmarshal(data, &ff); err != nil {
		return cfg, err
	}

	cfg.ListenPort = ff.ListenPort
	cfg.SystemProxyEnabled = ff.SystemProxyEnabled
	cfg.ExternalProxy = domain.ExternalProxy{
		Enabled:  ff.ExternalProxy.Enabled,
		Host:     ff.ExternalProxy.Host,
		Port:     ff.ExternalProxy.Port,
		Username: ff.ExternalProxy.Username,
		Password: ff.ExternalProxy.Password,
		Bypass:   ff.ExternalProxy.Bypass,
	}
	cfg.Rewrites.Enabled = ff.Rewrites.Enabled
	for _, r := range ff.Rewrites.Rules {
		cfg.Rewrites.Rules = append(cfg.Rewrites.Rules, domain.RewriteRule{
			Enabled:      r.Enabled,
			Domain:       r.Domain,
			PathGlob:     r.PathGlob,
			RequestBody:  r.RequestBody,
			ResponseBody: r.ResponseBody,
		})
	}
	if ff.MaxBodyLength > 0 {
		cfg.MaxBodyLength = ff.MaxBodyLength
	}
	if ff.DefaultMaxLineLen > 0 {
		cfg.DefaultMaxLineLen = ff.DefaultMaxLineLen
	}

	return cfg, nil
}

// Save atomically rewrites Path with cfg (a temp file plus rename, the
// same durability idiom the metrics repository uses for its
// JSON snapshot).
func (c *TOMLCodec) Save(cfg domain.Configuration) error {
	ff := fileFormat{
		ListenPort:         cfg.ListenPort,
		SystemProxyEnabled: cfg.SystemProxyEnabled,
		ExternalProxy: externalProxyFile{
			Enabled:  cfg.ExternalProxy.Enabled,
			Host:     cfg.ExternalProxy.Host,
			Port:     cfg.ExternalProxy.Port,
			Username: cfg.ExternalProxy.Username,
			Password: cfg.ExternalProxy.Password,
			Bypass:   cfg.ExternalProxy.Bypass,
		},
		Rewrites:          rewritesFile{Enabled: cfg.Rewrites.Enabled},
		MaxBodyLength:      cfg.MaxBodyLength,
		DefaultMaxLineLen:  cfg.DefaultMaxLineLen,
	}
	for _, r := range cfg.Rewrites.Rules {
		ff.Rewrites.Rules = append(ff.Rewrites.Rules, ruleFile{
			Enabled:      r.Enabled,
			Domain:       r.Domain,
			PathGlob:     r.PathGlob,
			RequestBody:  r.RequestBody,
			ResponseBody: r.ResponseBody,
		})
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(ff); err != nil {
		return err
	}

	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.Path)
}
