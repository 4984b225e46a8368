// Package access implements the Configuration.host allow/deny filter,
// checked on every request before it is dialed: if the request host
// is denied, the connection is answered with 403 Forbidden. It is a
// blocklist repository generalized from a fixed deny-only list to a
// {mode, list} filter, with glob patterns instead of exact/
// wildcard-suffix strings.
package access

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/relaywire/proxy/internal/domain"
)

// fileFormat is the on-disk YAML shape: a filter mode plus the list
// of host patterns it applies.
type fileFormat struct {
	Mode string   `yaml:"mode"`
	List []string `yaml:"list"`
}

// Repository is a glob-based host filter, reloadable from a YAML file
// on disk.
type Repository struct {
	mu         sync.RWMutex
	configFile string
	mode       domain.FilterMode
	globs      []glob.Glob
	patterns   []string
}

var _ domain.AccessController = (*Repository)(nil)

// New creates a Repository backed by configFile, loading it (or
// writing the default deny-list-of-nothing) immediately and
// starting a background reload watcher.
func New(configFile string) (*Repository, error) {
	r := &Repository{configFile: configFile, mode: domain.FilterModeDeny}
	if err := r.loadConfig(); err != nil {
		return nil, fmt.Errorf("access: initial load failed: %w", err)
	}
	go r.watchConfig()
	return r, nil
}

// IsAllowed applies the configured allow/deny glob list to host.
// clientIP is accepted for interface symmetry with IP-based filters
// but is not filtered on by this glob-based implementation; per-IP
// rules are out of scope.
func (r *Repository) IsAllowed(clientIP, host string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	host = strings.ToLower(host)
	matched := r.matches(host)

	switch r.mode {
	case domain.FilterModeAllow:
		return matched, nil
	case domain.FilterModeDeny:
		return !matched, nil
	default:
		return true, nil
	}
}

func (r *Repository) matches(host string) bool {
	for _, g := range r.globs {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// Reload re-reads the config file immediately.
func (r *Repository) Reload() error {
	return r.loadConfig()
}

func (r *Repository) loadConfig() error {
	data, err := os.ReadFile(r.configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		def := fileFormat{Mode: string(domain.FilterModeDeny)}
		data, err = yaml.Marshal(def)
		if err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
		if err := os.WriteFile(r.configFile, data, 0644); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	mode := domain.FilterMode(strings.ToLower(strings.TrimSpace(ff.Mode)))
	if mode != domain.FilterModeAllow && mode != domain.FilterModeDeny {
		mode = domain.FilterModeDeny
	}

	globs := make([]glob.Glob, 0, len(ff.List))
	patterns := make([]string, 0, len(ff.List))
	for _, p := range ff.List {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		globs = append(globs, g)
		patterns = append(patterns, p)
	}

	r.mu.Lock()
	r.mode = mode
	r.globs = globs
	r.patterns = patterns
	r.mu.Unlock()

	return nil
}

func (r *Repository) watchConfig() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastModTime time.Time
	for range ticker.C {
		stat, err := os.Stat(r.configFile)
		if err != nil {
			continue
		}
		if stat.ModTime().After(lastModTime) {
			if err := r.loadConfig(); err == nil {
				lastModTime = stat.ModTime()
			}
		}
	}
}
