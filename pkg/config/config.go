package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const defaultConfigFileName = "hlgwd.toml"

// DefaultUpstreamBaseURL is the Highlight chat backend. Overridable in
// config for test rigs.
const DefaultUpstreamBaseURL = "https://chat-backend.highlightai.com"

const DefaultTimezone = "Asia/Hong_Kong"

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Domain   string `toml:"domain"`
	Email    string `toml:"email"`
	CacheDir string `toml:"cache_dir"`
}

// ProxyAlias adds or overrides an entry in the built-in alias→host table of
// the generic proxy plane.
type ProxyAlias struct {
	Alias string `toml:"alias"`
	Host  string `toml:"host"`
}

type ServerConfig struct {
	ListenAddr      string       `toml:"listen_addr"`
	UpstreamBaseURL string       `toml:"upstream_base_url,omitempty"`
	Timezone        string       `toml:"timezone,omitempty"`
	ProxyAliases    []ProxyAlias `toml:"proxy_aliases,omitempty"`
	TLS             TLSConfig    `toml:"tls"`
}

func DefaultServerConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "hlgateway", defaultConfigFileName)
}

// DefaultCredentialsPath is where the login command drops the generated
// session credentials for later copy-paste.
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "credentials.json"
	}
	return filepath.Join(home, ".config", "hlgateway", "credentials.json")
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", "hlgateway", "tls-autocert")
}

func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:      "127.0.0.1:8080",
		UpstreamBaseURL: DefaultUpstreamBaseURL,
		Timezone:        DefaultTimezone,
		TLS: TLSConfig{
			Enabled:  false,
			CacheDir: DefaultTLSCacheDir(),
		},
	}
}

func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := NewDefaultServerConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrCreateServerConfig reads the config at path, writing the defaults
// there first when no file exists yet.
func LoadOrCreateServerConfig(path string) (*ServerConfig, error) {
	cfg := NewDefaultServerConfig()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	return LoadServerConfig(path)
}

func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := marshalTOML(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func marshalTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetArraysMultiline(true)
	enc.SetIndentSymbol("  ")
	enc.SetIndentTables(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

func (c *ServerConfig) Normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	c.UpstreamBaseURL = strings.TrimRight(strings.TrimSpace(c.UpstreamBaseURL), "/")
	if c.UpstreamBaseURL == "" {
		c.UpstreamBaseURL = DefaultUpstreamBaseURL
	}
	c.Timezone = strings.TrimSpace(c.Timezone)
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	aliasSeen := map[string]struct{}{}
	aliases := make([]ProxyAlias, 0, len(c.ProxyAliases))
	for _, a := range c.ProxyAliases {
		a.Alias = strings.ToLower(strings.TrimSpace(a.Alias))
		a.Host = strings.TrimSpace(a.Host)
		if a.Alias == "" || a.Host == "" {
			continue
		}
		if _, ok := aliasSeen[a.Alias]; ok {
			continue
		}
		aliasSeen[a.Alias] = struct{}{}
		aliases = append(aliases, a)
	}
	sort.SliceStable(aliases, func(i, j int) bool { return aliases[i].Alias < aliases[j].Alias })
	c.ProxyAliases = aliases
	c.TLS.Domain = strings.TrimSpace(c.TLS.Domain)
	c.TLS.Email = strings.TrimSpace(c.TLS.Email)
	c.TLS.CacheDir = strings.TrimSpace(c.TLS.CacheDir)
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = DefaultTLSCacheDir()
	}
}

func (c *ServerConfig) Validate() error {
	u, err := url.Parse(c.UpstreamBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream_base_url %q is not an absolute URL", c.UpstreamBaseURL)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q is not a valid IANA zone", c.Timezone)
	}
	for _, a := range c.ProxyAliases {
		if strings.ContainsAny(a.Alias, "/ ") {
			return fmt.Errorf("proxy alias %q cannot contain slashes or spaces", a.Alias)
		}
		if strings.Contains(a.Host, "://") {
			return fmt.Errorf("proxy alias %q host must be a bare host[/path], not a URL", a.Alias)
		}
	}
	if c.TLS.Enabled && c.TLS.Domain == "" {
		return errors.New("tls.domain is required when tls.enabled=true")
	}
	return nil
}

// ServerConfigStore hands out immutable snapshots of the config and applies
// mutations through copy-validate-persist, so request handlers never see a
// half-written config.
type ServerConfigStore struct {
	mu   sync.RWMutex
	path string
	cfg  *ServerConfig
}

func NewServerConfigStore(path string, cfg *ServerConfig) *ServerConfigStore {
	return &ServerConfigStore{path: path, cfg: cfg}
}

func (s *ServerConfigStore) Snapshot() ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.cfg
	cp.ProxyAliases = append([]ProxyAlias(nil), s.cfg.ProxyAliases...)
	return cp
}

func (s *ServerConfigStore) Update(mutator func(*ServerConfig) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.cfg
	cp.ProxyAliases = append([]ProxyAlias(nil), s.cfg.ProxyAliases...)
	if err := mutator(&cp); err != nil {
		return err
	}
	cp.Normalize()
	if err := cp.Validate(); err != nil {
		return err
	}
	if err := Save(s.path, &cp); err != nil {
		return err
	}
	s.cfg = &cp
	return nil
}
