// Package config loads memrelay settings from a YAML file, the environment
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultURL            = "http://127.0.0.1:8000/mcp"
	DefaultTimeout        = 120 * time.Second
	DefaultSessionHeader  = "Mcp-Session-Id"
	DefaultBaseURL        = "https://api.openai.com/v1"
	OpenRouterBaseURL     = "https://openrouter.ai/api/v1"
	DefaultModel          = "gpt-4.1-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultTemperature    = 0.1
	DefaultMaxRetries     = 3
	DefaultAppName        = "memrelay"
)

// Providers accepted in llm.provider.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

// Bridge configures the stdio to HTTP relay.
type Bridge struct {
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Timeout       time.Duration `yaml:"timeout"`
	SessionHeader string        `yaml:"session_header"`
}

// UnmarshalYAML reads bridge.timeout through ParseTimeout so the file takes
// the same values as MEMRELAY_TIMEOUT and --timeout.
func (b *Bridge) UnmarshalYAML(value *yaml.Node) error {
	type plain Bridge
	if value.Kind != yaml.MappingNode {
		return value.Decode((*plain)(b))
	}
	rest := *value
	rest.Content = nil
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if key.Value != "timeout" {
			rest.Content = append(rest.Content, key, val)
			continue
		}
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: bridge.timeout must be a duration or seconds", val.Line)
		}
		d, err := ParseTimeout(val.Value)
		if err != nil {
			return fmt.Errorf("line %d: bridge.timeout: %w", val.Line, err)
		}
		b.Timeout = d
	}
	return rest.Decode((*plain)(b))
}

// LLM configures the chat and embedding clients.
type LLM struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	MaxRetries     int     `yaml:"max_retries"`
	Streaming      bool    `yaml:"streaming"`
	AppName        string  `yaml:"app_name"`
}

type Config struct {
	Bridge Bridge `yaml:"bridge"`
	LLM    LLM    `yaml:"llm"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Bridge: Bridge{
			URL:           DefaultURL,
			Timeout:       DefaultTimeout,
			SessionHeader: DefaultSessionHeader,
		},
		LLM: LLM{
			Provider:       ProviderOpenAI,
			BaseURL:        DefaultBaseURL,
			Model:          DefaultModel,
			EmbeddingModel: DefaultEmbeddingModel,
			Temperature:    DefaultTemperature,
			MaxRetries:     DefaultMaxRetries,
			Streaming:      true,
			AppName:        DefaultAppName,
		},
	}
}

// DefaultPath is ~/.config/memrelay/config.yaml, or a relative path when the
// home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".memrelay", "config.yaml")
	}
	return filepath.Join(home, ".config", "memrelay", "config.yaml")
}

// Load reads the defaults, then path (a missing file is fine), then the
// environment. Flags are applied by the caller afterwards.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(expandHome(path))
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the environment variables memrelay understands. lookup
// is os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get("MEMRELAY_URL"); ok {
		c.Bridge.URL = v
	}
	if v, ok := get("MEMRELAY_TOKEN"); ok {
		c.Bridge.Token = v
	}
	if v, ok := get("MEMRELAY_TIMEOUT"); ok {
		d, err := ParseTimeout(v)
		if err != nil {
			return fmt.Errorf("MEMRELAY_TIMEOUT: %w", err)
		}
		c.Bridge.Timeout = d
	}
	if v, ok := get("OPENAI_API_KEY"); ok {
		c.LLM.APIKey = v
	}
	if v, ok := get("OPENAI_BASE_URL"); ok {
		c.LLM.BaseURL = v
	}
	if v, ok := get("MEMRELAY_LLM_MODEL"); ok {
		c.LLM.Model = v
	}
	return nil
}

// ParseTimeout accepts a Go duration ("90s", "2m") or a bare number of
// seconds ("120", "0.5").
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// Validate checks the settings the bridge cannot run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Bridge.URL) == "" {
		return fmt.Errorf("%w: bridge.url is empty", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Bridge.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: bridge.url %q is not an http(s) url", ErrInvalidConfig, c.Bridge.URL)
	}
	if c.Bridge.Timeout <= 0 {
		return fmt.Errorf("%w: bridge.timeout must be positive", ErrInvalidConfig)
	}
	switch c.LLM.Provider {
	case "", ProviderOpenAI, ProviderOpenRouter:
	default:
		return fmt.Errorf("%w: unknown llm.provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm.temperature must be within [0, 2]", ErrInvalidConfig)
	}
	return nil
}

// WriteDefault writes DefaultYAML to path, creating parent directories. An
// existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	path = expandHome(path)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// The file may hold secrets.
	return os.WriteFile(path, []byte(DefaultYAML()), 0o600)
}

// DefaultYAML renders the defaults as a commented config file.
func DefaultYAML() string {
	d := Default()
	var b strings.Builder
	b.WriteString("# memrelay configuration\n")
	b.WriteString("# Environment variables and command-line flags take precedence over this file.\n\n")
	b.WriteString("bridge:\n")
	fmt.Fprintf(&b, "  # MCP endpoint every stdin message is POSTed to (MEMRELAY_URL)\n  url: %s\n", d.Bridge.URL)
	b.WriteString("  # Bearer token sent with every request (MEMRELAY_TOKEN)\n  token: \"\"\n")
	fmt.Fprintf(&b, "  # Per-request timeout (MEMRELAY_TIMEOUT)\n  timeout: %s\n", d.Bridge.Timeout)
	fmt.Fprintf(&b, "  session_header: %s\n\n", d.Bridge.SessionHeader)
	b.WriteString("llm:\n")
	fmt.Fprintf(&b, "  # openai or openrouter\n  provider: %s\n", d.LLM.Provider)
	fmt.Fprintf(&b, "  base_url: %s\n", d.LLM.BaseURL)
	b.WriteString("  # OPENAI_API_KEY overrides this\n  api_key: \"\"\n")
	fmt.Fprintf(&b, "  model: %s\n", d.LLM.Model)
	fmt.Fprintf(&b, "  embedding_model: %s\n", d.LLM.EmbeddingModel)
	fmt.Fprintf(&b, "  temperature: %g\n", d.LLM.Temperature)
	b.WriteString("  # 0 leaves the limit to the provider\n  max_tokens: 0\n")
	fmt.Fprintf(&b, "  max_retries: %d\n", d.LLM.MaxRetries)
	fmt.Fprintf(&b, "  streaming: %t\n", d.LLM.Streaming)
	fmt.Fprintf(&b, "  app_name: %s\n", d.LLM.AppName)
	return b.String()
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
