package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const (
	// PlaceholderAPIKey is sent when the credential variable is unset. Local
	// OpenAI-compatible servers accept any bearer token.
	PlaceholderAPIKey = "EMPTY"

	DefaultAPIKeyEnv = "CUSTOM_OPENAI_API_KEY"

	ProviderResponses  = "responses"
	ProviderCompatible = "compatible"

	RoutePlain   = "plain"
	RouteWeather = "weather"
)

type Config struct {
	DefaultLLM string                  `toml:"default_llm"`
	LLMs       map[string]*LLMConfig   `toml:"llm"`
	Gateway    GatewayConfig           `toml:"gateway"`
	Routes     map[string]*RouteConfig `toml:"route"`
	DB         DBConfig                `toml:"db"`
	Trace      TraceConfig             `toml:"trace"`
}

type LLMConfig struct {
	Provider  string         `toml:"provider"`
	Model     string         `toml:"model"`
	BaseURL   string         `toml:"base_url"`
	APIKeyEnv string         `toml:"api_key_env"`
	ExtraBody map[string]any `toml:"extra_body"`

	// APIKey is resolved from APIKeyEnv by Load and never read from the file.
	APIKey string `toml:"-"`
}

// UsesPlaceholderKey reports whether no credential was found in the environment.
func (c *LLMConfig) UsesPlaceholderKey() bool {
	return c.APIKey == PlaceholderAPIKey
}

type GatewayConfig struct {
	Addr          string `toml:"addr"`
	MaxBodyBytes  int64  `toml:"max_body_bytes"`
	ObserveChunks bool   `toml:"observe_chunks"`
}

type RouteConfig struct {
	SystemPrompt string `toml:"system_prompt"`
	MaxSteps     int    `toml:"max_steps"`
}

type DBConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type TraceConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	URLPath  string `toml:"url_path"`
	APIKey   string `toml:"api_key"`
}

// envOverrides are read with the FRIDAY_ prefix, e.g. FRIDAY_ADDR.
type envOverrides struct {
	Addr          string `envconfig:"ADDR"`
	DefaultLLM    string `envconfig:"DEFAULT_LLM"`
	DBPath        string `envconfig:"DB_PATH"`
	TraceEndpoint string `envconfig:"TRACE_ENDPOINT"`
}

func Default() *Config {
	return &Config{
		DefaultLLM: "agentscope",
		LLMs: map[string]*LLMConfig{
			"agentscope": {
				Provider:  ProviderResponses,
				Model:     "agent-model",
				BaseURL:   "http://localhost:8090/compatible-mode/v1",
				APIKeyEnv: DefaultAPIKeyEnv,
			},
			"glm": {
				Provider:  ProviderCompatible,
				Model:     "glm-4.7",
				BaseURL:   "https://open.bigmodel.cn/api/coding/paas/v4",
				APIKeyEnv: "GLM_API_KEY",
			},
		},
		Gateway: GatewayConfig{
			Addr:          ":3000",
			MaxBodyBytes:  4 << 20,
			ObserveChunks: true,
		},
		Routes: map[string]*RouteConfig{
			RoutePlain:   {MaxSteps: 1},
			RouteWeather: {MaxSteps: 5},
		},
		DB: DBConfig{
			Path: defaultDBPath(),
		},
	}
}

// Load reads the config file at path (or the default location when path is
// empty), applies FRIDAY_* environment overrides and resolves credentials.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = configPath()
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}

	var env envOverrides
	if err := envconfig.Process("friday", &env); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.applyEnv(env)

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(env envOverrides) {
	if env.Addr != "" {
		c.Gateway.Addr = env.Addr
	}
	if env.DefaultLLM != "" {
		c.DefaultLLM = env.DefaultLLM
	}
	if env.DBPath != "" {
		c.DB.Path = env.DBPath
	}
	if env.TraceEndpoint != "" {
		c.Trace.Endpoint = env.TraceEndpoint
		c.Trace.Enabled = true
	}
}

func (c *Config) finalize() error {
	for name, l := range c.LLMs {
		if l.Provider == "" {
			l.Provider = ProviderResponses
		}
		if l.Provider != ProviderResponses && l.Provider != ProviderCompatible {
			return fmt.Errorf("llm %q: unknown provider %q", name, l.Provider)
		}
		if l.APIKeyEnv == "" {
			l.APIKeyEnv = DefaultAPIKeyEnv
		}
		l.APIKey = os.Getenv(l.APIKeyEnv)
		if l.APIKey == "" {
			l.APIKey = PlaceholderAPIKey
		}
	}
	if _, ok := c.LLMs[c.DefaultLLM]; !ok {
		return fmt.Errorf("default LLM %q not found in config", c.DefaultLLM)
	}
	if c.Routes == nil {
		c.Routes = map[string]*RouteConfig{}
	}
	for _, name := range []string{RoutePlain, RouteWeather} {
		if _, ok := c.Routes[name]; !ok {
			c.Routes[name] = &RouteConfig{}
		}
	}
	if c.Routes[RoutePlain].MaxSteps <= 0 {
		c.Routes[RoutePlain].MaxSteps = 1
	}
	if c.Routes[RouteWeather].MaxSteps <= 0 {
		c.Routes[RouteWeather].MaxSteps = 5
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		c.Gateway.MaxBodyBytes = 4 << 20
	}
	return nil
}

// DefaultLLMConfig returns the LLM selected by default_llm.
func (c *Config) DefaultLLMConfig() *LLMConfig {
	return c.LLMs[c.DefaultLLM]
}

func configPath() string {
	dir, _ := os.UserConfigDir()
	return filepath.Join(dir, "friday", "config.toml")
}

func defaultDBPath() string {
	dir, _ := os.UserHomeDir()
	return filepath.Join(dir, ".local", "share", "friday", "audit.db")
}
