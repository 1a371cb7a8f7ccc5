package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models agdt.yml.
type Config struct {
	Paths struct {
		TempDir    string `yaml:"temp_dir"`
		StateFile  string `yaml:"state_file"`
		TasksDir   string `yaml:"tasks_dir"`
		PromptsDir string `yaml:"prompts_dir"`
		SpecsDir   string `yaml:"specs_dir"`
	} `yaml:"paths"`
	Timeouts struct {
		StateLock    Duration `yaml:"state_lock"`
		HTTPRequest  Duration `yaml:"http_request"`
		PollInterval Duration `yaml:"poll_interval"`
		Wait         Duration `yaml:"wait"`
	} `yaml:"timeouts"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Jira      struct {
		BaseURL string `yaml:"base_url"`
		Email   string `yaml:"email"`
	} `yaml:"jira"`
	AzureDevOps struct {
		BaseURL      string `yaml:"base_url"`
		Organization string `yaml:"organization"`
		Project      string `yaml:"project"`
		Repository   string `yaml:"repository"`
	} `yaml:"azure_devops"`
	GitHub struct {
		BaseURL string `yaml:"base_url"`
		Owner   string `yaml:"owner"`
		Repo    string `yaml:"repo"`
	} `yaml:"github"`
	Workers struct {
		Size  int `yaml:"size"`
		Queue int `yaml:"queue"`
	} `yaml:"workers"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig posts ledger events to URL while agdt serve runs.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type RetryConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Duration is a time.Duration that reads "5s"-style strings from YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with agdt config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		return fmt.Errorf("config.paths.temp_dir is required")
	}
	if strings.TrimSpace(c.Paths.StateFile) == "" {
		return fmt.Errorf("config.paths.state_file is required")
	}
	if strings.ContainsAny(c.Paths.StateFile, `/\`) {
		return fmt.Errorf("config.paths.state_file must be a file name, got %s", c.Paths.StateFile)
	}
	if c.Timeouts.StateLock <= 0 {
		return fmt.Errorf("config.timeouts.state_lock must be positive")
	}
	if c.Timeouts.HTTPRequest <= 0 {
		return fmt.Errorf("config.timeouts.http_request must be positive")
	}
	if c.Timeouts.PollInterval <= 0 {
		return fmt.Errorf("config.timeouts.poll_interval must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config.retry.max_attempts must be at least 1")
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("config.retry.max_backoff must not be below initial_backoff")
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config.rate_limit values must not be negative")
	}
	if c.Workers.Size < 1 {
		return fmt.Errorf("config.workers.size must be at least 1")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agdt.yml")
}

// TempPath resolves the temp directory against the workspace.
func (c *Config) TempPath(workspace string) string {
	if filepath.IsAbs(c.Paths.TempDir) {
		return c.Paths.TempDir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Paths.TempDir)
}

// StatePath is the location of the JSON state document.
func (c *Config) StatePath(workspace string) string {
	return filepath.Join(c.TempPath(workspace), c.Paths.StateFile)
}

// TasksPath is the directory holding task status, log and result files.
func (c *Config) TasksPath(workspace string) string {
	return filepath.Join(c.TempPath(workspace), c.Paths.TasksDir)
}

// PromptsPath is the workspace directory whose templates override the
// embedded ones.
func (c *Config) PromptsPath(workspace string) string {
	if filepath.IsAbs(c.Paths.PromptsDir) {
		return c.Paths.PromptsDir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Paths.PromptsDir)
}

// SpecsPath is where sdd issue-to-spec writes specs.
func (c *Config) SpecsPath(workspace string) string {
	if filepath.IsAbs(c.Paths.SpecsDir) {
		return c.Paths.SpecsDir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Paths.SpecsDir)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing
// sections keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `paths:
  temp_dir: scripts/temp
  state_file: agdt-state.json
  tasks_dir: tasks
  prompts_dir: prompts
  specs_dir: specs

timeouts:
  state_lock: 5s
  http_request: 30s
  poll_interval: 500ms
  wait: 5m

retry:
  max_attempts: 3
  initial_backoff: 500ms
  max_backoff: 10s

rate_limit:
  per_second: 10
  burst: 5

jira:
  base_url: ""
  email: ""

azure_devops:
  base_url: https://dev.azure.com
  organization: ""
  project: ""
  repository: ""

github:
  base_url: ""
  owner: ""
  repo: ""

workers:
  size: 4
  queue: 64

server:
  addr: 127.0.0.1:8080
  base_path: /v1
`
