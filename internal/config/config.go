package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vramd/pkg/types"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	// Swagger mounts /swagger/* when true.
	Swagger      bool       `json:"swagger" yaml:"swagger" toml:"swagger"`
	CORS         CORSConfig `json:"cors" yaml:"cors" toml:"cors"`
	MaxBodyBytes int64      `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	Ollama    BackendConfig `json:"ollama" yaml:"ollama" toml:"ollama"`
	LMStudio  BackendConfig `json:"lmstudio" yaml:"lmstudio" toml:"lmstudio"`
	OpenAI    CloudConfig   `json:"openai" yaml:"openai" toml:"openai"`
	Anthropic CloudConfig   `json:"anthropic" yaml:"anthropic" toml:"anthropic"`

	Timeouts  TimeoutsConfig `json:"timeouts" yaml:"timeouts" toml:"timeouts"`
	KeepAlive Duration       `json:"keep_alive" yaml:"keep_alive" toml:"keep_alive"`
	// SkipResidencyCheck trusts tracked state on the prepare fast path.
	SkipResidencyCheck bool `json:"skip_residency_check" yaml:"skip_residency_check" toml:"skip_residency_check"`

	Session SessionConfig      `json:"session" yaml:"session" toml:"session"`
	Budget  BudgetConfig       `json:"budget" yaml:"budget" toml:"budget"`
	Prompts PromptsConfig      `json:"prompts" yaml:"prompts" toml:"prompts"`
	Models  []types.ModelEntry `json:"models" yaml:"models" toml:"models"`

	// dir is the directory of the loaded file, used for relative prompt paths.
	dir string
}

// BackendConfig describes one local inference server.
type BackendConfig struct {
	Disabled bool   `json:"disabled" yaml:"disabled" toml:"disabled"`
	BaseURL  string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key" toml:"api_key"`
	// FallbackModel is substituted when another local backend fails.
	FallbackModel string `json:"fallback_model" yaml:"fallback_model" toml:"fallback_model"`
}

// CloudConfig describes a hosted provider with a single static key.
type CloudConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
}

// CORSConfig enables cross-origin requests when Enabled.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
}

type TimeoutsConfig struct {
	Probe  Duration `json:"probe" yaml:"probe" toml:"probe"`
	List   Duration `json:"list" yaml:"list" toml:"list"`
	Unload Duration `json:"unload" yaml:"unload" toml:"unload"`
	Load   Duration `json:"load" yaml:"load" toml:"load"`
	WarmUp Duration `json:"warm_up" yaml:"warm_up" toml:"warm_up"`
	Poll   Duration `json:"poll" yaml:"poll" toml:"poll"`
	// Chat bounds a whole /chat stream; zero disables it.
	Chat Duration `json:"chat" yaml:"chat" toml:"chat"`
}

type SessionConfig struct {
	MaxSegments     int    `json:"max_segments" yaml:"max_segments" toml:"max_segments"`
	ContinuePrompt  string `json:"continue_prompt" yaml:"continue_prompt" toml:"continue_prompt"`
	DefaultProvider string `json:"default_provider" yaml:"default_provider" toml:"default_provider"`
	DefaultModel    string `json:"default_model" yaml:"default_model" toml:"default_model"`
	// StartTier is the prompt tier a session starts from.
	StartTier string `json:"start_tier" yaml:"start_tier" toml:"start_tier"`
}

type BudgetConfig struct {
	SafetyMargin         int     `json:"safety_margin" yaml:"safety_margin" toml:"safety_margin"`
	OutputFloor          int     `json:"output_floor" yaml:"output_floor" toml:"output_floor"`
	MaxOutput            int     `json:"max_output" yaml:"max_output" toml:"max_output"`
	DefaultContextWindow int     `json:"default_context_window" yaml:"default_context_window" toml:"default_context_window"`
	WordFactor           float64 `json:"word_factor" yaml:"word_factor" toml:"word_factor"`
}

// PromptsConfig holds the tier prompts, inline or as "@path".
type PromptsConfig struct {
	Full    string `json:"full" yaml:"full" toml:"full"`
	Reduced string `json:"reduced" yaml:"reduced" toml:"reduced"`
	Minimal string `json:"minimal" yaml:"minimal" toml:"minimal"`
}

// DefaultContinuePrompt is the instruction appended after a length cut-off.
const DefaultContinuePrompt = "Continue your prior response. IMPORTANT: Immediately begin from where you left off without any interruptions. Do not repeat any content, including artifact and action tags."

// Default returns a configuration with every default applied.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	setStr := func(p *string, v string) {
		if strings.TrimSpace(*p) == "" {
			*p = v
		}
	}
	setInt := func(p *int, v int) {
		if *p <= 0 {
			*p = v
		}
	}
	setDur := func(p *Duration, v time.Duration) {
		if p.Duration <= 0 {
			p.Duration = v
		}
	}
	setStr(&c.Addr, ":8090")
	setStr(&c.LogLevel, "info")
	setStr(&c.LogFormat, "console")
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 4 << 20
	}
	setStr(&c.Ollama.BaseURL, "http://127.0.0.1:11434")
	setStr(&c.LMStudio.BaseURL, "http://127.0.0.1:1234")

	setDur(&c.Timeouts.Probe, 3*time.Second)
	setDur(&c.Timeouts.List, 5*time.Second)
	setDur(&c.Timeouts.Unload, 15*time.Second)
	setDur(&c.Timeouts.Load, 30*time.Second)
	setDur(&c.Timeouts.WarmUp, 90*time.Second)
	setDur(&c.Timeouts.Poll, 500*time.Millisecond)
	setDur(&c.KeepAlive, 30*time.Minute)

	setInt(&c.Session.MaxSegments, 2)
	setStr(&c.Session.ContinuePrompt, DefaultContinuePrompt)
	setStr(&c.Session.StartTier, "full")

	setInt(&c.Budget.SafetyMargin, 256)
	setInt(&c.Budget.OutputFloor, 512)
	setInt(&c.Budget.MaxOutput, 8192)
	setInt(&c.Budget.DefaultContextWindow, 8192)
	if c.Budget.WordFactor <= 0 {
		c.Budget.WordFactor = 1.3
	}
}

// ApplyEnv overrides fields from the environment. getenv may be nil to use os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("VRAMD_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("OLLAMA_HOST"); v != "" && c.Ollama.BaseURL == "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		c.Ollama.BaseURL = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" && c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = v
	}
	if v := getenv("ANTHROPIC_API_KEY"); v != "" && c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = v
	}
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Ollama.Disabled && c.LMStudio.Disabled && c.OpenAI.APIKey == "" && c.Anthropic.APIKey == "" {
		errs = append(errs, errors.New("no provider enabled"))
	}
	if c.Session.MaxSegments < 1 {
		errs = append(errs, fmt.Errorf("session.max_segments must be >= 1, got %d", c.Session.MaxSegments))
	}
	for i, m := range c.Models {
		if strings.TrimSpace(m.Model) == "" {
			errs = append(errs, fmt.Errorf("models[%d]: empty model", i))
		}
		if m.ContextWindow < 0 {
			errs = append(errs, fmt.Errorf("models[%d]: negative context_window", i))
		}
	}
	return errors.Join(errs...)
}

// ResolvePrompts loads "@path" prompt values relative to the config file.
func (c Config) ResolvePrompts() (PromptsConfig, error) {
	var out PromptsConfig
	var err error
	if out.Full, err = LoadPrompt(c.Prompts.Full, c.dir); err != nil {
		return out, fmt.Errorf("prompts.full: %w", err)
	}
	if out.Reduced, err = LoadPrompt(c.Prompts.Reduced, c.dir); err != nil {
		return out, fmt.Errorf("prompts.reduced: %w", err)
	}
	if out.Minimal, err = LoadPrompt(c.Prompts.Minimal, c.dir); err != nil {
		return out, fmt.Errorf("prompts.minimal: %w", err)
	}
	return out, nil
}

// Duration is a time.Duration written as a Go duration string ("15s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}
