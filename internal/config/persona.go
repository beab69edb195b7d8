// ABOUTME: Per-agent persona loading from TOML files
// ABOUTME: Holds the system prompt and model endpoint settings for one agent

package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Persona is one agent's character and model binding, kept in its own TOML
// file so prompts can be edited without touching the roster config.
type Persona struct {
	SystemPrompt string `toml:"system_prompt"`
	Model        string `toml:"model"`
	BaseURL      string `toml:"base_url"`

	RequestTimeout time.Duration `toml:"-"`

	// Raw string value for TOML unmarshaling
	RequestTimeoutRaw string `toml:"request_timeout"`
}

// LoadPersona reads a persona TOML file, expanding ${VAR} environment
// variables.
func LoadPersona(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var p Persona
	if _, err := toml.Decode(expanded, &p); err != nil {
		return nil, fmt.Errorf("parsing persona file: %w", err)
	}

	if p.BaseURL == "" {
		p.BaseURL = "http://localhost:11434"
	}
	if p.RequestTimeoutRaw == "" {
		p.RequestTimeoutRaw = "2m"
	}
	p.RequestTimeout, err = time.ParseDuration(p.RequestTimeoutRaw)
	if err != nil {
		return nil, fmt.Errorf("parsing request_timeout %q: %w", p.RequestTimeoutRaw, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating persona: %w", err)
	}

	return &p, nil
}

// Validate checks that required persona fields are present and valid.
func (p *Persona) Validate() error {
	if p.Model == "" {
		return fmt.Errorf("model is required")
	}
	if p.SystemPrompt == "" {
		return fmt.Errorf("system_prompt is required")
	}
	if _, err := url.ParseRequestURI(p.BaseURL); err != nil {
		return fmt.Errorf("base_url %q is not a valid URL: %w", p.BaseURL, err)
	}
	if p.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0")
	}
	return nil
}
