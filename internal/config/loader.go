package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"vramd/internal/common/fsutil"
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
// Values left unset stay zero; call ApplyDefaults afterwards.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	cfg.dir = filepath.Dir(p)
	return cfg, nil
}

// LoadPrompt resolves a prompt value. A leading '@' names a file, relative
// to base when not absolute; anything else is the prompt text itself.
func LoadPrompt(value, base string) (string, error) {
	if !strings.HasPrefix(value, "@") {
		return value, nil
	}
	p, err := fsutil.Resolve(strings.TrimPrefix(value, "@"), base)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("prompt file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
