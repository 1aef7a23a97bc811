package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures plant topology and delivery tuning. Everything has a
// default so the server boots without a config file.
type Config struct {
	// Divisions maps a division name to the line numbers it owns.
	Divisions map[string][]string
	// ForwardRoles maps a problem type to the department role that
	// handles it when a leader forwards the problem.
	ForwardRoles map[string]string
	// PopupCooldown suppresses repeat pop-ups of the same category to
	// the same viewer inside this window.
	PopupCooldown time.Duration
	// ReconcileInterval is the poll period for sessions whose push
	// channel is down.
	ReconcileInterval time.Duration
}

// Default returns the built-in plant topology and tuning.
func Default() *Config {
	return &Config{
		Divisions: map[string][]string{
			"assembly":    {"1", "2"},
			"fabrication": {"3", "4"},
		},
		ForwardRoles: map[string]string{
			"machine":  "maintenance",
			"quality":  "quality",
			"material": "warehouse",
		},
		PopupCooldown:     3 * time.Second,
		ReconcileInterval: 10 * time.Second,
	}
}

// fileConfig is the on-disk shape. Durations are strings ("3s", "1m")
// parsed with time.ParseDuration.
type fileConfig struct {
	Divisions         map[string][]string `yaml:"divisions"`
	ForwardRoles      map[string]string   `yaml:"forward_roles"`
	PopupCooldown     string              `yaml:"popup_cooldown"`
	ReconcileInterval string              `yaml:"reconcile_interval"`
}

// Load reads a YAML config file, layering it over the defaults. A missing
// file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if fc.Divisions != nil {
		cfg.Divisions = fc.Divisions
	}
	if fc.ForwardRoles != nil {
		cfg.ForwardRoles = fc.ForwardRoles
	}
	if fc.PopupCooldown != "" {
		d, err := time.ParseDuration(fc.PopupCooldown)
		if err != nil {
			return nil, fmt.Errorf("config %s: popup_cooldown: %w", path, err)
		}
		cfg.PopupCooldown = d
	}
	if fc.ReconcileInterval != "" {
		d, err := time.ParseDuration(fc.ReconcileInterval)
		if err != nil {
			return nil, fmt.Errorf("config %s: reconcile_interval: %w", path, err)
		}
		cfg.ReconcileInterval = d
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PopupCooldown < 0 {
		return errors.New("popup_cooldown must not be negative")
	}
	if c.ReconcileInterval <= 0 {
		return errors.New("reconcile_interval must be positive")
	}
	seen := map[string]string{}
	for div, lines := range c.Divisions {
		for _, ln := range lines {
			if prev, ok := seen[ln]; ok && prev != div {
				return fmt.Errorf("line %s assigned to both %s and %s", ln, prev, div)
			}
			seen[ln] = div
		}
	}
	return nil
}

// DivisionForLine returns the division owning the given line, or "".
func (c *Config) DivisionForLine(line string) string {
	for div, lines := range c.Divisions {
		for _, ln := range lines {
			if ln == line {
				return div
			}
		}
	}
	return ""
}

// ForwardRoleFor returns the department role that handles the given
// problem type, or "" when the type has no routing.
func (c *Config) ForwardRoleFor(problemType string) string {
	return c.ForwardRoles[problemType]
}
