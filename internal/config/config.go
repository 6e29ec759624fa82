// Package config loads the project configuration read by the CLI and
// threaded into the pipeline and runtime wiring.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the loqui.yaml schema.
type Config struct {
	// Package name of emitted files. Defaults to "main".
	Package string `yaml:"package"`
	// DebugChecks also emits documented-assumption guards.
	DebugChecks bool `yaml:"debug_checks"`
	// DefaultBias resolves unspecified set/map bias declarations:
	// "add-wins" (default) or "remove-wins".
	DefaultBias string `yaml:"default_bias"`

	Journal JournalConfig `yaml:"journal"`
	Gossip  GossipConfig  `yaml:"gossip"`
}

// JournalConfig locates persisted state.
type JournalConfig struct {
	// Dir holds journal files mounted with relative paths.
	Dir string `yaml:"dir"`
}

// GossipConfig wires the replication transport.
type GossipConfig struct {
	// Listen is the QUIC listen address; empty keeps topics process-local.
	Listen string `yaml:"listen"`
	// Peers are the static peer addresses gossiped to.
	Peers []string `yaml:"peers"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Package:     "main",
		DefaultBias: "add-wins",
		Journal:     JournalConfig{Dir: "."},
	}
}

// Load reads path, layering it over Default. A missing file is not an
// error; a malformed or invalid one is.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values outside the schema.
func (c Config) Validate() error {
	switch c.DefaultBias {
	case "", "add-wins", "remove-wins":
	default:
		return fmt.Errorf("default_bias %q: want add-wins or remove-wins", c.DefaultBias)
	}
	if c.Package == "" {
		return errors.New("package must not be empty")
	}
	if len(c.Gossip.Peers) > 0 && c.Gossip.Listen == "" {
		return errors.New("gossip.peers set without gossip.listen")
	}
	return nil
}
