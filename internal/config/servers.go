package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig describes one MCP server in the servers.yaml manifest.
type ServerConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // stdio, sse, http

	// stdio
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// sse / http
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	// session tuning
	CallTimeout string `yaml:"call_timeout,omitempty"` // Go duration, e.g. "30s"
	MaxInFlight int    `yaml:"max_in_flight,omitempty"`
}

// serversManifest is the servers.yaml document root.
type serversManifest struct {
	Servers []ServerConfig `yaml:"servers"`
}

// EnvList renders the env map as KEY=VALUE pairs for process spawning.
func (s ServerConfig) EnvList() []string {
	if len(s.Env) == 0 {
		return nil
	}
	env := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// Timeout parses the per-call timeout; zero means the session default.
func (s ServerConfig) Timeout() (time.Duration, error) {
	if s.CallTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.CallTimeout)
	if err != nil {
		return 0, fmt.Errorf("server %s: invalid call_timeout %q: %w", s.Name, s.CallTimeout, err)
	}
	return d, nil
}

// Validate checks one server entry.
func (s ServerConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("server name is required")
	}
	switch s.Transport {
	case "stdio":
		if s.Command == "" {
			return fmt.Errorf("server %s: command is required for stdio transport", s.Name)
		}
	case "sse", "http":
		if s.URL == "" {
			return fmt.Errorf("server %s: url is required for %s transport", s.Name, s.Transport)
		}
	default:
		return fmt.Errorf("server %s: invalid transport %q (must be: stdio, sse, http)", s.Name, s.Transport)
	}
	if s.MaxInFlight < 0 {
		return fmt.Errorf("server %s: max_in_flight cannot be negative", s.Name)
	}
	if _, err := s.Timeout(); err != nil {
		return err
	}
	return nil
}

// LoadServers reads and validates the servers.yaml manifest. A missing
// file yields an empty list.
func LoadServers(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read server manifest: %w", err)
	}

	var manifest serversManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse server manifest: %w", err)
	}

	seen := map[string]bool{}
	for _, srv := range manifest.Servers {
		if err := srv.Validate(); err != nil {
			return nil, err
		}
		if seen[srv.Name] {
			return nil, fmt.Errorf("duplicate server name %q", srv.Name)
		}
		seen[srv.Name] = true
	}
	return manifest.Servers, nil
}
