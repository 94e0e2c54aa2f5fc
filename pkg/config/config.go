package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Credentials holds secrets read from the environment during startup.
// They are never written to config files.
type Credentials struct {
	AIKey     string
	ERPKey    string
	ERPSecret string
}

var (
	runtimeMu sync.RWMutex
	creds     Credentials
)

// SetCredentials stores the canonical runtime credentials.
func SetCredentials(c Credentials) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	creds = c
}

// GetCredentials returns a copy of the runtime credentials.
func GetCredentials() Credentials {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	return creds
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8090
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the environment variable `CHATMON_CONFIG` when the flag was
// not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATMON_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
