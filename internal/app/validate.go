package app

import (
	"fmt"

	"chatmon/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("journal path is empty: set --db flag, CHATMON_DB_PATH env, or storage.db_path in config")
	}
	cfg := eff.Config
	if cfg.Storage.MessagesDB == "" {
		return fmt.Errorf("message log path is empty: set --messages-db flag, CHATMON_MESSAGES_DB env, or storage.messages_db in config")
	}
	if t := cfg.Resolver.Threshold; t < 0 || t > 100 {
		return fmt.Errorf("resolver.threshold must be in [0,100], got %d", t)
	}
	min, max := cfg.Watch.ContextMin, cfg.Watch.ContextMax
	if min != 0 && max != 0 && min > max {
		return fmt.Errorf("watch.context_min (%d) exceeds watch.context_max (%d)", min, max)
	}
	if cfg.Bridge.SendURL == "" {
		return fmt.Errorf("bridge.send_url is empty: outbound prompts need the bridge send endpoint")
	}
	return nil
}
