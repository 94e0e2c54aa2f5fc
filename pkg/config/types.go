package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Watch    WatchConfig    `yaml:"watch"`
	Resolver ResolverConfig `yaml:"resolver"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	ERP      ERPConfig      `yaml:"erp"`
	AI       AIConfig       `yaml:"ai"`
	Summary  SummaryConfig  `yaml:"summary"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StorageConfig holds local storage paths.
type StorageConfig struct {
	// DBPath is the root for the action journal and state dirs.
	DBPath string `yaml:"db_path"`
	// MessagesDB is the bridge's sqlite message log.
	MessagesDB string `yaml:"messages_db"`
}

// WatchConfig drives the tag watcher poll loop.
type WatchConfig struct {
	AITag          string   `yaml:"ai_tag"`
	TaskTag        string   `yaml:"task_tag"`
	PollInterval   Duration `yaml:"poll_interval"`
	DefaultContext int      `yaml:"default_context"`
	ContextMin     int      `yaml:"context_min"`
	ContextMax     int      `yaml:"context_max"`
	InteractionTTL Duration `yaml:"interaction_ttl"`
	// ConfirmAI and ConfirmTasks decide, per tag kind, whether a tagged
	// message opens a confirmation interaction or acts immediately.
	ConfirmAI    bool `yaml:"confirm_ai"`
	ConfirmTasks bool `yaml:"confirm_tasks"`
}

// ResolverConfig drives fuzzy identity resolution and disambiguation.
type ResolverConfig struct {
	Threshold       int      `yaml:"threshold"`
	MaxSuggestions  int      `yaml:"max_suggestions"`
	SubstringBonus  int      `yaml:"substring_bonus"`
	Timeout         Duration `yaml:"timeout"`
	DefaultAssignee string   `yaml:"default_assignee"`
	// AdminChat/AdminSender form the correlation key disambiguation
	// prompts are sent to and replies are read from.
	AdminChat   string `yaml:"admin_chat"`
	AdminSender string `yaml:"admin_sender"`
	AutoResolve *bool  `yaml:"auto_resolve"`
}

// BridgeConfig holds the outbound send endpoint and its rate limit.
type BridgeConfig struct {
	SendURL   string `yaml:"send_url"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// ERPConfig holds the record-creation backend address. Credentials come
// from the environment only (CHATMON_ERP_API_KEY / CHATMON_ERP_API_SECRET).
type ERPConfig struct {
	URL string `yaml:"url"`
}

// AIConfig holds the completion API settings. The API key comes from the
// environment only (CHATMON_AI_API_KEY).
type AIConfig struct {
	URL       string `yaml:"url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// SummaryConfig drives the scheduled daily digest.
type SummaryConfig struct {
	Enabled bool     `yaml:"enabled"`
	Cron    string   `yaml:"cron"`
	Chats   []string `yaml:"chats"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// MaxFileSize bounds the file sink before rotation (e.g. "10MB").
	MaxFileSize SizeBytes `yaml:"max_file_size"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "10MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "10s" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// OrDefault returns the parsed duration or def when unset.
func (d Duration) OrDefault(def time.Duration) time.Duration {
	if time.Duration(d) <= 0 {
		return def
	}
	return time.Duration(d)
}
