package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 9000
storage:
  db_path: /var/lib/chatmon
  messages_db: /var/lib/bridge/messages.db
watch:
  ai_tag: "#claude"
  task_tag: "#task"
  poll_interval: 15s
  default_context: 5
  context_min: 1
  context_max: 20
  interaction_ttl: 300
  confirm_ai: true
resolver:
  threshold: 80
  max_suggestions: 5
  timeout: 5m
  admin_chat: admin@g.us
bridge:
  send_url: http://localhost:8080/api/send
  rate_limit:
    rps: 0.5
    burst: 2
erp:
  url: https://erp.example.com
ai:
  model: claude-3-5-sonnet-latest
  max_tokens: 1000
summary:
  enabled: true
  cron: "0 18 * * *"
  chats: [admin@g.us]
logging:
  level: debug
  max_file_size: 10MB
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9000" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.Watch.PollInterval.Duration() != 15*time.Second {
		t.Fatalf("poll_interval = %v", cfg.Watch.PollInterval.Duration())
	}
	// bare numbers are seconds
	if cfg.Watch.InteractionTTL.Duration() != 300*time.Second {
		t.Fatalf("interaction_ttl = %v", cfg.Watch.InteractionTTL.Duration())
	}
	if cfg.Resolver.Timeout.Duration() != 5*time.Minute {
		t.Fatalf("timeout = %v", cfg.Resolver.Timeout.Duration())
	}
	if cfg.Logging.MaxFileSize.Int64() != 10*1000*1000 {
		t.Fatalf("max_file_size = %d", cfg.Logging.MaxFileSize.Int64())
	}
	if cfg.Bridge.RateLimit.RPS != 0.5 || cfg.Bridge.RateLimit.Burst != 2 {
		t.Fatalf("rate limit = %+v", cfg.Bridge.RateLimit)
	}
	if len(cfg.Summary.Chats) != 1 || cfg.Summary.Chats[0] != "admin@g.us" {
		t.Fatalf("summary chats = %v", cfg.Summary.Chats)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "watch:\n  poll_interval: soon\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for a bad duration")
	}
}

func TestAddr_Defaults(t *testing.T) {
	var cfg Config
	if cfg.Addr() != "0.0.0.0:8090" {
		t.Fatalf("default addr = %q", cfg.Addr())
	}
}

func TestDuration_OrDefault(t *testing.T) {
	var d Duration
	if d.OrDefault(10*time.Second) != 10*time.Second {
		t.Fatalf("zero duration should fall back")
	}
	d = Duration(time.Minute)
	if d.OrDefault(10*time.Second) != time.Minute {
		t.Fatalf("set duration must win")
	}
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("CHATMON_ADDR", "127.0.0.1:9001")
	t.Setenv("CHATMON_MESSAGES_DB", "/tmp/messages.db")
	t.Setenv("CHATMON_AI_TAG", "#bot")
	t.Setenv("CHATMON_POLL_INTERVAL", "30s")
	t.Setenv("CHATMON_INTERACTION_TTL", "120")
	t.Setenv("CHATMON_CONFIRM_AI", "true")
	t.Setenv("CHATMON_FUZZY_THRESHOLD", "75")
	t.Setenv("CHATMON_AUTO_RESOLVE", "false")
	t.Setenv("CHATMON_SUMMARY_CHATS", "a@g.us, b@g.us")
	t.Setenv("CHATMON_AI_API_KEY", "sk-test")
	t.Setenv("CHATMON_ERP_API_KEY", "erp-key")
	t.Setenv("CHATMON_ERP_API_SECRET", "erp-secret")

	cfg, creds, used := ParseConfigEnvs()
	if !used {
		t.Fatalf("env vars should be reported as used")
	}
	if cfg.Server.Address != "127.0.0.1" || cfg.Server.Port != 9001 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Watch.AITag != "#bot" {
		t.Fatalf("ai tag = %q", cfg.Watch.AITag)
	}
	if cfg.Watch.PollInterval.Duration() != 30*time.Second {
		t.Fatalf("poll interval = %v", cfg.Watch.PollInterval.Duration())
	}
	if cfg.Watch.InteractionTTL.Duration() != 2*time.Minute {
		t.Fatalf("interaction ttl = %v", cfg.Watch.InteractionTTL.Duration())
	}
	if !cfg.Watch.ConfirmAI {
		t.Fatalf("confirm_ai should be true")
	}
	if cfg.Resolver.Threshold != 75 {
		t.Fatalf("threshold = %d", cfg.Resolver.Threshold)
	}
	if cfg.Resolver.AutoResolve == nil || *cfg.Resolver.AutoResolve {
		t.Fatalf("auto_resolve = %v", cfg.Resolver.AutoResolve)
	}
	if len(cfg.Summary.Chats) != 2 || cfg.Summary.Chats[1] != "b@g.us" {
		t.Fatalf("summary chats = %v", cfg.Summary.Chats)
	}

	// secrets land in Credentials, never on the config
	if creds.AIKey != "sk-test" || creds.ERPKey != "erp-key" || creds.ERPSecret != "erp-secret" {
		t.Fatalf("credentials = %+v", creds)
	}
}

func TestLoadEffectiveConfig_ExplicitConfigFlag(t *testing.T) {
	flags := Flags{Config: "/nonexistent.yaml", Set: map[string]bool{"config": true}}
	if _, err := LoadEffectiveConfig(flags, &Config{}, false, &Config{}); err == nil {
		t.Fatalf("explicit --config with a missing file must fail")
	}

	fileCfg := &Config{}
	fileCfg.Server.Port = 9100
	res, err := LoadEffectiveConfig(Flags{Set: map[string]bool{"config": true}}, fileCfg, true, &Config{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Source != "config" || res.Addr != "0.0.0.0:9100" {
		t.Fatalf("got source=%q addr=%q", res.Source, res.Addr)
	}
}

func TestLoadEffectiveConfig_FlagsOverlay(t *testing.T) {
	flags := Flags{
		Addr:  "127.0.0.1:9200",
		MsgDB: "/tmp/messages.db",
		Set:   map[string]bool{"addr": true, "messages-db": true},
	}
	fileCfg := &Config{}
	fileCfg.Storage.DBPath = "/var/lib/chatmon"
	res, err := LoadEffectiveConfig(flags, fileCfg, true, &Config{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Source != "flags" {
		t.Fatalf("source = %q", res.Source)
	}
	if res.Addr != "127.0.0.1:9200" {
		t.Fatalf("addr = %q", res.Addr)
	}
	if res.Config.Storage.MessagesDB != "/tmp/messages.db" {
		t.Fatalf("messages db = %q", res.Config.Storage.MessagesDB)
	}
	if res.DBPath != "/var/lib/chatmon" {
		t.Fatalf("db path from file should survive, got %q", res.DBPath)
	}
}

func TestLoadEffectiveConfig_EnvFallback(t *testing.T) {
	envCfg := &Config{}
	envCfg.Storage.DBPath = "/env/chatmon"
	res, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, &Config{}, false, envCfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Source != "env" || res.DBPath != "/env/chatmon" {
		t.Fatalf("got source=%q dbpath=%q", res.Source, res.DBPath)
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := ResolveConfigPath("/flag.yaml", true); got != "/flag.yaml" {
		t.Fatalf("explicit flag must win, got %q", got)
	}
	t.Setenv("CHATMON_CONFIG", "/env.yaml")
	if got := ResolveConfigPath("/default.yaml", false); got != "/env.yaml" {
		t.Fatalf("env should win over default, got %q", got)
	}
}
