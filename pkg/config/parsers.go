package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	MsgDB  string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult holds the result of LoadEffectiveConfig.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8090", "HTTP listen address")
	dbPtr := flag.String("db", "./.chatmon", "journal/state path")
	msgPtr := flag.String("messages-db", "", "bridge sqlite message log path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, MsgDB: *msgPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, a boolean indicating whether the file was
// present, and an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads environment variables into a fresh Config and
// reports whether any were used. This function does not mutate any caller
// provided config. Secrets (AI key, ERP key/secret) are returned in
// Credentials and never stored on Config.
func ParseConfigEnvs() (*Config, Credentials, bool) {
	envCfg := &Config{}
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			envUsed = true
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				envUsed = true
				*dst = n
			}
		}
	}
	setDur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				envUsed = true
				*dst = Duration(td)
			} else if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				envUsed = true
				*dst = Duration(time.Duration(secs) * time.Second)
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			envUsed = true
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "yes":
				*dst = true
			default:
				*dst = false
			}
		}
	}

	// Server address/port
	if v := os.Getenv("CHATMON_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	}

	setStr("CHATMON_DB_PATH", &envCfg.Storage.DBPath)
	setStr("CHATMON_MESSAGES_DB", &envCfg.Storage.MessagesDB)

	setStr("CHATMON_AI_TAG", &envCfg.Watch.AITag)
	setStr("CHATMON_TASK_TAG", &envCfg.Watch.TaskTag)
	setDur("CHATMON_POLL_INTERVAL", &envCfg.Watch.PollInterval)
	setInt("CHATMON_DEFAULT_CONTEXT", &envCfg.Watch.DefaultContext)
	setInt("CHATMON_CONTEXT_MIN", &envCfg.Watch.ContextMin)
	setInt("CHATMON_CONTEXT_MAX", &envCfg.Watch.ContextMax)
	setDur("CHATMON_INTERACTION_TTL", &envCfg.Watch.InteractionTTL)
	setBool("CHATMON_CONFIRM_AI", &envCfg.Watch.ConfirmAI)
	setBool("CHATMON_CONFIRM_TASKS", &envCfg.Watch.ConfirmTasks)

	setInt("CHATMON_FUZZY_THRESHOLD", &envCfg.Resolver.Threshold)
	setInt("CHATMON_MAX_SUGGESTIONS", &envCfg.Resolver.MaxSuggestions)
	setInt("CHATMON_SUBSTRING_BONUS", &envCfg.Resolver.SubstringBonus)
	setDur("CHATMON_RESOLUTION_TIMEOUT", &envCfg.Resolver.Timeout)
	setStr("CHATMON_DEFAULT_ASSIGNEE", &envCfg.Resolver.DefaultAssignee)
	setStr("CHATMON_ADMIN_CHAT", &envCfg.Resolver.AdminChat)
	setStr("CHATMON_ADMIN_SENDER", &envCfg.Resolver.AdminSender)
	if v := os.Getenv("CHATMON_AUTO_RESOLVE"); v != "" {
		envUsed = true
		b := false
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			b = true
		}
		envCfg.Resolver.AutoResolve = &b
	}

	setStr("CHATMON_SEND_URL", &envCfg.Bridge.SendURL)
	if v := os.Getenv("CHATMON_SEND_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			envCfg.Bridge.RateLimit.RPS = f
		}
	}
	setInt("CHATMON_SEND_BURST", &envCfg.Bridge.RateLimit.Burst)

	setStr("CHATMON_ERP_URL", &envCfg.ERP.URL)
	setStr("CHATMON_AI_URL", &envCfg.AI.URL)
	setStr("CHATMON_AI_MODEL", &envCfg.AI.Model)
	setInt("CHATMON_AI_MAX_TOKENS", &envCfg.AI.MaxTokens)

	setBool("CHATMON_SUMMARY_ENABLED", &envCfg.Summary.Enabled)
	setStr("CHATMON_SUMMARY_CRON", &envCfg.Summary.Cron)
	if v := os.Getenv("CHATMON_SUMMARY_CHATS"); v != "" {
		envUsed = true
		envCfg.Summary.Chats = parseList(v)
	}

	setStr("CHATMON_LOG_LEVEL", &envCfg.Logging.Level)

	creds := Credentials{
		AIKey:     os.Getenv("CHATMON_AI_API_KEY"),
		ERPKey:    os.Getenv("CHATMON_ERP_API_KEY"),
		ERPSecret: os.Getenv("CHATMON_ERP_API_SECRET"),
	}
	return envCfg, creds, envUsed
}

// LoadEffectiveConfig decides which single source to use (flags, config
// file, or env) and returns the effective config plus resolved addr and
// dbPath. It honors an explicit flags.Config (user provided --config) by
// using the config file only; otherwise it uses flags if any flags are
// set; else if a config file exists it uses that; otherwise env.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	// If user explicitly passed --config, require the file to exist and use it.
	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Storage.DBPath
		res.Source = "config"
		return res, nil
	}

	// If user passed any non-config flags, use flags layered over env/file.
	if flags.Set["addr"] || flags.Set["db"] || flags.Set["messages-db"] {
		out := fileCfg
		if !fileExists {
			out = envCfg
		}
		addr := flags.Addr
		if !flags.Set["addr"] {
			addr = out.Addr()
		}
		if flags.Set["db"] {
			out.Storage.DBPath = flags.DB
		}
		if flags.Set["messages-db"] {
			out.Storage.MessagesDB = flags.MsgDB
		}
		if h, p, err := net.SplitHostPort(addr); err == nil {
			out.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				out.Server.Port = pi
			}
		}
		res.Config = out
		res.Addr = addr
		res.DBPath = out.Storage.DBPath
		res.Source = "flags"
		return res, nil
	}

	// No explicit flags: prefer file config if present, otherwise env.
	if fileExists {
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Storage.DBPath
		res.Source = "config"
		return res, nil
	}
	res.Config = envCfg
	res.Addr = envCfg.Addr()
	res.DBPath = envCfg.Storage.DBPath
	res.Source = "env"
	return res, nil
}
