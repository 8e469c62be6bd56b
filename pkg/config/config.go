package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk YAML configuration. Env vars override file values
// and explicit command-line flags override both (handled in LoadEffective
// and main respectively).
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Identity struct {
		// UserID is the authenticated user's id; the transport client id is
		// only a fallback alias.
		UserID string `yaml:"user_id"`
		Name   string `yaml:"name"`
		Avatar string `yaml:"avatar"`
	} `yaml:"identity"`
	Session struct {
		// MaxMessages bounds the retained ledger per session; oldest
		// messages are trimmed past this limit.
		MaxMessages    int `yaml:"max_messages"`
		TypingTTLMs    int `yaml:"typing_ttl_ms"`
		TypingMinTTLMs int `yaml:"typing_min_ttl_ms"`
	} `yaml:"session"`
	Transport struct {
		// Kind selects the realtime backend: "websocket", "redis" or "memory".
		Kind    string `yaml:"kind"`
		URL     string `yaml:"url"`
		Channel string `yaml:"channel"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"transport"`
	Retention struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
		// MaxIdleAge is a Go duration string; sessions with no activity for
		// longer than this are pruned when retention is enabled.
		MaxIdleAge string `yaml:"max_idle_age"`
	} `yaml:"retention"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
}

// Addr returns the listen address in host:port form. An Address already
// carrying a port (e.g. from the -addr flag) is used verbatim.
func (c *Config) Addr() string {
	if strings.Contains(c.Server.Address, ":") {
		return c.Server.Address
	}
	port := c.Server.Port
	if port == 0 {
		port = 8082
	}
	return fmt.Sprintf("%s:%d", c.Server.Address, port)
}

// MaxIdleAge parses the configured retention idle age, returning zero when
// unset or unparsable.
func (c *Config) MaxIdleAge() time.Duration {
	if c.Retention.MaxIdleAge == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Retention.MaxIdleAge)
	if err != nil {
		return 0
	}
	return d
}

// Default returns the built-in defaults applied before file/env merging.
func Default() Config {
	var c Config
	c.Server.Port = 8082
	c.Storage.DBPath = "./chatsync-data"
	c.Session.MaxMessages = 200
	c.Session.TypingTTLMs = 6000
	c.Session.TypingMinTTLMs = 1500
	c.Transport.Kind = "memory"
	c.Transport.Channel = "chat.events"
	c.Transport.Redis.Addr = "127.0.0.1:6379"
	c.RateLimit.RPS = 20
	c.RateLimit.Burst = 40
	return c
}

// LoadEffective loads the config file at path (if present), then applies
// CHATSYNC_* env overrides. A missing file is not an error; a malformed
// file is.
func LoadEffective(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("CHATSYNC_ADDR"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("CHATSYNC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("CHATSYNC_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("CHATSYNC_USER_ID"); v != "" {
		c.Identity.UserID = v
	}
	if v := os.Getenv("CHATSYNC_USER_NAME"); v != "" {
		c.Identity.Name = v
	}
	if v := os.Getenv("CHATSYNC_TRANSPORT"); v != "" {
		c.Transport.Kind = v
	}
	if v := os.Getenv("CHATSYNC_TRANSPORT_URL"); v != "" {
		c.Transport.URL = v
	}
	if v := os.Getenv("CHATSYNC_CHANNEL"); v != "" {
		c.Transport.Channel = v
	}
	if v := os.Getenv("CHATSYNC_REDIS_ADDR"); v != "" {
		c.Transport.Redis.Addr = v
	}
	if v := os.Getenv("CHATSYNC_REDIS_PASSWORD"); v != "" {
		c.Transport.Redis.Password = v
	}
	if v := os.Getenv("CHATSYNC_MAX_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Session.MaxMessages = n
		}
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ParseCommandFlags parses the standard command-line flags and reports which
// were explicitly set, so callers can let flags win over file/env values.
func ParseCommandFlags() (addr, db, cfgPath string, set map[string]bool) {
	addrFlag := flag.String("addr", "", "listen address (host:port)")
	dbFlag := flag.String("db", "", "pebble database path")
	cfgFlag := flag.String("config", "", "path to config YAML")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, set
}

// ResolveConfigPath picks the config file path: explicit flag wins, then
// CHATSYNC_CONFIG, then ./chatsync.yaml.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if v := os.Getenv("CHATSYNC_CONFIG"); v != "" {
		return v
	}
	return "chatsync.yaml"
}
