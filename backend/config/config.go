package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: AUTOJS_REDIS_ADDR sets redis.addr.
const EnvPrefix = "AUTOJS"

type Server struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DB struct {
	Driver string // mysql or sqlite
	Host   string
	Port   int
	User   string
	Pass   string
	Name   string
	Path   string // sqlite file
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	URL      string
	// Memory runs the TTL store in-process. Single-node development only.
	Memory bool
}

type JWT struct {
	Secret string
	Issuer string
	ExpMin int
}

type Dispatch struct {
	MaxInstructionsPerPoll int
	DefaultPollTimeout     time.Duration
	MaxPollTimeout         time.Duration
	TimestampWindow        time.Duration
	PromoteInterval        time.Duration
	OfflineCheckInterval   time.Duration
	ReapInterval           time.Duration
	Workers                int
	GroupHistory           int64
	StalePending           time.Duration
}

type Log struct {
	Level  string
	Format string // console or json
}

type Admin struct {
	Username string
	Password string
}

type Config struct {
	Server   Server
	DB       DB
	Redis    Redis
	JWT      JWT
	Dispatch Dispatch
	Log      Log
	Admin    Admin
}

func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9400)
	v.SetDefault("server.read_timeout", 15*time.Second)
	// must outlive the longest heartbeat hold
	v.SetDefault("server.write_timeout", 75*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("db.driver", "mysql")
	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "root")
	v.SetDefault("db.pass", "")
	v.SetDefault("db.name", "autojs_hub")
	v.SetDefault("db.path", "autojs_hub.db")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.memory", false)

	v.SetDefault("jwt.secret", "dev-secret")
	v.SetDefault("jwt.issuer", "autojs-hub")
	v.SetDefault("jwt.exp_min", 60)

	v.SetDefault("dispatch.max_instructions_per_poll", 10)
	v.SetDefault("dispatch.default_poll_timeout", 30*time.Second)
	v.SetDefault("dispatch.max_poll_timeout", 60*time.Second)
	v.SetDefault("dispatch.timestamp_window", 300*time.Second)
	v.SetDefault("dispatch.promote_interval", 5*time.Second)
	v.SetDefault("dispatch.offline_check_interval", 30*time.Second)
	v.SetDefault("dispatch.reap_interval", 60*time.Second)
	v.SetDefault("dispatch.workers", 2)
	v.SetDefault("dispatch.group_history", 100)
	v.SetDefault("dispatch.stale_pending", 2*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "admin123")
	return v
}

func decode(v *viper.Viper) *Config {
	cfg := &Config{
		Server: Server{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		DB: DB{
			Driver: v.GetString("db.driver"),
			Host:   v.GetString("db.host"),
			Port:   v.GetInt("db.port"),
			User:   v.GetString("db.user"),
			Pass:   v.GetString("db.pass"),
			Name:   v.GetString("db.name"),
			Path:   v.GetString("db.path"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			URL:      v.GetString("redis.url"),
			Memory:   v.GetBool("redis.memory"),
		},
		JWT: JWT{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
			ExpMin: v.GetInt("jwt.exp_min"),
		},
		Dispatch: Dispatch{
			MaxInstructionsPerPoll: v.GetInt("dispatch.max_instructions_per_poll"),
			DefaultPollTimeout:     v.GetDuration("dispatch.default_poll_timeout"),
			MaxPollTimeout:         v.GetDuration("dispatch.max_poll_timeout"),
			TimestampWindow:        v.GetDuration("dispatch.timestamp_window"),
			PromoteInterval:        v.GetDuration("dispatch.promote_interval"),
			OfflineCheckInterval:   v.GetDuration("dispatch.offline_check_interval"),
			ReapInterval:           v.GetDuration("dispatch.reap_interval"),
			Workers:                v.GetInt("dispatch.workers"),
			GroupHistory:           v.GetInt64("dispatch.group_history"),
			StalePending:           v.GetDuration("dispatch.stale_pending"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Admin: Admin{
			Username: v.GetString("admin.username"),
			Password: v.GetString("admin.password"),
		},
	}
	if cfg.JWT.ExpMin <= 0 {
		cfg.JWT.ExpMin = 60
	}
	return cfg
}

// Load reads the YAML file at path (skipped when path is empty), then applies
// AUTOJS_* environment overrides. A .env file in the working directory is
// loaded first and never overrides variables already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := decode(v)
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	return cfg, nil
}

// Watch calls onChange with the re-read configuration whenever the file at
// path is written. Only settings that are safe to change at runtime, such as
// the log level, should be applied by the callback.
func Watch(path string, onChange func(*Config)) error {
	if path == "" {
		return nil
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) {
			onChange(decode(v))
		}
	})
	v.WatchConfig()
	return nil
}
