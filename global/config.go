package global

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // 空 = 不校验 websocket Origin
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Schema   string `mapstructure:"schema"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type NatsConfig struct {
	Servers       []string      `mapstructure:"servers"`
	Name          string        `mapstructure:"name"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type BusConfig struct {
	Driver string `mapstructure:"driver"` // redis | nats | local
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres | memory
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Alg    string `mapstructure:"alg"`
}

type PresenceConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	ReconcileEvery time.Duration `mapstructure:"reconcile_every"` // 0 = 交给外部 cron
	ScanCount      int64         `mapstructure:"scan_count"`
}

type ListenerConfig struct {
	MaxRetries  uint64        `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type SessionConfig struct {
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	PongWait    time.Duration `mapstructure:"pong_wait"`
	WriteWait   time.Duration `mapstructure:"write_wait"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`
	MaxRetries  uint64        `mapstructure:"max_retries"`
}

type MediaConfig struct {
	Root string `mapstructure:"root"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	NodeID   int64          `mapstructure:"node_id"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Nats     NatsConfig     `mapstructure:"nats"`
	Bus      BusConfig      `mapstructure:"bus"`
	Storage  StorageConfig  `mapstructure:"storage"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Presence PresenceConfig `mapstructure:"presence"`
	Listener ListenerConfig `mapstructure:"listener"`
	Session  SessionConfig  `mapstructure:"session"`
	Media    MediaConfig    `mapstructure:"media"`
	Log      LogConfig      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", 1)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("postgres.schema", "chatwave")
	v.SetDefault("postgres.max_conns", 20)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.name", "chatwave")
	v.SetDefault("nats.reconnect_wait", 500*time.Millisecond)
	v.SetDefault("bus.driver", "redis")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("presence.ttl", 24*time.Hour)
	v.SetDefault("presence.reconcile_every", time.Duration(0))
	v.SetDefault("presence.scan_count", 500)
	v.SetDefault("listener.max_retries", 10)
	v.SetDefault("listener.base_backoff", 200*time.Millisecond)
	v.SetDefault("listener.max_backoff", 30*time.Second)
	v.SetDefault("session.ping_period", 30*time.Second)
	v.SetDefault("session.pong_wait", 60*time.Second)
	v.SetDefault("session.write_wait", 5*time.Second)
	v.SetDefault("session.auth_timeout", 10*time.Second)
	v.SetDefault("session.max_retries", 5)
	v.SetDefault("media.root", "media")
	v.SetDefault("log.level", "info")
}

// LoadConfig reads chatwave.yaml (or path) and CHATWAVE_* environment overrides.
// A missing config file is not an error, defaults and env still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chatwave")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CHATWAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !asNotFound(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func asNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	nf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

func (c *Config) Validate() error {
	switch c.Bus.Driver {
	case "redis", "nats", "local":
	default:
		return fmt.Errorf("unknown bus driver %q", c.Bus.Driver)
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is required for storage driver postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Presence.TTL <= 0 {
		return fmt.Errorf("presence.ttl must be positive")
	}
	return nil
}
