// Package config loads the evalrun configuration from YAML and EVALRUN_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-evalrun/internal/dispatch"
	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	"github.com/ahrav/go-evalrun/internal/mcp"
	"github.com/ahrav/go-evalrun/internal/metrics"
	"github.com/ahrav/go-evalrun/internal/queue"
	"github.com/ahrav/go-evalrun/internal/store"
	"github.com/ahrav/go-evalrun/internal/worker"
	"github.com/ahrav/go-evalrun/pkg/events"
)

// Defaults.
const (
	DefaultStoreDriver = "sqlite"
	DefaultStoreDSN    = "evalrun.db"
	DefaultRedisAddr   = "localhost:6379"

	DefaultEventSink   = SinkLog
	DefaultEventMaxLen = 10000

	DefaultTemporalHostPort  = "localhost:7233"
	DefaultTemporalNamespace = "default"
	DefaultTemporalTaskQueue = "evalrun-reconcile"
)

// Event sinks.
const (
	SinkNone  = "none"
	SinkLog   = "log"
	SinkRedis = "redis"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EVALRUN_"

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete evalrun configuration. The generation client
// settings sit at the top level of the document.
type Config struct {
	configuration.Config `yaml:",inline"`

	Store    store.Config        `yaml:"store"`
	Queue    queue.Config        `yaml:"queue"`
	Worker   worker.Config       `yaml:"worker"`
	Dispatch dispatch.Config     `yaml:"dispatch"`
	MCP      mcp.Config          `yaml:"mcp"`
	Judge    metrics.JudgeConfig `yaml:"judge"`
	Events   EventsConfig        `yaml:"events"`
	Temporal TemporalConfig      `yaml:"temporal"`
}

// EventsConfig selects where domain events go. The redis sink shares the
// queue's Redis connection settings.
type EventsConfig struct {
	Sink   string `yaml:"sink" validate:"required,oneof=none log redis"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len" validate:"gte=0"`
}

// TemporalConfig locates the Temporal frontend used by the reconcile worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" validate:"required"`
	Namespace string `yaml:"namespace" validate:"required"`
	TaskQueue string `yaml:"task_queue" validate:"required"`
}

// DefaultConfig returns a configuration that runs everything in process
// against a local sqlite file.
func DefaultConfig() *Config {
	return &Config{
		Config: *configuration.DefaultConfig(),
		Store: store.Config{
			Driver:      DefaultStoreDriver,
			DSN:         DefaultStoreDSN,
			LogLevel:    "warn",
			AutoMigrate: true,
		},
		Queue: queue.Config{
			Backend: queue.BackendMemory,
			Redis:   queue.RedisConfig{Addr: DefaultRedisAddr},
		},
		Worker:   worker.DefaultConfig(),
		Dispatch: dispatch.DefaultConfig(),
		MCP: mcp.Config{
			Timeout:      mcp.DefaultTimeout,
			RetryMax:     mcp.DefaultRetryMax,
			RetryWaitMin: mcp.DefaultRetryWaitMin,
			RetryWaitMax: mcp.DefaultRetryWaitMax,
		},
		Judge: metrics.DefaultJudgeConfig(),
		Events: EventsConfig{
			Sink:   DefaultEventSink,
			Stream: events.DefaultStream,
			MaxLen: DefaultEventMaxLen,
		},
		Temporal: TemporalConfig{
			HostPort:  DefaultTemporalHostPort,
			Namespace: DefaultTemporalNamespace,
			TaskQueue: DefaultTemporalTaskQueue,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies the
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-section requirements the
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	needsRedis := c.Queue.Backend == queue.BackendRedis || c.Events.Sink == SinkRedis
	if needsRedis && c.Queue.Redis.Addr == "" {
		return fmt.Errorf("%w: queue.redis.addr is required by the redis queue and event sink", ErrInvalidConfig)
	}
	return nil
}

type override struct {
	key string
	set func(c *Config, v string) error
}

// overrides lists the supported environment variables without EnvPrefix.
var overrides = []override{
	{"STORE_DRIVER", func(c *Config, v string) error { c.Store.Driver = v; return nil }},
	{"STORE_DSN", func(c *Config, v string) error { c.Store.DSN = v; return nil }},
	{"QUEUE_BACKEND", func(c *Config, v string) error { c.Queue.Backend = v; return nil }},
	{"REDIS_ADDR", func(c *Config, v string) error { c.Queue.Redis.Addr = v; return nil }},
	{"REDIS_PASSWORD", func(c *Config, v string) error { c.Queue.Redis.Password = v; return nil }},
	{"QUEUE_KEY", func(c *Config, v string) error { c.Queue.Redis.Key = v; return nil }},
	{"CONCURRENCY", intOverride(func(c *Config) *int { return &c.Worker.Concurrency })},
	{"TASK_TIMEOUT", durationOverride(func(c *Config) *time.Duration { return &c.Worker.TaskTimeout })},
	{"MAX_STEPS", intOverride(func(c *Config) *int { return &c.Worker.ToolLoop.MaxSteps })},
	{"MCP_URL", func(c *Config, v string) error { c.MCP.URL = v; return nil }},
	{"JUDGE_PROVIDER", func(c *Config, v string) error { c.Judge.Provider = v; return nil }},
	{"JUDGE_MODEL", func(c *Config, v string) error { c.Judge.Model = v; return nil }},
	{"EVENT_SINK", func(c *Config, v string) error { c.Events.Sink = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Observability.LogLevel = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Observability.LogFormat = v; return nil }},
	{"TEMPORAL_HOST_PORT", func(c *Config, v string) error { c.Temporal.HostPort = v; return nil }},
	{"TEMPORAL_NAMESPACE", func(c *Config, v string) error { c.Temporal.Namespace = v; return nil }},
	{"TEMPORAL_TASK_QUEUE", func(c *Config, v string) error { c.Temporal.TaskQueue = v; return nil }},
}

func intOverride(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func durationOverride(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.key)
		if !ok {
			continue
		}
		if err := o.set(c, v); err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, EnvPrefix, o.key, err)
		}
	}
	return nil
}
