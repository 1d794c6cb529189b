// Package config loads engine configuration. Precedence is fixed:
// built-in defaults, then the optional YAML file, then VIVARIUM_*
// environment variables. The zero path is valid; a bare binary runs on
// defaults plus environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vivarium/internal/domain/agent"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Engine    Engine            `yaml:"engine"`
	Decay     agent.DecayTuning `yaml:"decay"`
	Storage   Storage           `yaml:"storage"`
	Server    Server            `yaml:"server"`
	LLM       LLM               `yaml:"llm"`
	Snapshots Snapshots         `yaml:"snapshots"`
	LogLevel  string            `yaml:"log_level"`
}

type Engine struct {
	TickIntervalMs  int    `yaml:"tick_interval_ms"`
	Workers         int    `yaml:"workers"`
	PerJobTimeoutMs int    `yaml:"per_job_timeout_ms"`
	BatchBudgetMs   int    `yaml:"batch_budget_ms"`
	MaxAttempts     int    `yaml:"max_attempts"`
	BackoffMs       int    `yaml:"backoff_ms"`
	Founders        int    `yaml:"founders"`
	WorldSeed       int64  `yaml:"world_seed"`
	WorldWidth      int    `yaml:"world_width"`
	WorldHeight     int    `yaml:"world_height"`
	VisionRadius    int    `yaml:"vision_radius"`
	EventWindow     int    `yaml:"event_window"`
	DefaultBrain    string `yaml:"default_brain"`

	// Offline answers every decision with the heuristic fallback and
	// never calls a backend. Deterministic runs set this.
	Offline bool `yaml:"offline"`
}

type Storage struct {
	// Driver is postgres, sqlite or memory. DSN is the postgres
	// connection string or the sqlite file path (":memory:" works).
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Server struct {
	OpsAddr    string `yaml:"ops_addr"`
	StreamAddr string `yaml:"stream_addr"`
}

type LLM struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

type Snapshots struct {
	Dir string `yaml:"dir"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Engine: Engine{
			TickIntervalMs:  1000,
			Workers:         6,
			PerJobTimeoutMs: 10_000,
			BatchBudgetMs:   30_000,
			MaxAttempts:     3,
			BackoffMs:       250,
			Founders:        6,
			WorldSeed:       1,
			WorldWidth:      24,
			WorldHeight:     24,
			VisionRadius:    6,
			EventWindow:     20,
			DefaultBrain:    string(agent.BrainScripted),
		},
		Decay: agent.DefaultDecayTuning(),
		Storage: Storage{
			Driver: DriverSQLite,
			DSN:    "vivarium.db",
		},
		Server: Server{
			OpsAddr:    ":8080",
			StreamAddr: ":8081",
		},
		// LLM defaults stay zero; the client fills model and endpoint
		// itself and an empty key just marks the backend unavailable.
		Snapshots: Snapshots{
			Dir: "snapshots",
		},
		LogLevel: "info",
	}
}

func (c *Config) applyEnv() {
	strEnv("VIVARIUM_DB_DRIVER", &c.Storage.Driver)
	strEnv("VIVARIUM_DB_DSN", &c.Storage.DSN)
	strEnv("VIVARIUM_OPS_ADDR", &c.Server.OpsAddr)
	strEnv("VIVARIUM_STREAM_ADDR", &c.Server.StreamAddr)
	strEnv("VIVARIUM_DEFAULT_BRAIN", &c.Engine.DefaultBrain)
	strEnv("VIVARIUM_SNAPSHOT_DIR", &c.Snapshots.Dir)
	strEnv("VIVARIUM_LOG_LEVEL", &c.LogLevel)
	strEnv("VIVARIUM_LLM_MODEL", &c.LLM.Model)
	strEnv("VIVARIUM_LLM_BASE_URL", &c.LLM.BaseURL)
	strEnv("ANTHROPIC_API_KEY", &c.LLM.APIKey)

	intEnv("VIVARIUM_TICK_INTERVAL_MS", &c.Engine.TickIntervalMs)
	intEnv("VIVARIUM_WORKERS", &c.Engine.Workers)
	intEnv("VIVARIUM_FOUNDERS", &c.Engine.Founders)
	int64Env("VIVARIUM_WORLD_SEED", &c.Engine.WorldSeed)
	boolEnv("VIVARIUM_OFFLINE", &c.Engine.Offline)
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != DriverMemory && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("storage driver %s requires a dsn", c.Storage.Driver)
	}
	switch agent.Brain(c.Engine.DefaultBrain) {
	case agent.BrainLLM, agent.BrainHeuristic, agent.BrainScripted:
	default:
		return fmt.Errorf("unknown default brain %q", c.Engine.DefaultBrain)
	}
	if c.Engine.TickIntervalMs <= 0 {
		return fmt.Errorf("tick_interval_ms must be positive")
	}
	if c.Engine.WorldWidth <= 0 || c.Engine.WorldHeight <= 0 {
		return fmt.Errorf("world dimensions must be positive")
	}
	if c.Engine.Founders <= 0 {
		return fmt.Errorf("founders must be positive")
	}
	return nil
}

func (e Engine) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalMs) * time.Millisecond
}

func (e Engine) PerJobTimeout() time.Duration {
	return time.Duration(e.PerJobTimeoutMs) * time.Millisecond
}

func (e Engine) BatchBudget() time.Duration {
	return time.Duration(e.BatchBudgetMs) * time.Millisecond
}

func (e Engine) Backoff() time.Duration {
	return time.Duration(e.BackoffMs) * time.Millisecond
}

func (e Engine) Brain() agent.Brain {
	return agent.Brain(e.DefaultBrain)
}

func strEnv(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func intEnv(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func int64Env(key string, dst *int64) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

func boolEnv(key string, dst *bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}
