package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aretw0/processengine"
	"github.com/aretw0/processengine/internal/logging"
	"github.com/aretw0/processengine/pkg/adapters/bolt"
	"github.com/aretw0/processengine/pkg/adapters/memory"
	"github.com/aretw0/processengine/pkg/adapters/process"
	"github.com/aretw0/processengine/pkg/adapters/redis"
	"github.com/aretw0/processengine/pkg/persistence/middleware"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when --config is not given. It may be absent.
const DefaultConfigFile = "processengine.yaml"

// Config is the content of processengine.yaml.
type Config struct {
	// Models is the directory holding the process model files.
	Models string `yaml:"models"`
	// Services is the allow-listed process modules file used by service tasks.
	Services          string        `yaml:"services"`
	ExpressionTimeout time.Duration `yaml:"expression_timeout"`
	Log               LogConfig     `yaml:"log"`
	Store             StoreConfig   `yaml:"store"`
	Server            ServerConfig  `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects where flow node instances and joins live.
type StoreConfig struct {
	// Backend is memory, bolt or redis.
	Backend string      `yaml:"backend"`
	Bolt    BoltConfig  `yaml:"bolt"`
	Redis   RedisConfig `yaml:"redis"`
	// EncryptionKeys are base64 AES-256 keys. When set, token payloads and
	// histories are encrypted at rest with the first key; the others only
	// decrypt records written before a rotation.
	EncryptionKeys []string `yaml:"encryption_keys"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

func defaultConfig() Config {
	return Config{
		Models:            ".",
		Services:          "services.yaml",
		ExpressionTimeout: time.Second,
		Log:               LogConfig{Level: "info", Format: string(logging.FormatText)},
		Store: StoreConfig{
			Backend: "memory",
			Bolt:    BoltConfig{Path: "processengine.db"},
			Redis:   RedisConfig{Address: "localhost:6379", Prefix: redis.DefaultPrefix},
		},
		Server: ServerConfig{Address: ":8080"},
	}
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults, unless path was asked for explicitly.
func LoadConfig(path string, required bool) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case "memory", "bolt", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if _, err := c.Store.encryption(); err != nil {
		return err
	}
	if c.ExpressionTimeout < 0 {
		return fmt.Errorf("expression_timeout must not be negative")
	}
	return nil
}

// configFromFlags loads the config file named by --config and applies the
// flag overrides.
func configFromFlags(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := LoadConfig(path, cmd.Flags().Changed("config"))
	if err != nil {
		return cfg, err
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.Models = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

// Logger builds the logger described by the log section.
func (c Config) Logger() (*slog.Logger, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewWithFormat(os.Stderr, level, logging.Format(c.Log.Format)), nil
}

// Build creates the engine and its stores. release closes the stores.
func (c Config) Build(ctx context.Context, logger *slog.Logger, extra ...processengine.Option) (eng *processengine.Engine, release func() error, err error) {
	opts := []processengine.Option{
		processengine.WithLogger(logger),
		processengine.WithExpressionTimeout(c.ExpressionTimeout),
	}

	modules, err := process.LoadModules(c.Services)
	if err != nil {
		return nil, nil, err
	}
	for name, m := range modules {
		opts = append(opts, processengine.WithModule(name, m))
	}

	storeOpts, release, err := c.Store.open(ctx, logger)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, storeOpts...)

	eng, err = processengine.New(c.Models, append(opts, extra...)...)
	if err != nil {
		return nil, nil, multierr.Append(err, release())
	}
	logger.Debug("engine ready", "models", c.Models, "store", c.Store.Backend, "service_modules", len(modules))
	return eng, release, nil
}

func (s StoreConfig) open(ctx context.Context, logger *slog.Logger) ([]processengine.Option, func() error, error) {
	switch s.Backend {
	case "bolt":
		db, err := bolt.Open(ctx, s.Bolt.Path)
		if err != nil {
			return nil, nil, err
		}
		boltRepo, err := bolt.NewRepository(db)
		if err != nil {
			return nil, nil, multierr.Append(err, db.Close())
		}
		repo, err := s.wrap(boltRepo)
		if err != nil {
			return nil, nil, multierr.Append(err, db.Close())
		}
		joins, err := bolt.NewJoinStore(db)
		if err != nil {
			return nil, nil, multierr.Append(err, db.Close())
		}
		return []processengine.Option{
			processengine.WithRepository(repo),
			processengine.WithJoinStore(joins),
		}, db.Close, nil

	case "redis":
		client := redis.NewClient(s.Redis.Address, s.Redis.Password, s.Redis.DB)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, multierr.Append(fmt.Errorf("redis %s: %w", s.Redis.Address, err), client.Close())
		}
		opts := []redis.Option{redis.WithPrefix(s.Redis.Prefix), redis.WithLogger(logger)}
		repo, err := s.wrap(redis.NewRepository(client, opts...))
		if err != nil {
			return nil, nil, multierr.Append(err, client.Close())
		}
		return []processengine.Option{
			processengine.WithRepository(repo),
			processengine.WithJoinStore(redis.NewJoinStore(client, opts...)),
			processengine.WithNotifier(redis.NewNotifier(client, opts...)),
			processengine.WithLocker(redis.NewLocker(client, s.Redis.Prefix)),
		}, client.Close, nil
	}
	repo, err := s.wrap(memory.NewRepository())
	if err != nil {
		return nil, nil, err
	}
	return []processengine.Option{processengine.WithRepository(repo)}, func() error { return nil }, nil
}

func (s StoreConfig) encryption() (*middleware.EncryptionConfig, error) {
	if len(s.EncryptionKeys) == 0 {
		return nil, nil
	}
	var cfg middleware.EncryptionConfig
	for i, enc := range s.EncryptionKeys {
		key, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("encryption key %d: %w", i, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key %d must decode to 32 bytes, got %d", i, len(key))
		}
		if i == 0 {
			cfg.ActiveKey = key
		} else {
			cfg.FallbackKeys = append(cfg.FallbackKeys, key)
		}
	}
	return &cfg, nil
}

// wrap applies the repository middlewares the config asks for.
func (s StoreConfig) wrap(repo ports.FlowNodeInstanceRepository) (ports.FlowNodeInstanceRepository, error) {
	cfg, err := s.encryption()
	if err != nil || cfg == nil {
		return repo, err
	}
	mw, err := middleware.NewEncryptionMiddleware(*cfg)
	if err != nil {
		return nil, err
	}
	return middleware.Chain(repo, mw), nil
}
