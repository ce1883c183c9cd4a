// Package config loads splitpdf settings from a YAML file and SPLITPDF_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wudi/splitpdf/imposition"
	"github.com/wudi/splitpdf/observability"
	"github.com/wudi/splitpdf/security"
	"github.com/wudi/splitpdf/split"
	"github.com/wudi/splitpdf/writer"
)

const EnvPrefix = "SPLITPDF_"

type Config struct {
	Order  imposition.Order `yaml:"order"`
	Suffix string           `yaml:"suffix"`
	// Compression is the Flate level for rewritten content; see writer.Config.
	Compression   int             `yaml:"compression"`
	Deterministic bool            `yaml:"deterministic"`
	Strict        bool            `yaml:"strict"`
	Log           LogConfig       `yaml:"log"`
	Server        ServerConfig    `yaml:"server"`
	Limits        security.Limits `yaml:"limits"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	// JWTSecret enables bearer token checks on the split endpoint.
	JWTSecret string      `yaml:"jwt_secret"`
	Cache     CacheConfig `yaml:"cache"`
}

// CacheConfig configures the Redis result cache; an empty RedisAddr
// disables it.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

func Default() Config {
	return Config{
		Order:  imposition.Natural,
		Suffix: split.DefaultSuffix,
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodyBytes: 64 << 20,
			Cache:        CacheConfig{TTL: time.Hour},
		},
		Limits: security.DefaultLimits(),
	}
}

// Load reads path over the defaults, then applies the environment. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from SPLITPDF_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	var errs []error
	if v, ok := get("ORDER"); ok {
		if err := c.Order.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("%sORDER: %w", EnvPrefix, err))
		}
	}
	if v, ok := get("SUFFIX"); ok {
		c.Suffix = v
	}
	if v, ok := get("COMPRESSION"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCOMPRESSION: %w", EnvPrefix, err))
		} else {
			c.Compression = n
		}
	}
	if v, ok := get("DETERMINISTIC"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDETERMINISTIC: %w", EnvPrefix, err))
		} else {
			c.Deterministic = b
		}
	}
	if v, ok := get("STRICT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSTRICT: %w", EnvPrefix, err))
		} else {
			c.Strict = b
		}
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := get("ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := get("JWT_SECRET"); ok {
		c.Server.JWTSecret = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Server.Cache.RedisAddr = v
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		c.Server.Cache.RedisPassword = v
	}
	if v, ok := get("CACHE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCACHE_TTL: %w", EnvPrefix, err))
		} else {
			c.Server.Cache.TTL = d
		}
	}
	if v, ok := get("MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_BODY_BYTES: %w", EnvPrefix, err))
		} else {
			c.Server.MaxBodyBytes = n
		}
	}
	if v, ok := get("MAX_PAGES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_PAGES: %w", EnvPrefix, err))
		} else {
			c.Limits.MaxPages = n
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	if c.Compression > 9 {
		return fmt.Errorf("compression %d out of range (negative, 0 or 1-9)", c.Compression)
	}
	if c.Order != imposition.Natural && c.Order != imposition.Booklet {
		return fmt.Errorf("invalid order %d", int(c.Order))
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	if c.Server.Cache.TTL < 0 {
		return errors.New("server.cache.ttl must not be negative")
	}
	return nil
}

// SplitOptions turns the settings into options for one run.
func (c Config) SplitOptions(logger observability.Logger) split.Options {
	return split.Options{
		Order:  c.Order,
		Suffix: c.Suffix,
		Writer: writer.Config{
			Compression:   c.Compression,
			Deterministic: c.Deterministic,
		},
		Limits: c.Limits.WithDefaults(),
		Strict: c.Strict,
		Logger: logger,
	}
}
