/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package kindstore

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in Config.Backend.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

const (
	defaultBackend     = BackendMemory
	defaultBoltPath    = "kindstore.db"
	defaultRedisAddr   = "localhost:6379"
	defaultRedisPrefix = "kindstore"
	defaultLogLevel    = "info"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string         `yaml:"backend"`
	Bolt     BoltConfig     `yaml:"bolt"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

// BoltConfig configures the embedded bbolt backend.
type BoltConfig struct {
	Path string `yaml:"path"`
}

// DynamoDBConfig configures the DynamoDB backend. Empty credentials fall back
// to the default AWS credential chain.
type DynamoDBConfig struct {
	Region    string `yaml:"region"`
	Table     string `yaml:"table"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LogConfig configures the zap logger built by NewLogger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a config for the in-memory backend.
func DefaultConfig() *Config {
	c := &Config{}
	c.adjust()
	return c
}

// LoadConfig reads the YAML file at path, if path is not empty, then applies
// a .env file from the working directory when one exists, then environment
// overrides, then defaults.
func LoadConfig(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.adjust()
	return c, nil
}

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func overrideString(v *string, env string) {
	if s, ok := os.LookupEnv(env); ok && s != "" {
		*v = s
	}
}

func (c *Config) applyEnv() error {
	overrideString(&c.Backend, "KINDSTORE_BACKEND")
	overrideString(&c.Bolt.Path, "KINDSTORE_BOLT_PATH")
	overrideString(&c.DynamoDB.Region, "AWS_REGION")
	overrideString(&c.DynamoDB.Table, "AWS_DDB_TABLE")
	overrideString(&c.DynamoDB.AccessKey, "AWS_ACCESS_KEY")
	overrideString(&c.DynamoDB.SecretKey, "AWS_SECRET_KEY")
	overrideString(&c.DynamoDB.Endpoint, "DDB_ENDPOINT")
	overrideString(&c.Redis.Address, "REDIS_ADDR")
	overrideString(&c.Redis.Password, "REDIS_PASSWORD")
	overrideString(&c.Log.Level, "KINDSTORE_LOG_LEVEL")

	if s := os.Getenv("REDIS_DB"); s != "" {
		db, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", s, err)
		}
		c.Redis.DB = db
	}
	return nil
}

func (c *Config) adjust() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	adjustString(&c.Backend, defaultBackend)
	adjustString(&c.Bolt.Path, defaultBoltPath)
	adjustString(&c.Redis.Address, defaultRedisAddr)
	adjustString(&c.Redis.Prefix, defaultRedisPrefix)
	adjustString(&c.Log.Level, defaultLogLevel)
}

// Validate checks the fields the selected backend needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Bolt.Path == "" {
			return fmt.Errorf("bolt.path is required")
		}
	case BackendDynamoDB:
		if c.DynamoDB.Region == "" {
			return fmt.Errorf("dynamodb.region is required (or set AWS_REGION)")
		}
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("dynamodb.table is required (or set AWS_DDB_TABLE)")
		}
		if (c.DynamoDB.AccessKey == "") != (c.DynamoDB.SecretKey == "") {
			return fmt.Errorf("dynamodb.access_key and dynamodb.secret_key must be set together")
		}
	case BackendRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("redis.db must not be negative")
		}
	default:
		if !backendRegistered(c.Backend) {
			return fmt.Errorf("unknown backend %q", c.Backend)
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
