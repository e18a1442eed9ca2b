// Package config loads service configuration: built-in defaults, then an
// optional YAML file, then a .env file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by every binary.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embed     EmbedConfig     `yaml:"embed"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Lock      LockConfig      `yaml:"lock"`
	NATS      NATSConfig      `yaml:"nats"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	// APIToken guards the robot endpoints with "Authorization: Bearer <token>".
	APIToken string `yaml:"api_token"`
}

type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

type EmbedConfig struct {
	// Provider is one of "cohere", "ollama" or "openai".
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	Dims     int           `yaml:"dims"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	// BreakerFailures consecutive failures open the circuit for BreakerCooldown.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
	// Unit is "chars" or "tokens"; tokens are counted with Encoding.
	Unit     string `yaml:"unit"`
	Encoding string `yaml:"encoding"`
}

type FetchConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	Burst              int           `yaml:"burst"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

type DedupConfig struct {
	// Mode is "scan" or "lookup".
	Mode  string `yaml:"mode"`
	Cache bool   `yaml:"cache"`
}

type LockConfig struct {
	// RedisAddr enables the cross-process lock when set.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	// TTL bounds how long a crashed holder blocks others. A live holder
	// renews it, so an ingest may run longer than TTL.
	TTL time.Duration `yaml:"ttl"`
}

type NATSConfig struct {
	URL     string        `yaml:"url"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
}

type Neo4jConfig struct {
	// URL enables provenance recording when set.
	URL  string `yaml:"url"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	// MetricsAddr is where workers without an HTTP API serve /metrics.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", CORSOrigin: "http://localhost:3000"},
		Qdrant: QdrantConfig{Addr: "localhost:6334", Collection: "ami"},
		Embed: EmbedConfig{
			Provider:        "cohere",
			Model:           "embed-english-v3.0",
			Dims:            1024,
			Timeout:         30 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Chunk:     ChunkConfig{Size: 1000, Overlap: 200, Unit: "chars", Encoding: "cl100k_base"},
		Fetch:     FetchConfig{Timeout: 30 * time.Second, RequestsPerSecond: 5, Burst: 5},
		Dedup:     DedupConfig{Mode: "scan"},
		Lock:      LockConfig{TTL: 2 * time.Minute},
		NATS:      NATSConfig{URL: "nats://localhost:4222", Subject: "ami.ingest", Timeout: 2 * time.Minute},
		Neo4j:     Neo4jConfig{User: "neo4j"},
		Telemetry: TelemetryConfig{ServiceName: "ami-rag", MetricsAddr: ":9091"},
	}
}

// Load builds the configuration. The YAML file is $AMI_CONFIG, or
// ./config.yaml when present. Variables from ./.env never override the
// real environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	path := os.Getenv("AMI_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads path over the defaults. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the pipelines cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Embed.Provider {
	case "cohere", "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("embed.provider %q: want cohere, ollama or openai", c.Embed.Provider))
	}
	if c.Embed.Dims <= 0 {
		errs = append(errs, errors.New("embed.dims must be positive"))
	}
	if c.Chunk.Size <= 0 {
		errs = append(errs, errors.New("chunk.size must be positive"))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		errs = append(errs, errors.New("chunk.overlap must be in [0, chunk.size)"))
	}
	switch c.Chunk.Unit {
	case "chars", "tokens":
	default:
		errs = append(errs, fmt.Errorf("chunk.unit %q: want chars or tokens", c.Chunk.Unit))
	}
	switch c.Dedup.Mode {
	case "scan", "lookup":
	default:
		errs = append(errs, fmt.Errorf("dedup.mode %q: want scan or lookup", c.Dedup.Mode))
	}
	if c.Qdrant.Collection == "" {
		errs = append(errs, errors.New("qdrant.collection is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
