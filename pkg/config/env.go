package config

import (
	"strconv"
	"time"
)

// applyEnv overrides cfg with every variable that is set and parses.
func applyEnv(cfg *Config, getenv func(string) string) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) {
		if n, err := strconv.Atoi(getenv(key)); err == nil {
			*dst = n
		}
	}
	float := func(dst *float64, key string) {
		if f, err := strconv.ParseFloat(getenv(key), 64); err == nil {
			*dst = f
		}
	}
	flag := func(dst *bool, key string) {
		if b, err := strconv.ParseBool(getenv(key)); err == nil {
			*dst = b
		}
	}
	dur := func(dst *time.Duration, key string) {
		if d, err := time.ParseDuration(getenv(key)); err == nil {
			*dst = d
		}
	}

	str(&cfg.Server.Port, "PORT")
	str(&cfg.Server.CORSOrigin, "CORS_ORIGIN")
	str(&cfg.Server.APIToken, "API_TOKEN")

	str(&cfg.Qdrant.Addr, "QDRANT_URL")
	str(&cfg.Qdrant.Collection, "QDRANT_COLLECTION")

	str(&cfg.Embed.Provider, "EMBED_PROVIDER")
	str(&cfg.Embed.Model, "EMBED_MODEL")
	num(&cfg.Embed.Dims, "EMBED_DIMS")
	str(&cfg.Embed.BaseURL, "EMBED_BASE_URL")
	dur(&cfg.Embed.Timeout, "EMBED_TIMEOUT")
	switch cfg.Embed.Provider {
	case "cohere":
		str(&cfg.Embed.APIKey, "EMBED_API_KEY", "COHERE_API_KEY")
	case "openai":
		str(&cfg.Embed.APIKey, "EMBED_API_KEY", "OPENAI_API_KEY")
	default:
		str(&cfg.Embed.APIKey, "EMBED_API_KEY")
	}

	num(&cfg.Chunk.Size, "CHUNK_SIZE")
	num(&cfg.Chunk.Overlap, "CHUNK_OVERLAP")
	str(&cfg.Chunk.Unit, "CHUNK_UNIT")

	dur(&cfg.Fetch.Timeout, "FETCH_TIMEOUT")
	float(&cfg.Fetch.RequestsPerSecond, "FETCH_RPS")
	flag(&cfg.Fetch.InsecureSkipVerify, "FETCH_INSECURE_SKIP_VERIFY")

	str(&cfg.Dedup.Mode, "DEDUP_MODE")
	flag(&cfg.Dedup.Cache, "DEDUP_CACHE")

	str(&cfg.Lock.RedisAddr, "REDIS_ADDR")
	str(&cfg.Lock.RedisPassword, "REDIS_PASSWORD")
	dur(&cfg.Lock.TTL, "LOCK_TTL")

	str(&cfg.NATS.URL, "NATS_URL")
	str(&cfg.NATS.Subject, "NATS_SUBJECT")

	str(&cfg.Neo4j.URL, "NEO4J_URL")
	str(&cfg.Neo4j.User, "NEO4J_USER")
	str(&cfg.Neo4j.Pass, "NEO4J_PASS")

	str(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	str(&cfg.Telemetry.MetricsAddr, "METRICS_ADDR")
}
