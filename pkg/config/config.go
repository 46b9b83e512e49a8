// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration. Empty NATS, Neo4j and
// Qdrant URLs disable the corresponding integration.
type Config struct {
	Port        string
	ArtifactDir string
	// ModelFile, ScalerFile and FeaturesFile name the artifacts inside
	// ArtifactDir.
	ModelFile    string
	ScalerFile   string
	FeaturesFile string
	CORSOrigin   string
	LogLevel     slog.Level
	MaxBodyBytes int64
	// KnownBrandsOnly makes request validation reject brands outside
	// domain.KnownBrands.
	KnownBrandsOnly bool

	RateLimit    float64
	RateBurst    int
	BatchWorkers int
	MaxBatch     int

	NATSURL   string
	NATSQueue string
	NATSRate  float64

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string
	Neo4jDB   string

	QdrantURL    string
	QdrantPrefix string

	ObserverFailThreshold int
	ObserverCooldown      time.Duration
	ObserverTimeout       time.Duration

	ShutdownTimeout time.Duration
}

// Load reads the environment after loading the given .env files (".env"
// when none are named). Missing files are ignored; variables already set
// in the environment win.
func Load(files ...string) Config {
	_ = godotenv.Load(files...)
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() Config {
	return Config{
		Port:         getEnv("PORT", "8080"),
		ArtifactDir:  getEnv("ARTIFACT_DIR", "./models"),
		ModelFile:    getEnv("MODEL_FILE", "model.json"),
		ScalerFile:   getEnv("SCALER_FILE", "scaler.json"),
		FeaturesFile: getEnv("FEATURES_FILE", "features.json"),
		CORSOrigin:   getEnv("CORS_ORIGIN", "*"),
		LogLevel:     getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		MaxBodyBytes: int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),

		KnownBrandsOnly: getEnvBool("KNOWN_BRANDS_ONLY", false),

		RateLimit:    getEnvFloat("RATE_LIMIT_RPS", 0),
		RateBurst:    getEnvInt("RATE_LIMIT_BURST", 20),
		BatchWorkers: getEnvInt("BATCH_WORKERS", 4),
		MaxBatch:     getEnvInt("MAX_BATCH", 100),

		NATSURL:   getEnv("NATS_URL", ""),
		NATSQueue: getEnv("NATS_QUEUE", "pricing"),
		NATSRate:  getEnvFloat("NATS_RATE_LIMIT", 0),

		Neo4jURL:  getEnv("NEO4J_URL", ""),
		Neo4jUser: getEnv("NEO4J_USER", "neo4j"),
		Neo4jPass: getEnv("NEO4J_PASS", "password"),
		Neo4jDB:   getEnv("NEO4J_DATABASE", ""),

		QdrantURL:    getEnv("QDRANT_URL", ""),
		QdrantPrefix: getEnv("QDRANT_COLLECTION", "valuations"),

		ObserverFailThreshold: getEnvInt("OBSERVER_FAIL_THRESHOLD", 5),
		ObserverCooldown:      getEnvDuration("OBSERVER_COOLDOWN", 30*time.Second),
		ObserverTimeout:       getEnvDuration("OBSERVER_TIMEOUT", 5*time.Second),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config: invalid number, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config: invalid bool, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config: invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("config: invalid log level, using default", "key", key, "value", v)
		return fallback
	}
	return l
}
