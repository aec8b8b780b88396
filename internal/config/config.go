package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL       string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	S3UseSSL          bool
	S3Region          string
	InputsBucket      string
	OutputsBucket     string
	ScratchDir        string
	ExtractorPath     string
	ExtractorArgs     []string
	WorkerConcurrency int
	HTTPAddr          string
	StaleAfter        time.Duration
	LogLevel          string
	LogFormat         string
}

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Load reads the worker configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:          getBool("S3_USE_SSL", "false"),
		S3Region:          os.Getenv("S3_REGION"),
		InputsBucket:      os.Getenv("INPUTS_BUCKET"),
		OutputsBucket:     os.Getenv("OUTPUTS_BUCKET"),
		ScratchDir:        getString("SCRATCH_DIR", "/scratch"),
		ExtractorPath:     getString("EXTRACTOR_PATH", "bulk_extractor"),
		ExtractorArgs:     strings.Fields(os.Getenv("EXTRACTOR_ARGS")),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 2),
		HTTPAddr:          os.Getenv("HTTP_ADDR"),
		StaleAfter:        getDuration("STALE_AFTER", 15*time.Minute),
		LogLevel:          getString("LOG_LEVEL", "info"),
		LogFormat:         getString("LOG_FORMAT", "text"),
	}
	// quick sanity
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if cfg.InputsBucket == "" || cfg.OutputsBucket == "" {
		return cfg, errors.New("INPUTS_BUCKET and OUTPUTS_BUCKET are required")
	}
	return cfg, nil
}
