// Package config loads portsweep settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"portsweep/logging"
	"portsweep/scanner"
)

// DefaultEnvFile is read by Load when no file is named.
const DefaultEnvFile = ".env"

// Config holds the settings of both the CLI and the API service.
type Config struct {
	Scan     scanner.Config
	API      API
	LogLevel slog.Level
}

// API configures the HTTP service.
type API struct {
	Addr        string
	Key         string
	RedisAddr   string
	TaskWorkers int
	TaskTTL     time.Duration
	RateLimit   int64
	RateWindow  time.Duration
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Scan: scanner.DefaultConfig(""),
		API: API{
			Addr:        ":8080",
			TaskWorkers: 2,
			TaskTTL:     time.Hour,
			RateLimit:   60,
			RateWindow:  time.Minute,
		},
		LogLevel: slog.LevelInfo,
	}
}

// Load reads the given env files (DefaultEnvFile when none) into the process
// environment without overriding variables that are already set, then
// builds the configuration. Missing files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from a variable lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	var err error
	if v, ok := get("SCAN_HOST"); ok {
		cfg.Scan.Hostname = v
	}
	if v, ok := get("SCAN_PORTS"); ok {
		if cfg.Scan.Ports, err = scanner.ParsePortRange(v); err != nil {
			return Config{}, fmt.Errorf("SCAN_PORTS: %w", err)
		}
	}
	if v, ok := get("SCAN_TIMEOUT_MS"); ok {
		ms, err := positiveInt("SCAN_TIMEOUT_MS", v)
		if err != nil {
			return Config{}, err
		}
		cfg.Scan.ConnectTimeout = time.Duration(ms) * time.Millisecond
	}
	if v, ok := get("SCAN_WORKERS"); ok {
		if cfg.Scan.Workers, err = positiveInt("SCAN_WORKERS", v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := get("SCAN_REPORT_ERRORS"); ok {
		if cfg.Scan.ReportProbeErrors, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("SCAN_REPORT_ERRORS: %w", err)
		}
	}

	if v, ok := get("API_ADDR"); ok {
		cfg.API.Addr = v
	}
	if v, ok := get("API_KEY"); ok {
		cfg.API.Key = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		cfg.API.RedisAddr = v
	}
	if v, ok := get("API_TASK_WORKERS"); ok {
		if cfg.API.TaskWorkers, err = positiveInt("API_TASK_WORKERS", v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := get("TASK_TTL"); ok {
		if cfg.API.TaskTTL, err = positiveDuration("TASK_TTL", v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := get("RATE_LIMIT"); ok {
		n, err := positiveInt("RATE_LIMIT", v)
		if err != nil {
			return Config{}, err
		}
		cfg.API.RateLimit = int64(n)
	}
	if v, ok := get("RATE_WINDOW"); ok {
		if cfg.API.RateWindow, err = positiveDuration("RATE_WINDOW", v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = logging.ParseLevel(v)
	}

	return cfg, nil
}

func positiveInt(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s is not a number: %s", key, v)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func positiveDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
