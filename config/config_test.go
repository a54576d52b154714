package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"portsweep/scanner"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupMap(nil))
	if err != nil {
		t.Fatalf("FromLookup: %v", err)
	}
	if cfg.Scan.Ports != scanner.FullRange || cfg.Scan.Workers != 500 || cfg.Scan.ConnectTimeout != time.Second {
		t.Fatalf("unexpected scan defaults: %+v", cfg.Scan)
	}
	if cfg.API.Addr != ":8080" || cfg.API.RedisAddr != "" || cfg.API.TaskWorkers != 2 {
		t.Fatalf("unexpected api defaults: %+v", cfg.API)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("log level = %v", cfg.LogLevel)
	}
}

func TestFromLookupOverrides(t *testing.T) {
	cfg, err := FromLookup(lookupMap(map[string]string{
		"SCAN_HOST":          "scanme.example",
		"SCAN_PORTS":         "20-30",
		"SCAN_TIMEOUT_MS":    "250",
		"SCAN_WORKERS":       "64",
		"SCAN_REPORT_ERRORS": "true",
		"API_ADDR":           "127.0.0.1:9000",
		"API_KEY":            "secret",
		"REDIS_ADDR":         "redis:6379",
		"API_TASK_WORKERS":   "4",
		"TASK_TTL":           "10m",
		"RATE_LIMIT":         "5",
		"RATE_WINDOW":        "30s",
		"LOG_LEVEL":          "debug",
	}))
	if err != nil {
		t.Fatalf("FromLookup: %v", err)
	}

	want := scanner.Config{
		Hostname:          "scanme.example",
		Ports:             scanner.PortRange{Low: 20, High: 30},
		ConnectTimeout:    250 * time.Millisecond,
		Workers:           64,
		ReportProbeErrors: true,
	}
	if cfg.Scan != want {
		t.Fatalf("scan = %+v, want %+v", cfg.Scan, want)
	}
	api := API{
		Addr:        "127.0.0.1:9000",
		Key:         "secret",
		RedisAddr:   "redis:6379",
		TaskWorkers: 4,
		TaskTTL:     10 * time.Minute,
		RateLimit:   5,
		RateWindow:  30 * time.Second,
	}
	if cfg.API != api {
		t.Fatalf("api = %+v, want %+v", cfg.API, api)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log level = %v", cfg.LogLevel)
	}
}

func TestFromLookupErrors(t *testing.T) {
	bad := []map[string]string{
		{"SCAN_PORTS": "80-22"},
		{"SCAN_TIMEOUT_MS": "-1"},
		{"SCAN_WORKERS": "many"},
		{"SCAN_REPORT_ERRORS": "perhaps"},
		{"TASK_TTL": "soon"},
		{"RATE_WINDOW": "0s"},
		{"API_TASK_WORKERS": "0"},
	}
	for _, env := range bad {
		if _, err := FromLookup(lookupMap(env)); err == nil {
			t.Errorf("FromLookup(%v) expected error", env)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("PORTSWEEP_TEST_ONLY=1\nSCAN_WORKERS=12\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("SCAN_WORKERS", "")
	os.Unsetenv("SCAN_WORKERS")
	t.Setenv("SCAN_HOST", "from-env")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("PORTSWEEP_TEST_ONLY") })

	if cfg.Scan.Workers != 12 {
		t.Fatalf("workers = %d, want 12 from env file", cfg.Scan.Workers)
	}
	if cfg.Scan.Hostname != "from-env" {
		t.Fatalf("hostname = %q", cfg.Scan.Hostname)
	}
}
