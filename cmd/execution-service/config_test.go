package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"develevate/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s failed: %v", name, err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	t.Setenv(judgeAPIKeyEnv, " secret ")
	t.Setenv(assistantAPIKeyEnv, "")
	path := writeFile(t, "cfg.yaml", "judge:\n  outputPolicy: combined\n")

	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("loadAppConfig failed: %v", err)
	}
	if cfg.Judge.HTTP.APIKey != "secret" {
		t.Fatalf("api key = %q", cfg.Judge.HTTP.APIKey)
	}
	if cfg.Judge.PollInterval != time.Second || cfg.Judge.MaxPollAttempts != 10 {
		t.Fatalf("unexpected poll budget: %v x %d", cfg.Judge.PollInterval, cfg.Judge.MaxPollAttempts)
	}
	if cfg.Judge.OutputPolicy != "combined" || cfg.Judge.DefaultLanguage != "python" {
		t.Fatalf("unexpected judge config: %+v", cfg.Judge)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Server.MetricsPath != "/metrics" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if !cfg.Execution.Runs.InlineHistory {
		t.Fatalf("history should be inline without kafka brokers")
	}
}

func TestLoadAppConfigNegativeSessionIdleTTL(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "execution:\n  sessionIdleTTL: -5m\n")
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("loadAppConfig failed: %v", err)
	}
	if cfg.Execution.SessionIdleTTL != 30*time.Minute {
		t.Fatalf("negative ttl should fall back to the default, got %v", cfg.Execution.SessionIdleTTL)
	}
}

func TestEvictIdleSessionsNonPositiveTTL(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		evictIdleSessions(context.Background(), nil, -time.Minute)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("eviction loop should return for a non-positive ttl")
	}
}

func TestLoadAppConfigKafkaDisablesInlineHistory(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "kafka:\n  brokers: [\"127.0.0.1:9092\"]\n")
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("loadAppConfig failed: %v", err)
	}
	if cfg.Execution.Runs.InlineHistory {
		t.Fatalf("history should go through kafka when brokers are set")
	}
}

func TestLoadAppConfigAssistantNeedsKey(t *testing.T) {
	t.Setenv(assistantAPIKeyEnv, "")
	path := writeFile(t, "cfg.yaml", "assistant:\n  enabled: true\n")
	if _, err := loadAppConfig(path); err == nil || !strings.Contains(err.Error(), assistantAPIKeyEnv) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestLoadAppConfigMissingFile(t *testing.T) {
	if _, err := loadAppConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	const key = "DEVELEVATE_TEST_ENV_VALUE"
	t.Setenv(key, "")
	_ = os.Unsetenv(key)
	path := writeFile(t, ".env", key+"=from-file\n")

	if err := loadEnv(path); err != nil {
		t.Fatalf("loadEnv failed: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Fatalf("env value = %q", got)
	}
	if err := loadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	store, err := cache.NewRedisCache(cache.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	router := gin.New()
	router.GET("/healthz", healthz(store))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d: %s", rec.Code, rec.Body.String())
	}

	mr.Close()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz with redis down = %d", rec.Code)
	}
}

func TestGzipExceptUpgrades(t *testing.T) {
	body := strings.Repeat("a", 4096)
	handler := gzipExceptUpgrades(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(body))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response")
	}

	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") != "" || rec.Body.String() != body {
		t.Fatalf("upgrade requests must not be compressed")
	}
}
