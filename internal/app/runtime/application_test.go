package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/R3E-Network/ajax_layer/internal/config"
	"github.com/R3E-Network/ajax_layer/pkg/testutil"
)

func testConfig(driver, dsn string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Ajax: config.AjaxConfig{
			URLPrefix:      "/ajax",
			Authentication: "session",
			MaxPerPage:     100,
			PKAttrName:     "pk",
		},
		Database: config.DatabaseConfig{Driver: driver, DSN: dsn, MaxOpenConns: 1, Migrate: true},
		Auth:     config.AuthConfig{JWTSecret: "runtime-test-secret-0123456789", TokenTTL: time.Hour},
		Logging:  config.LoggingConfig{Level: "error", Format: "json", Output: "discard"},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Total   *int            `json:"total"`
}

func post(t *testing.T, h http.Handler, path, token string, form url.Values) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s response %q: %v", path, rr.Body.String(), err)
	}
	return rr.Code, env
}

func TestApplicationSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := testutil.SQLiteDSN(t, "ajax.db")

	a, err := New(ctx, testConfig("sqlite", dsn))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if err := a.CheckPersistent(); err != nil {
		t.Fatalf("CheckPersistent() error = %v", err)
	}
	user, err := a.App().EnsureUser(ctx, "alice", false)
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	tokens, err := a.Tokens()
	if err != nil {
		t.Fatalf("Tokens() error = %v", err)
	}
	token, err := tokens.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	h := a.Handler()

	code, env := post(t, h, "/ajax/example/category.json", token, url.Values{"title": {"Tools"}})
	if code != http.StatusOK || !env.Success {
		t.Fatalf("create category = %d %s", code, env.Data)
	}
	var category map[string]any
	if err := json.Unmarshal(env.Data, &category); err != nil {
		t.Fatalf("decode category: %v", err)
	}
	if category["title"] != "Tools" || category["pk"] != float64(1) {
		t.Fatalf("category = %v", category)
	}

	code, _ = post(t, h, "/ajax/example/widget/create.json", token, url.Values{
		"title":    {"Hammer"},
		"category": {"1"},
		"tags":     {"steel, heavy"},
	})
	if code != http.StatusOK {
		t.Fatalf("create widget = %d", code)
	}

	code, env = post(t, h, "/ajax/example/widget/list.json", "", url.Values{"expand": {"true"}})
	if code != http.StatusOK || env.Total == nil || *env.Total != 1 {
		t.Fatalf("list widgets = %d total=%v", code, env.Total)
	}
	var widgets []map[string]any
	if err := json.Unmarshal(env.Data, &widgets); err != nil {
		t.Fatalf("decode widgets: %v", err)
	}
	expanded, ok := widgets[0]["category"].(map[string]any)
	if !ok || expanded["title"] != "Tools" {
		t.Errorf("expanded category = %v", widgets[0]["category"])
	}
	if tags, ok := widgets[0]["tags"].([]any); !ok || len(tags) != 2 {
		t.Errorf("tags = %v, want two", widgets[0]["tags"])
	}

	code, _ = post(t, h, "/ajax/example/category.json", "", url.Values{"title": {"Nope"}})
	if code != http.StatusForbidden {
		t.Errorf("anonymous create = %d, want 403", code)
	}
}

func TestApplicationMemory(t *testing.T) {
	cfg := testConfig("memory", "")
	cfg.Auth.JWTSecret = ""
	cfg.Server.RateLimitRPS = 1
	cfg.Server.RateLimitBurst = 1
	cfg.Server.CORSOrigins = "https://app.example.com"

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if _, err := a.Tokens(); err == nil {
		t.Errorf("Tokens() without a secret should fail")
	}
	if err := a.CheckPersistent(); !errors.Is(err, ErrEphemeralStore) {
		t.Errorf("CheckPersistent() = %v, want ErrEphemeralStore", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != `{"status":"ok"}` {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Errorf("missing trace header")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Errorf("missing CORS header")
	}

	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", rr.Code)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig("sqlite", "")
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected an error for sqlite without a dsn")
	}

	cfg = testConfig("memory", "")
	cfg.Auth.JWTSecret = "short"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected an error for a short jwt secret")
	}
}
