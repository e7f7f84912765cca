package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/bridgeauth/internal/stubserver"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	t.Setenv("BRIDGE_BASE_URL", "https://auth.example.com")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if cfg.BaseURL != "https://auth.example.com" {
		t.Errorf("BaseURL = %q, want https://auth.example.com", cfg.BaseURL)
	}

	// slogのグローバルロガーがJSON出力になっていることを確認する
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("BRIDGE_BASE_URL", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("BRIDGE_BASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"identity"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_Login_MissingFlags_ReturnsError(t *testing.T) {
	setTestEnv(t, "https://auth.example.com")

	var buf bytes.Buffer
	err := Run(&buf, []string{"login"})
	if err == nil {
		t.Fatal("login without -username/-password should return error")
	}
}

// TestRun_Login_PrintsIdentity はloginコマンドがスタブに対して
// ログインし、取得したアイデンティティを出力することを検証する。
func TestRun_Login_PrintsIdentity(t *testing.T) {
	ts := newTestStub(t)
	setTestEnv(t, ts.URL)

	var buf bytes.Buffer
	err := Run(&buf, []string{"login", "-username", "demo", "-password", "secret"})
	if err != nil {
		t.Fatalf("Run(login) error = %v", err)
	}

	if !strings.Contains(buf.String(), `"id": "user-1"`) {
		t.Errorf("output should contain identity id, got:\n%s", buf.String())
	}
}

// TestRun_Identity_WithoutSession_ReturnsError はセッションがない状態の
// identityコマンドがエラーを返すことを検証する。
func TestRun_Identity_WithoutSession_ReturnsError(t *testing.T) {
	ts := newTestStub(t)
	setTestEnv(t, ts.URL)

	var buf bytes.Buffer
	err := Run(&buf, []string{"identity"})
	if err == nil {
		t.Fatal("identity without session should return error")
	}
}

// TestRun_Partner_Offline_UsesOverride はpartnerコマンドがオーバーライド値を
// 最優先で採用し、リモートに触れずに解決できることを検証する。
func TestRun_Partner_Offline_UsesOverride(t *testing.T) {
	ts := newTestStub(t)
	setTestEnv(t, ts.URL)

	var buf bytes.Buffer
	err := Run(&buf, []string{"partner", "-offline", "-code", "AX301", "-info", "spring"})
	if err != nil {
		t.Fatalf("Run(partner) error = %v", err)
	}

	if !strings.Contains(buf.String(), `"partnerCode": "AX301"`) {
		t.Errorf("output should contain override partner code, got:\n%s", buf.String())
	}
}

// TestRun_Partner_URLSource はpartnerコマンドが-urlのクエリパラメータから
// 帰属情報を読み取ることを検証する。
func TestRun_Partner_URLSource(t *testing.T) {
	ts := newTestStub(t)
	setTestEnv(t, ts.URL)

	var buf bytes.Buffer
	err := Run(&buf, []string{"partner", "-offline", "-url", "https://app.example.com/start?p=URL77&pi=banner"})
	if err != nil {
		t.Fatalf("Run(partner) error = %v", err)
	}

	if !strings.Contains(buf.String(), `"partnerCode": "URL77"`) {
		t.Errorf("output should contain URL partner code, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `"partnerInfo": "banner"`) {
		t.Errorf("output should contain URL partner info, got:\n%s", buf.String())
	}
}

// newTestStub はデモアカウント入りのスタブサーバーを起動する。
func newTestStub(t *testing.T) *httptest.Server {
	t.Helper()

	stub := stubserver.NewServer(slog.Default())
	stub.AddAccount(stubserver.Account{
		ID:       "user-1",
		Username: "demo",
		Password: "secret",
		Email:    "demo@example.com",
		Hash:     "hash-1",
		Roles:    []string{"subscriber"},
	})

	ts := httptest.NewServer(stub.Router())
	t.Cleanup(ts.Close)
	return ts
}

func setTestEnv(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("BRIDGE_BASE_URL", baseURL)
	t.Setenv("BRIDGE_COOKIE_FILE", filepath.Join(t.TempDir(), "cookies.json"))
}
