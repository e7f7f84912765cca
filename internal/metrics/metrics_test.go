package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// counterValue は指定メトリクスのカウンタ値を取り出すヘルパー。
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

// TestRecordRequest_IncrementsCounterWithLabels はリクエストカウンタが
// パス・ステータスコードのラベル付きで増加することを検証する。
func TestRecordRequest_IncrementsCounterWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest("/user/login", 200, 100*time.Millisecond)
	c.RecordRequest("/user/login", 200, 200*time.Millisecond)
	c.RecordRequest("/user/identity", 401, 50*time.Millisecond)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "bridgeauth_request_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("bridgeauth_request_total metric not found")
	}
}

// TestRecordRequest_ObservesLatency はレイテンシヒストグラムに値が記録されることを検証する。
func TestRecordRequest_ObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest("/user/login", 200, 100*time.Millisecond)
	c.RecordRequest("/user/login", 200, 2*time.Second)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "bridgeauth_request_duration_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は0.1 + 2.0 = 2.1秒
			if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
				t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("bridgeauth_request_duration_seconds metric not found")
	}
}

// TestRecordRequestFailure_IncrementsCounter は失敗カウンタが増加することを検証する。
func TestRecordRequestFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestFailure("/user/login")
	c.RecordRequestFailure("/user/login")

	if val := counterValue(t, reg, "bridgeauth_request_failures_total"); val != 2 {
		t.Errorf("request_failures_total = %v, want 2", val)
	}
}

// TestRecordIdentityCache_IncrementsCounter はキャッシュ参照カウンタが増加することを検証する。
func TestRecordIdentityCache_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIdentityCache("hit")
	c.RecordIdentityCache("hit")
	c.RecordIdentityCache("hit")

	if val := counterValue(t, reg, "bridgeauth_identity_cache_total"); val != 3 {
		t.Errorf("identity_cache_total = %v, want 3", val)
	}
}

// TestRecordPartnerSource_IncrementsCounter はパートナーソースカウンタが増加することを検証する。
func TestRecordPartnerSource_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPartnerSource("partnerCode", "override")
	c.RecordPartnerSource("partnerInfo", "cookie")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "bridgeauth_partner_source_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("bridgeauth_partner_source_total metric not found")
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントが
// Prometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	// いくつかのメトリクスを記録
	c.RecordRequest("/user/login", 200, 500*time.Millisecond)
	c.RecordRequestFailure("/user/logout")
	c.RecordIdentityCache("miss")
	c.RecordPartnerSource("partnerCode", "url")

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	// Prometheus形式のメトリクスが含まれていることを確認
	expectedMetrics := []string{
		"bridgeauth_request_total",
		"bridgeauth_request_failures_total",
		"bridgeauth_request_duration_seconds",
		"bridgeauth_identity_cache_total",
		"bridgeauth_partner_source_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestSetupMetricsRoute_ServesMetrics は/metricsパスでメトリクスが返ることを検証する。
func TestSetupMetricsRoute_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordIdentityCache("hit")

	handler := SetupMetricsRoute(reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "bridgeauth_identity_cache_total") {
		t.Error("response should contain bridgeauth_identity_cache_total metric")
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordIdentityCache("hit")
	c2.RecordIdentityCache("hit")
	c2.RecordIdentityCache("hit")

	if val := counterValue(t, reg1, "bridgeauth_identity_cache_total"); val != 1 {
		t.Errorf("reg1 identity_cache = %v, want 1", val)
	}
	if val := counterValue(t, reg2, "bridgeauth_identity_cache_total"); val != 2 {
		t.Errorf("reg2 identity_cache = %v, want 2", val)
	}
}
