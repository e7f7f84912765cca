// Package transport はリモート認証サービスとのHTTP通信を提供する。
// JSONリクエストの発行、エラーペイロードの判別、送信レート制限、
// およびKeep-Aliveを使わない代替送信モードを含む。
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/bridgeauth/model"
)

const (
	// defaultTimeout はHTTPクライアントのデフォルトタイムアウト。
	defaultTimeout = 30 * time.Second
	// defaultMaxResponseSize はレスポンスボディの最大サイズ（1MiB）。
	defaultMaxResponseSize int64 = 1 << 20
	// userAgent は全リクエストに付与するUser-Agentヘッダー。
	userAgent = "Bridgeauth/1.0 Go SDK"
)

// Requester はリモートサービスへのリクエスト発行のインターフェース。
// Doが通常モード、DoNoKeepAliveが非持続接続モード。
// 戻り値はパース済みのレスポンスペイロードで、errorフィールドが
// 真値のペイロードは*model.APIErrorとして返される。
type Requester interface {
	Do(ctx context.Context, method, path string, body any) (map[string]any, error)
	DoNoKeepAlive(ctx context.Context, method, path string, body any) (map[string]any, error)
}

// Collector はトランスポートのメトリクス収集のインターフェース。
type Collector interface {
	RecordRequest(path string, statusCode int, duration time.Duration)
	RecordRequestFailure(path string)
}

// Options はHTTPTransportの生成オプション。
type Options struct {
	// BaseURL はリモートサービスのベースURL（必須）。
	BaseURL string
	// Timeout はHTTPクライアントのタイムアウト。ゼロ値はデフォルト値。
	Timeout time.Duration
	// RateLimit は送信レート（req/sec）。ゼロ値はレート制限なし。
	RateLimit rate.Limit
	// RateBurst は送信レートのバーストサイズ。
	RateBurst int
	// AllowPrivateHosts がfalseの場合、プライベートネットワークへの
	// 接続を拒否するガード付きクライアントを使用する。
	// SDKを外部から与えられたベースURLで組み込む場合に使用する。
	AllowPrivateHosts bool
	// MaxResponseSize はレスポンスボディの最大サイズ（バイト）。
	MaxResponseSize int64
	// Logger は構造化ログの出力先。nilの場合はslog.Default()。
	Logger *slog.Logger
	// Metrics はメトリクス収集フック。nilの場合は収集しない。
	Metrics Collector
	// HTTPClient はテスト用にクライアントを差し替えるためのフック。
	// 指定時は通常モード・代替モードの両方で使用される。
	HTTPClient *http.Client
}

// HTTPTransport はRequesterのHTTP実装。
// 通常モードはKeep-Aliveを使う共有クライアント、代替モードは
// 接続を持続させないクライアントでリクエストを発行する。
// ログアウトのように既存のセッションソケットへ依存してはならない
// 操作が代替モードを使用する。
type HTTPTransport struct {
	baseURL     string
	client      *http.Client
	altClient   *http.Client
	limiter     *rate.Limiter
	maxBodySize int64
	logger      *slog.Logger
	metrics     Collector
}

// New はHTTPTransportを生成する。
// AllowPrivateHostsがfalseの場合はベースURLを事前検証し、
// DNS解決後のIPも検証するガード付きクライアントを構築する。
func New(opts Options) (*HTTPTransport, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("ベースURLが指定されていません")
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxBody := opts.MaxResponseSize
	if maxBody == 0 {
		maxBody = defaultMaxResponseSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &HTTPTransport{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		maxBodySize: maxBody,
		logger:      logger,
		metrics:     opts.Metrics,
	}

	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	// セッションCookieを保持するため、両モードで共有のCookie Jarを使う
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jarの作成に失敗しました: %w", err)
	}

	switch {
	case opts.HTTPClient != nil:
		if opts.HTTPClient.Jar == nil {
			opts.HTTPClient.Jar = jar
		}
		t.client = opts.HTTPClient
		t.altClient = opts.HTTPClient
	case !opts.AllowPrivateHosts:
		if err := validateEndpoint(opts.BaseURL); err != nil {
			return nil, fmt.Errorf("ベースURLの検証に失敗しました: %w", err)
		}
		safe := newGuardedClient(timeout)
		safe.Jar = jar
		t.client = safe
		t.altClient = safe
	default:
		t.client = &http.Client{Timeout: timeout, Jar: jar}
		t.altClient = &http.Client{
			Timeout: timeout,
			Jar:     jar,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		}
	}

	return t, nil
}

// Do は通常モードでリクエストを発行する。
func (t *HTTPTransport) Do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	return t.do(ctx, t.client, method, path, body, false)
}

// DoNoKeepAlive は非持続接続モードでリクエストを発行する。
// リクエスト完了後に接続を必ず閉じる。
func (t *HTTPTransport) DoNoKeepAlive(ctx context.Context, method, path string, body any) (map[string]any, error) {
	return t.do(ctx, t.altClient, method, path, body, true)
}

// do はリクエストの構築・発行・レスポンス判別を行う。
func (t *HTTPTransport) do(ctx context.Context, client *http.Client, method, path string, body any, closeConn bool) (map[string]any, error) {
	// 送信レート制限
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
		}
	}

	// リクエストボディの構築
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if closeConn {
		req.Close = true
	}

	// HTTPリクエスト実行
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		t.logger.Error("HTTPリクエストに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if t.metrics != nil {
			t.metrics.RecordRequestFailure(path)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if t.metrics != nil {
		t.metrics.RecordRequest(path, resp.StatusCode, time.Since(start))
	}

	// レスポンスボディ読み取り（サイズ上限付き）
	raw, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	// 空ボディは空ペイロード扱い（ログアウト等の不透明な結果）
	if len(raw) == 0 {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("リモートサービスがステータス %d を返しました", resp.StatusCode)
		}
		return map[string]any{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.logger.Error("レスポンスのパースに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	// errorフィールドが真値のペイロードは失敗として扱う
	if isTruthy(payload["error"]) {
		return nil, model.NewAPIError(payload)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("リモートサービスがステータス %d を返しました", resp.StatusCode)
	}

	return payload, nil
}

// isTruthy はエラーペイロード判別用の真値判定。
// nil、false、数値ゼロ、空文字列のみを偽とする。
func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}
