// Package auth はリモート認証サービスに対するクライアント操作を提供する。
// ログイン、ログアウト、アイデンティティ取得、プロフィール更新、
// メール検証を含む。成功レスポンスは共有のアイデンティティキャッシュへ
// マージされ、アイデンティティに依存する操作はすべてGetIdentityを
// 同期点として通過する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/bridgeauth/identity"
	"github.com/hitoshi/bridgeauth/model"
	"github.com/hitoshi/bridgeauth/transport"
)

// Collector はアイデンティティキャッシュのメトリクス収集のインターフェース。
type Collector interface {
	RecordIdentityCache(outcome string)
}

// キャッシュ参照の結果（メトリクス用）
const (
	cacheOutcomeHit  = "hit"
	cacheOutcomeMiss = "miss"
)

// IdentityQuery はGetIdentityの問い合わせ条件。
// Roleを指定すると、そのロールのフラグを反映したアイデンティティを要求する。
// Forceを指定すると、キャッシュの状態に関わらずリモートから再取得する。
type IdentityQuery struct {
	Role  string
	Force bool
}

// VerifyType は検証対象のメールフィールド種別。
type VerifyType string

const (
	// VerifyTypeEmail はメインのメールアドレスの検証を示す。
	VerifyTypeEmail VerifyType = "email"
	// VerifyTypeNotificationEmail は通知用メールアドレスの検証を示す。
	VerifyTypeNotificationEmail VerifyType = "notificationEmail"
)

// VerifyRequest はVerifyの呼び出し形を明示するリクエスト。
// UserIDとUserのいずれも指定されない場合は、現在のアイデンティティを
// 解決してからそのidで検証を行う。
type VerifyRequest struct {
	// UserID は検証対象ユーザーのid。
	UserID string
	// User はアイデンティティオブジェクトによる指定。UserIDが優先される。
	User identity.Identity
	// Type は検証対象のフィールド種別（必須）。
	Type VerifyType
	// Hash は検証トークン（必須）。
	Hash string
}

// Options はClientの生成オプション。
type Options struct {
	// Requester はリモートサービスへのトランスポート（必須）。
	Requester transport.Requester
	// Cache は共有アイデンティティキャッシュ。nilの場合は新規に生成する。
	Cache *identity.Cache
	// Logger は構造化ログの出力先。nilの場合はslog.Default()。
	Logger *slog.Logger
	// Metrics はメトリクス収集フック。nil可。
	Metrics Collector
}

// Client は認証クライアント。1つのアイデンティティキャッシュを所有し、
// 全操作がそのキャッシュへマージする。
type Client struct {
	requester transport.Requester
	cache     *identity.Cache
	logger    *slog.Logger
	metrics   Collector
}

// NewClient はClientを生成する。
func NewClient(opts Options) (*Client, error) {
	if opts.Requester == nil {
		return nil, fmt.Errorf("トランスポートが指定されていません")
	}
	cache := opts.Cache
	if cache == nil {
		cache = identity.NewCache()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		requester: opts.Requester,
		cache:     cache,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Cache はクライアントが所有するアイデンティティキャッシュを返す。
func (c *Client) Cache() *identity.Cache {
	return c.cache
}

// Login は資格情報でログインし、レスポンスをキャッシュへマージして
// レスポンス全体を返す。
func (c *Client) Login(ctx context.Context, role, username, password string) (identity.Identity, error) {
	payload := map[string]any{
		"username": username,
		"password": password,
		"role":     role,
	}
	resp, err := c.requester.Do(ctx, http.MethodPost, "/user/login", payload)
	if err != nil {
		return nil, err
	}

	c.cache.Update(resp)
	c.logger.Info("ログインに成功しました",
		slog.String("user_id", identity.Identity(resp).ID()),
		slog.String("role", role),
	)
	return identity.Identity(resp), nil
}

// LoginByHash はメールアドレスとハッシュでログインする。
// usernameは任意であり、空の場合はペイロードに含めない。
func (c *Client) LoginByHash(ctx context.Context, role, email, hash, username string) (identity.Identity, error) {
	payload := map[string]any{
		"email": email,
		"hash":  hash,
		"role":  role,
	}
	if username != "" {
		payload["username"] = username
	}
	resp, err := c.requester.Do(ctx, http.MethodPost, "/user/login-by-hash", payload)
	if err != nil {
		return nil, err
	}

	c.cache.Update(resp)
	c.logger.Info("ハッシュログインに成功しました",
		slog.String("user_id", identity.Identity(resp).ID()),
		slog.String("role", role),
	)
	return identity.Identity(resp), nil
}

// UsernameAvailable はユーザー名が利用可能かどうかを返す。
func (c *Client) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	resp, err := c.requester.Do(ctx, http.MethodPost, "/user/username-available",
		map[string]any{"username": username})
	if err != nil {
		return false, err
	}
	available, _ := resp["available"].(bool)
	return available, nil
}

// Logout はログアウトを実行し、アイデンティティキャッシュを破棄する。
// デフォルトの送信モードはセッションのソケットに結び付いている
// 可能性があるため、非持続接続モードでリクエストを発行する。
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.requester.DoNoKeepAlive(ctx, http.MethodGet, "/user/logout", nil); err != nil {
		return err
	}
	c.cache.Reset()
	c.logger.Info("ログアウトしました")
	return nil
}

// GetUsername は指定idのユーザー名を返す。
func (c *Client) GetUsername(ctx context.Context, userID string) (string, error) {
	resp, err := c.requester.Do(ctx, http.MethodGet, "/user/username/"+url.PathEscape(userID), nil)
	if err != nil {
		return "", err
	}
	username, _ := resp["username"].(string)
	return username, nil
}

// GetIdentity は現在のアイデンティティを返す。
// キャッシュが存在し、ロール指定がない（またはキャッシュが既にその
// ロールを反映している）かつForceでない場合は、ネットワークを呼ばずに
// キャッシュを即座に返す。それ以外はリモートから取得してキャッシュへ
// マージし、マージ後の共有キャッシュオブジェクトを返す。
func (c *Client) GetIdentity(ctx context.Context, q IdentityQuery) (identity.Identity, error) {
	if cached, ok := c.cache.Get(); ok && !q.Force && (q.Role == "" || cached.HasRole(q.Role)) {
		c.recordCache(cacheOutcomeHit)
		return cached, nil
	}
	c.recordCache(cacheOutcomeMiss)

	path := "/user/identity"
	if q.Role != "" {
		path += "/" + url.PathEscape(q.Role)
	}
	resp, err := c.requester.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.cache.Update(resp), nil
}

// CurrentIdentity はロール指定なし・強制なしのGetIdentityのショートカット。
// パートナー情報解決の最終ソースとしても使用される。
func (c *Client) CurrentIdentity(ctx context.Context) (identity.Identity, error) {
	return c.GetIdentity(ctx, IdentityQuery{})
}

// GetUserID は現在のアイデンティティを解決し、そのidを返す。
func (c *Client) GetUserID(ctx context.Context) (string, error) {
	id, err := c.CurrentIdentity(ctx)
	if err != nil {
		return "", err
	}
	userID := id.ID()
	if userID == "" {
		return "", fmt.Errorf("アイデンティティにidが含まれていません")
	}
	return userID, nil
}

// HasIdentity は指定ロールのフラグが真値かどうかを返す。
// 「セッション不在」エラーはfalseへ変換され、エラーとしては返らない。
// それ以外のエラーはそのまま返す。
func (c *Client) HasIdentity(ctx context.Context, role string) (bool, error) {
	id, err := c.GetIdentity(ctx, IdentityQuery{Role: role})
	if err != nil {
		if model.IsNoIdentity(err) {
			return false, nil
		}
		return false, err
	}
	return id.HasRole(role), nil
}

// Update は現在のアイデンティティを解決してidを取得し、そのidの
// リソースに対して更新リクエストを発行する。レスポンスはキャッシュへ
// マージされ、マージ後のキャッシュが返る。
func (c *Client) Update(ctx context.Context, properties map[string]any) (identity.Identity, error) {
	userID, err := c.GetUserID(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.requester.Do(ctx, http.MethodPut, "/user/"+url.PathEscape(userID), properties)
	if err != nil {
		return nil, err
	}
	return c.cache.Update(resp), nil
}

// Verify はハッシュトークンによるメールフィールドの検証を行う。
// UserIDもUserも指定されない場合は、現在のアイデンティティを解決し、
// 同じType・Hashで検証を行う。
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (map[string]any, error) {
	switch req.Type {
	case VerifyTypeEmail, VerifyTypeNotificationEmail:
	default:
		return nil, fmt.Errorf("不正な検証種別です: %q", req.Type)
	}
	if req.Hash == "" {
		return nil, fmt.Errorf("検証ハッシュが指定されていません")
	}

	userID := req.UserID
	if userID == "" && req.User != nil {
		userID = req.User.ID()
	}
	if userID == "" {
		// 現在のアイデンティティを解決してから同じ条件で検証する
		resolved, err := c.GetUserID(ctx)
		if err != nil {
			return nil, err
		}
		userID = resolved
	}

	path := "/user/" + url.PathEscape(userID) + "/verify/" + string(req.Type) +
		"?hash=" + url.QueryEscape(req.Hash)
	return c.requester.Do(ctx, http.MethodGet, path, nil)
}

// VerifyEmail はメインのメールアドレスを検証する。
// userIDが空の場合は現在のアイデンティティが対象となる。
func (c *Client) VerifyEmail(ctx context.Context, userID, hash string) (map[string]any, error) {
	return c.Verify(ctx, VerifyRequest{UserID: userID, Type: VerifyTypeEmail, Hash: hash})
}

// VerifyNotificationEmail は通知用メールアドレスを検証する。
// userIDが空の場合は現在のアイデンティティが対象となる。
func (c *Client) VerifyNotificationEmail(ctx context.Context, userID, hash string) (map[string]any, error) {
	return c.Verify(ctx, VerifyRequest{UserID: userID, Type: VerifyTypeNotificationEmail, Hash: hash})
}

// recordCache はキャッシュ参照の結果を記録する。
func (c *Client) recordCache(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordIdentityCache(outcome)
	}
}
