package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/bridgeauth/auth"
	"github.com/hitoshi/bridgeauth/cookiestore"
	"github.com/hitoshi/bridgeauth/internal/config"
	"github.com/hitoshi/bridgeauth/internal/logger"
	"github.com/hitoshi/bridgeauth/internal/metrics"
	"github.com/hitoshi/bridgeauth/internal/stubserver"
	"github.com/hitoshi/bridgeauth/partner"
	"github.com/hitoshi/bridgeauth/transport"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップする
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はCLIのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応する操作を実行する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// stub はリモートサービスを必要としないため、フル初期化をスキップする
	if cmd == CommandStub {
		logger.SetupDefault(w, "info")
		port := os.Getenv("BRIDGE_STUB_PORT")
		if port == "" {
			port = "8080"
		}
		return runStub(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("bridgectlを起動します",
		slog.String("command", string(cmd)),
		slog.String("base_url", cfg.BaseURL),
	)

	var rest []string
	if len(args) > 0 {
		rest = args[1:]
	}

	switch cmd {
	case CommandLogin:
		return runLogin(cfg, w, rest)
	case CommandLogout:
		return runLogout(cfg, w)
	case CommandWhoami:
		return runWhoami(cfg, w)
	case CommandPartner:
		return runPartner(cfg, w, rest)
	default:
		return runIdentity(cfg, w, rest)
	}
}

// stack はCLIの1コマンド分の依存関係一式。
type stack struct {
	client  *auth.Client
	cookies cookiestore.Store
	metrics *metrics.Collector
}

// buildStack はConfigからSDKの依存関係をワイヤリングする。
func buildStack(cfg *config.Config) (*stack, error) {
	// 1. メトリクスコレクタの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. Cookieストアの初期化（CLI実行間で解決結果を持ち越す）
	cookies := cookiestore.NewFileStore(cfg.CookieFile)

	// 3. トランスポートの構築
	tr, err := transport.New(transport.Options{
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RateLimit:         rate.Limit(cfg.RateLimit),
		RateBurst:         cfg.RateBurst,
		AllowPrivateHosts: cfg.AllowPrivateHosts,
		MaxResponseSize:   cfg.MaxResponseSize,
		Metrics:           collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build transport: %w", err)
	}

	// 4. 認証クライアントの構築
	client, err := auth.NewClient(auth.Options{
		Requester: tr,
		Metrics:   collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build auth client: %w", err)
	}

	return &stack{client: client, cookies: cookies, metrics: collector}, nil
}

// runLogin はログインを実行し、取得したアイデンティティを表示する。
func runLogin(cfg *config.Config, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(w)
	role := fs.String("role", "", "要求するロール")
	username := fs.String("username", "", "ユーザー名（必須）")
	password := fs.String("password", "", "パスワード（必須）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return fmt.Errorf("login requires -username and -password")
	}

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}

	ident, err := s.client.Login(context.Background(), *role, *username, *password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	return printJSON(w, ident)
}

// runLogout は現在のセッションを破棄する。
func runLogout(cfg *config.Config, w io.Writer) error {
	s, err := buildStack(cfg)
	if err != nil {
		return err
	}

	if err := s.client.Logout(context.Background()); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	fmt.Fprintln(w, "logged out")
	return nil
}

// runWhoami は現在のユーザーIDとユーザー名を表示する。
func runWhoami(cfg *config.Config, w io.Writer) error {
	s, err := buildStack(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	userID, err := s.client.GetUserID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve user id: %w", err)
	}

	username, err := s.client.GetUsername(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve username: %w", err)
	}

	fmt.Fprintf(w, "%s\t%s\n", userID, username)
	return nil
}

// runIdentity はアイデンティティを取得して表示する。
func runIdentity(cfg *config.Config, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("identity", flag.ContinueOnError)
	fs.SetOutput(w)
	role := fs.String("role", "", "要求するロール")
	force := fs.Bool("force", false, "キャッシュを無視してリモートから再取得する")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}

	ident, err := s.client.GetIdentity(context.Background(), auth.IdentityQuery{
		Role:  *role,
		Force: *force,
	})
	if err != nil {
		return fmt.Errorf("failed to get identity: %w", err)
	}

	return printJSON(w, ident)
}

// runPartner はパートナー帰属情報を解決して表示する。
// -url で現在のURLを、-code と -info でオーバーライド値を与えられる。
func runPartner(cfg *config.Config, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("partner", flag.ContinueOnError)
	fs.SetOutput(w)
	rawURL := fs.String("url", "", "クエリパラメータを読み取るURL")
	offline := fs.Bool("offline", false, "リモートアイデンティティの取得を行わない")
	code := fs.String("code", "", "パートナーコードのオーバーライド値")
	info := fs.String("info", "", "パートナー付加情報のオーバーライド値")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}

	var query partner.QueryReader
	if *rawURL != "" {
		reader, err := partner.ParseURLReader(*rawURL)
		if err != nil {
			return fmt.Errorf("invalid -url: %w", err)
		}
		query = reader
	}

	resolver := partner.NewResolver(partner.ResolverOptions{
		URLQuery:   query,
		Cookies:    s.cookies,
		Identities: s.client,
		Metrics:    s.metrics,
	})
	if *code != "" || *info != "" {
		resolver.SetOverride(partner.Info{PartnerCode: *code, PartnerInfo: *info})
	}

	resolved, err := resolver.Resolve(context.Background(), *offline)
	if err != nil {
		return fmt.Errorf("partner resolution failed: %w", err)
	}

	return printJSON(w, resolved)
}

// runStub はスタブサーバーモードで起動する。
// デモ用アカウントを1件登録した認証サービスのスタブをHTTPで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runStub(port string) error {
	// 1. スタブの構築とデモアカウントの登録
	stub := stubserver.NewServer(slog.Default())
	stub.AddAccount(stubserver.Account{
		ID:          "user-1001",
		Username:    "demo",
		Password:    "demo",
		Email:       "demo@example.com",
		Hash:        "demo-hash",
		Roles:       []string{"subscriber"},
		PartnerCode: "PARTNER-DEMO",
	})

	// 2. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      stub.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("スタブサーバーを起動します",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("サーバーのリッスンに失敗しました", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("スタブサーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("スタブサーバーを正常に停止しました")
	return nil
}

// printJSON は結果をインデント付きJSONで出力する。
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}
