// Package partner はパートナー帰属情報の解決を提供する。
// 明示オーバーライド、URLクエリパラメータ、Cookie、リモート
// アイデンティティの4つのソースを固定の優先順位で探索し、
// 解決結果をCookieへ永続化する。
package partner

import (
	"context"
	"log/slog"
	"net/url"
	"sync"

	"github.com/hitoshi/bridgeauth/cookiestore"
	"github.com/hitoshi/bridgeauth/identity"
	"github.com/hitoshi/bridgeauth/model"
)

const (
	// CookieName はパートナー情報の解決結果を保存するCookieのキー。
	CookieName = "bridge_partner_info"

	// QueryParamCode はパートナーコードのURLクエリパラメータ名。
	QueryParamCode = "p"
	// QueryParamInfo はパートナー情報のURLクエリパラメータ名。
	QueryParamInfo = "pi"
)

// Info はパートナー帰属情報。セッションを連れてきたパートナーを識別する。
type Info struct {
	PartnerCode string `json:"partnerCode"`
	PartnerInfo string `json:"partnerInfo"`
}

// ソース名（メトリクス用）
const (
	sourceOverride = "override"
	sourceURL      = "url"
	sourceCookie   = "cookie"
	sourceIdentity = "identity"
	sourceEmpty    = "empty"
)

// QueryReader はURLクエリパラメータの読み取りのインターフェース。
// 読み取り専用であり、書き込みは行わない。
type QueryReader interface {
	Get(name string) string
}

// URLValuesReader はurl.ValuesをQueryReaderとして使うアダプタ。
type URLValuesReader struct {
	values url.Values
}

// NewURLValuesReader はurl.Valuesを包むURLValuesReaderを生成する。
func NewURLValuesReader(values url.Values) *URLValuesReader {
	return &URLValuesReader{values: values}
}

// ParseURLReader は生のURL文字列からQueryReaderを生成する。
func ParseURLReader(rawURL string) (*URLValuesReader, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &URLValuesReader{values: parsed.Query()}, nil
}

// Get は指定パラメータの最初の値を返す。
func (r *URLValuesReader) Get(name string) string {
	return r.values.Get(name)
}

// IdentitySource は最終ソースとして使うアイデンティティ取得のインターフェース。
// 認証クライアントのアイデンティティ読み取り操作が満たす。
type IdentitySource interface {
	CurrentIdentity(ctx context.Context) (identity.Identity, error)
}

// IdentityFunc は関数をIdentitySourceとして使うアダプタ。
type IdentityFunc func(ctx context.Context) (identity.Identity, error)

// CurrentIdentity はIdentitySourceを実装する。
func (f IdentityFunc) CurrentIdentity(ctx context.Context) (identity.Identity, error) {
	return f(ctx)
}

// Collector はパートナー解決のメトリクス収集のインターフェース。
type Collector interface {
	RecordPartnerSource(field, source string)
}

// Resolver はパートナー帰属情報を優先順位付きで解決する。
// 優先順位はフィールドごとに独立して適用される:
//
//  1. SetOverrideで設定された明示オーバーライド（プロセス生存期間）
//  2. URLクエリパラメータ p / pi
//  3. Cookieに保存された前回の解決結果
//  4. リモートアイデンティティのpartnerCode / partnerInfo（offline時は省略）
//
// 解決結果はどのソースから得られたかに関わらずCookieへ書き戻される。
type Resolver struct {
	urlQuery   QueryReader
	cookies    cookiestore.Store
	identities IdentitySource
	logger     *slog.Logger
	metrics    Collector

	mu       sync.RWMutex
	override Info
}

// ResolverOptions はResolverの生成オプション。
type ResolverOptions struct {
	// URLQuery は現在のURLのクエリパラメータリーダー。nil可。
	URLQuery QueryReader
	// Cookies は解決結果の永続化先（必須）。
	Cookies cookiestore.Store
	// Identities は最終ソースのアイデンティティ取得元。nil可。
	Identities IdentitySource
	// Logger は構造化ログの出力先。nilの場合はslog.Default()。
	Logger *slog.Logger
	// Metrics はメトリクス収集フック。nil可。
	Metrics Collector
}

// NewResolver はResolverを生成する。
func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		urlQuery:   opts.URLQuery,
		cookies:    opts.Cookies,
		identities: opts.Identities,
		logger:     logger,
		metrics:    opts.Metrics,
	}
}

// SetOverride は最優先のオーバーライド値を設定する。
// 空でないフィールドのみが優先される。オーバーライドはCookieや
// URLから読み戻されることはなく、プロセス生存期間の間保持される。
func (r *Resolver) SetOverride(info Info) {
	r.mu.Lock()
	r.override = info
	r.mu.Unlock()
}

// Resolve はパートナー帰属情報を解決する。
// フィールドごとに最初の非空値が採用される。offlineがtrueの場合、
// リモートアイデンティティの取得は行わない。
//
// アイデンティティ取得が「セッション不在」で失敗した場合は
// 致命的ではなく、それまでに集まった値で解決を続行する。
// それ以外の取得エラーは呼び出し元へ返し、Cookieへの書き戻しは行わない。
func (r *Resolver) Resolve(ctx context.Context, offline bool) (Info, error) {
	var info Info
	codeSource, infoSource := sourceEmpty, sourceEmpty

	// 1. 明示オーバーライド
	r.mu.RLock()
	override := r.override
	r.mu.RUnlock()
	if override.PartnerCode != "" {
		info.PartnerCode = override.PartnerCode
		codeSource = sourceOverride
	}
	if override.PartnerInfo != "" {
		info.PartnerInfo = override.PartnerInfo
		infoSource = sourceOverride
	}

	// 2. URLクエリパラメータ
	if r.urlQuery != nil {
		if info.PartnerCode == "" {
			if v := r.urlQuery.Get(QueryParamCode); v != "" {
				info.PartnerCode = v
				codeSource = sourceURL
			}
		}
		if info.PartnerInfo == "" {
			if v := r.urlQuery.Get(QueryParamInfo); v != "" {
				info.PartnerInfo = v
				infoSource = sourceURL
			}
		}
	}

	// 3. Cookieに保存された前回の解決結果（不足しているフィールドのみ）
	if info.PartnerCode == "" || info.PartnerInfo == "" {
		var cached Info
		ok, err := r.cookies.Read(CookieName, &cached)
		if err != nil {
			// Cookieの破損は解決自体を妨げない
			r.logger.Warn("パートナーCookieの読み取りに失敗しました",
				slog.String("error", err.Error()),
			)
		} else if ok {
			if info.PartnerCode == "" && cached.PartnerCode != "" {
				info.PartnerCode = cached.PartnerCode
				codeSource = sourceCookie
			}
			if info.PartnerInfo == "" && cached.PartnerInfo != "" {
				info.PartnerInfo = cached.PartnerInfo
				infoSource = sourceCookie
			}
		}
	}

	// 4. リモートアイデンティティ（offline時は省略）
	if !offline && r.identities != nil && (info.PartnerCode == "" || info.PartnerInfo == "") {
		id, err := r.identities.CurrentIdentity(ctx)
		switch {
		case model.IsNoIdentity(err):
			// セッション不在は通常の状態: 集まった値のまま続行する
		case err != nil:
			return Info{}, err
		default:
			if info.PartnerCode == "" && id.PartnerCode() != "" {
				info.PartnerCode = id.PartnerCode()
				codeSource = sourceIdentity
			}
			if info.PartnerInfo == "" && id.PartnerInfo() != "" {
				info.PartnerInfo = id.PartnerInfo()
				infoSource = sourceIdentity
			}
		}
	}

	// 解決結果は空フィールドであっても無条件にCookieへ書き戻す
	if err := r.cookies.Write(CookieName, info); err != nil {
		r.logger.Warn("パートナーCookieの書き込みに失敗しました",
			slog.String("error", err.Error()),
		)
	}

	if r.metrics != nil {
		r.metrics.RecordPartnerSource("partnerCode", codeSource)
		r.metrics.RecordPartnerSource("partnerInfo", infoSource)
	}

	return info, nil
}
