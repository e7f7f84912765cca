package identity

import "sync"

// Cache はプロセス内で共有される最終既知のアイデンティティを保持する。
// 認証クライアントのインスタンスが所有し、全操作が同一のキャッシュ
// オブジェクトへマージする。部分レスポンスのマージは葉ごとの
// 追記・上書きであり、既存フィールドを黙って落とすことはない。
//
// ロックはマージ単位でのみ取得する。複数のリクエストが並行して
// 完了した場合、葉キーごとに最後のマージが勝つ。リクエスト単位の
// アトミック性は提供しない。
type Cache struct {
	mu   sync.Mutex
	data Identity
}

// NewCache は空のCacheを生成する。
// 初回のUpdateまでアイデンティティは存在しない状態となる。
func NewCache() *Cache {
	return &Cache{}
}

// Get は現在のキャッシュと、キャッシュが存在するかどうかを返す。
// 返されるのは共有インスタンスそのものであり、コピーではない。
func (c *Cache) Get() (Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		return nil, false
	}
	return c.data, true
}

// Update は部分アイデンティティをキャッシュへ構造的にマージし、
// マージ後のキャッシュを返す。初回呼び出し時は空のコンテナを
// 初期化してからマージする。マージ規則はmergeMapsを参照。
func (c *Cache) Update(partial map[string]any) Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = Identity{}
	}
	mergeMaps(c.data, partial)
	return c.data
}

// Reset はキャッシュを破棄し、アイデンティティ不在の状態へ戻す。
// ログアウト後に古いアイデンティティが読めてしまうことを防ぐ。
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// mergeMaps はsrcをdstへキーごとに再帰マージする。
//   - 両辺がマップの場合はネストしたマージを行う（フィールド単位で統合）
//   - srcがnilでdstの値が複合値の場合は何もしない（既存サブツリーを保持）
//   - 両辺がスライスの場合はインデックスごとにマージし、dst側の余剰要素は保持
//   - それ以外はsrcの値で上書きする
//
// dstにのみ存在するキーには触れない。srcにのみ存在するキーは追加される。
func mergeMaps(dst map[string]any, src map[string]any) {
	for k, sv := range src {
		dst[k] = mergeValue(dst[k], sv)
	}
}

// mergeValue は1つのキーに対するマージ結果を返す。
func mergeValue(dv, sv any) any {
	switch s := sv.(type) {
	case nil:
		// null的なソース値は複合値扱い: 既存の複合値への再帰は安全なno-op
		switch dv.(type) {
		case map[string]any, Identity, []any:
			return dv
		}
		return nil
	case map[string]any:
		if d, ok := asMap(dv); ok {
			mergeMaps(d, s)
			return d
		}
		return copyMap(s)
	case Identity:
		if d, ok := asMap(dv); ok {
			mergeMaps(d, s)
			return d
		}
		return copyMap(s)
	case []any:
		if d, ok := dv.([]any); ok {
			return mergeSlices(d, s)
		}
		return copySlice(s)
	default:
		return sv
	}
}

// mergeSlices はスライスをインデックスごとにマージする。
// src側が短い場合、dst側の余剰要素はそのまま残る。
func mergeSlices(dst, src []any) []any {
	for i, sv := range src {
		if i < len(dst) {
			dst[i] = mergeValue(dst[i], sv)
		} else {
			dst = append(dst, mergeValue(nil, sv))
		}
	}
	return dst
}

// asMap はマップ系の値をmap[string]anyとして取り出す。
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Identity:
		return m, true
	}
	return nil, false
}

// copyMap はキャッシュが呼び出し元のマップと共有されないよう深いコピーを作る。
func copyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = mergeValue(nil, v)
	}
	return dst
}

// copySlice はスライスの深いコピーを作る。
func copySlice(src []any) []any {
	dst := make([]any, len(src))
	for i, v := range src {
		dst[i] = mergeValue(nil, v)
	}
	return dst
}
