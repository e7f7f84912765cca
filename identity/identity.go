// Package identity は認証済みプリンシパルのローカル表現とそのキャッシュを提供する。
// リモートサービスが返すレスポンスをそのまま保持するオープンスキーマであり、
// 固定のフィールド定義は持たない。
package identity

// Identity は認証済みユーザーの表現。
// 慣習的に id（ユーザー識別子）、ロールフラグ（真値ならそのロールを保持）、
// partnerCode / partnerInfo を含むが、リモートサービスが返す
// 任意のフィールドがそのままアイデンティティの一部となる。
type Identity map[string]any

// ID はユーザー識別子を返す。未設定の場合は空文字列を返す。
func (id Identity) ID() string {
	return stringValue(id["id"])
}

// PartnerCode はアイデンティティに含まれるパートナーコードを返す。
func (id Identity) PartnerCode() string {
	return stringValue(id["partnerCode"])
}

// PartnerInfo はアイデンティティに含まれるパートナー情報を返す。
func (id Identity) PartnerInfo() string {
	return stringValue(id["partnerInfo"])
}

// HasRole は指定ロールのフラグが真値かどうかを返す。
// ロールフラグは厳密なbool型とは限らないため、truthy判定を行う。
func (id Identity) HasRole(role string) bool {
	if role == "" {
		return false
	}
	return isTruthy(id[role])
}

// stringValue は値を文字列として取り出す。文字列以外はゼロ値扱い。
func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// isTruthy は値の真値判定を行う。
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
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		// マップやスライス等の複合値は存在すれば真とみなす
		return true
	}
}
