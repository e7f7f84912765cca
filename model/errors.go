// Package model はリモート認証サービスとの間で共有されるドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError はリモートサービスが返すエラーペイロードを表す。
// レスポンスの error フィールド（判別子）をCodeとして保持し、
// ペイロード全体をそのまま呼び出し元へ引き渡す。
// このSDKはエラーの形状を解釈せず、Code以外は不透明に扱う。
type APIError struct {
	Code    string         // error フィールドの値
	Message string         // message フィールドの値（存在する場合のみ）
	Payload map[string]any // レスポンスボディ全体
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] remote error", e.Code)
}

// 定義済みエラーコード
const (
	// ErrCodeNoIdentity は認証済みセッションが存在しないことを示す。
	// このSDKが特別扱いする唯一のエラー種別。
	ErrCodeNoIdentity = "no_identity"
)

// NewAPIError はレスポンスペイロードからAPIErrorを生成する。
// payloadのerrorフィールドは真値であることを呼び出し元が保証する。
func NewAPIError(payload map[string]any) *APIError {
	e := &APIError{Payload: payload}
	if code, ok := payload["error"].(string); ok {
		e.Code = code
	} else {
		// error フィールドが文字列以外の真値の場合は文字列化する
		e.Code = fmt.Sprintf("%v", payload["error"])
	}
	if msg, ok := payload["message"].(string); ok {
		e.Message = msg
	}
	return e
}

// NewNoIdentityError はセッション不在エラーを生成する。
func NewNoIdentityError() *APIError {
	return &APIError{
		Code:    ErrCodeNoIdentity,
		Message: "認証済みセッションが存在しません。",
		Payload: map[string]any{"error": ErrCodeNoIdentity},
	}
}

// IsNoIdentity はerrが「セッション不在」エラーかどうかを判定する。
// hasIdentityやパートナー情報解決では、この種別のみ失敗ではなく
// 「セッションがない」という通常の状態として扱われる。
func IsNoIdentity(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrCodeNoIdentity
	}
	return false
}
