// Package stubserver はリモート認証サービスのインメモリスタブを提供する。
// SDKのローカル開発と結合テストのために、本物のサービスと同じ
// ワイヤ契約（エラーペイロードのerrorフィールド判別を含む）を実装する。
// 状態はすべてメモリ上に保持され、永続化は行わない。
package stubserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/bridgeauth/model"
)

// sessionCookieName はスタブがセッション追跡に使うCookie名。
const sessionCookieName = "bridge_session"

// Account はスタブに登録されるアカウント。
type Account struct {
	ID          string
	Username    string
	Password    string
	Email       string
	Hash        string // ハッシュログインとメール検証に使うトークン
	Roles       []string
	PartnerCode string
	PartnerInfo string
	Properties  map[string]any // PUT /user/{id} で更新される追加プロパティ
}

// Server はスタブ認証サービス。
type Server struct {
	mu       sync.Mutex
	accounts map[string]*Account // ID -> Account
	sessions map[string]string   // セッションID -> アカウントID
	logger   *slog.Logger
}

// NewServer は空のServerを生成する。
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		accounts: make(map[string]*Account),
		sessions: make(map[string]string),
		logger:   logger,
	}
}

// AddAccount はアカウントを登録する。同一IDは上書きされる。
func (s *Server) AddAccount(acc Account) {
	if acc.Properties == nil {
		acc.Properties = make(map[string]any)
	}
	s.mu.Lock()
	s.accounts[acc.ID] = &acc
	s.mu.Unlock()
}

// Router は全エンドポイントのルーティングを構成したchi.Routerを返す。
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/user", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/login-by-hash", s.handleLoginByHash)
		r.Post("/username-available", s.handleUsernameAvailable)
		r.Get("/logout", s.handleLogout)
		r.Get("/username/{userId}", s.handleGetUsername)
		r.Get("/identity", s.handleIdentity)
		r.Get("/identity/{role}", s.handleIdentity)
		r.Put("/{id}", s.handleUpdate)
		r.Get("/{id}/verify/{type}", s.handleVerify)
	})

	return r
}

// identityPayload はアカウントをアイデンティティレスポンスへ変換する。
// ロールは真値フラグとして展開され、追加プロパティもそのまま含まれる。
func identityPayload(acc *Account) map[string]any {
	payload := map[string]any{
		"id":       acc.ID,
		"username": acc.Username,
	}
	for _, role := range acc.Roles {
		payload[role] = true
	}
	if acc.PartnerCode != "" {
		payload["partnerCode"] = acc.PartnerCode
	}
	if acc.PartnerInfo != "" {
		payload["partnerInfo"] = acc.PartnerInfo
	}
	for k, v := range acc.Properties {
		payload[k] = v
	}
	return payload
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// writeError はerrorフィールド判別子付きのエラーペイロードを書き込む。
// 本物のサービスと同様、エラーはHTTPステータスではなくペイロードで運ばれる。
func writeError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusOK, map[string]any{"error": code})
}

// decodeBody はリクエストボディをマップへデコードする。
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid_request")
		return nil, false
	}
	return body, true
}

// stringField はマップから文字列フィールドを取り出す。
func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// hasRole はアカウントが指定ロールを保持するかを返す。
func (acc *Account) hasRole(role string) bool {
	for _, r := range acc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// startSession は新しいセッションを発行し、Cookieへ書き込む。
func (s *Server) startSession(w http.ResponseWriter, accountID string) {
	sessionID := uuid.New().String()
	s.sessions[sessionID] = accountID
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
	})
}

// sessionAccount はリクエストのセッションCookieからアカウントを引く。
func (s *Server) sessionAccount(r *http.Request) *Account {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	accountID, ok := s.sessions[cookie.Value]
	if !ok {
		return nil
	}
	return s.accounts[accountID]
}

// handleLogin は資格情報ログインを処理する。
// POST /user/login {username, password, role}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	username := stringField(body, "username")
	password := stringField(body, "password")
	role := stringField(body, "role")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if acc.Username == username && acc.Password == password {
			if role != "" && !acc.hasRole(role) {
				writeError(w, "bad_credentials")
				return
			}
			s.startSession(w, acc.ID)
			s.logger.Info("スタブ: ログイン成功", slog.String("user_id", acc.ID))
			writeJSON(w, http.StatusOK, identityPayload(acc))
			return
		}
	}
	writeError(w, "bad_credentials")
}

// handleLoginByHash はハッシュログインを処理する。
// POST /user/login-by-hash {email, hash, role, [username]}
func (s *Server) handleLoginByHash(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	email := stringField(body, "email")
	hash := stringField(body, "hash")
	role := stringField(body, "role")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if acc.Email == email && acc.Hash == hash {
			if role != "" && !acc.hasRole(role) {
				writeError(w, "bad_credentials")
				return
			}
			s.startSession(w, acc.ID)
			writeJSON(w, http.StatusOK, identityPayload(acc))
			return
		}
	}
	writeError(w, "bad_credentials")
}

// handleUsernameAvailable はユーザー名の利用可否を返す。
// POST /user/username-available {username}
func (s *Server) handleUsernameAvailable(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	username := stringField(body, "username")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if acc.Username == username {
			writeJSON(w, http.StatusOK, map[string]any{"available": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": true})
}

// handleLogout はセッションを破棄する。
// GET /user/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		delete(s.sessions, cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleGetUsername は指定idのユーザー名を返す。
// GET /user/username/{userId}
func (s *Server) handleGetUsername(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		writeError(w, "user_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": acc.Username})
}

// handleIdentity は現在のセッションのアイデンティティを返す。
// GET /user/identity[/{role}]
// ロールセグメントはスコープ指定であり、保持していないロールを
// 指定された場合はセッション不在と同じエラーを返す。
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.sessionAccount(r)
	if acc == nil {
		writeError(w, model.ErrCodeNoIdentity)
		return
	}
	if role := chi.URLParam(r, "role"); role != "" && !acc.hasRole(role) {
		writeError(w, model.ErrCodeNoIdentity)
		return
	}
	writeJSON(w, http.StatusOK, identityPayload(acc))
}

// handleUpdate はアカウントのプロパティを更新する。
// PUT /user/{id} {...properties}
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.sessionAccount(r)
	if acc == nil {
		writeError(w, model.ErrCodeNoIdentity)
		return
	}
	if acc.ID != id {
		writeError(w, "forbidden")
		return
	}

	for k, v := range body {
		acc.Properties[k] = v
	}
	writeJSON(w, http.StatusOK, identityPayload(acc))
}

// handleVerify はハッシュトークンによるメールフィールドの検証を処理する。
// GET /user/{id}/verify/{type}?hash={hash}
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	verifyType := chi.URLParam(r, "type")
	hash := r.URL.Query().Get("hash")

	if verifyType != "email" && verifyType != "notificationEmail" {
		writeError(w, "invalid_type")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		writeError(w, "user_not_found")
		return
	}
	if hash == "" || hash != acc.Hash {
		writeError(w, "invalid_hash")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified": true,
		"type":     verifyType,
	})
}
