// Package cookiestore はブラウザのCookieに相当するローカルの
// キー・バリュー永続化を提供する。値はJSONとしてシリアライズされる。
// パートナー情報の解決結果の永続化に使用される。
package cookiestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store は名前付きキーへの構造化値の読み書きのインターフェース。
// Readは値が存在したかどうかを返し、存在しない場合はvを変更しない。
type Store interface {
	Read(name string, v any) (bool, error)
	Write(name string, v any) error
}

// MemoryStore はメモリ上のStore実装。テストや組み込み用途に使用する。
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]json.RawMessage)}
}

// Read は名前付きキーの値をvへデシリアライズする。
func (s *MemoryStore) Read(name string, v any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.values[name]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("値のデシリアライズに失敗しました: %w", err)
	}
	return true, nil
}

// Write は名前付きキーへ値をシリアライズして保存する。
func (s *MemoryStore) Write(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("値のシリアライズに失敗しました: %w", err)
	}
	s.mu.Lock()
	s.values[name] = raw
	s.mu.Unlock()
	return nil
}

// FileStore はJSONファイルに永続化するStore実装。
// プロセスをまたいでCookie相当の状態を保持する。
// 書き込みは一時ファイルへの書き込みとリネームで行い、
// 中断されても元のファイルが壊れないようにする。
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore は指定パスのファイルに永続化するFileStoreを生成する。
// ファイルは初回のWriteまで作成されない。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Read は名前付きキーの値をvへデシリアライズする。
// ファイルが存在しない場合は値なしとして扱う。
func (s *FileStore) Read(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return false, err
	}
	raw, ok := values[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("値のデシリアライズに失敗しました: %w", err)
	}
	return true, nil
}

// Write は名前付きキーへ値をシリアライズして保存する。
func (s *FileStore) Write(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("値のシリアライズに失敗しました: %w", err)
	}
	values[name] = raw

	return s.save(values)
}

// load はファイル全体を読み込む。ファイル不在は空マップを返す。
func (s *FileStore) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("ストアファイルの読み込みに失敗しました: %w", err)
	}
	values := make(map[string]json.RawMessage)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("ストアファイルのパースに失敗しました: %w", err)
	}
	return values, nil
}

// save はファイル全体を一時ファイル経由で書き込む。
func (s *FileStore) save(values map[string]json.RawMessage) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("ストアのシリアライズに失敗しました: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ストアディレクトリの作成に失敗しました: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bridgeauth-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ストアファイルの更新に失敗しました: %w", err)
	}
	return nil
}
