package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// FileStore 注文ごとの JSON ドキュメントによるストア実装
// <dataDir>/fortunes/<orderId>.json
//
// apiserver と worker が同じデータディレクトリを共有するため、orderId 単位の
// 直列化はプロセス内 mutex だけでは足りない。更新系は .lock ファイルへの
// flock（アドバイザリロック）も併せて取り、プロセス間でも read-modify-write
// が交錯しないようにする。読み取りは rename による原子的置き換えのおかげで
// ロックなしでも一貫したスナップショットになる。
type FileStore struct {
	dir string
	log logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // orderId 単位の直列化ロック（プロセス内）
}

// NewFileStore FileStore を作成（fortunes ディレクトリは必要に応じて作成）
func NewFileStore(dataDir string, log logger.Logger) (*FileStore, error) {
	dir := filepath.Join(dataDir, "fortunes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fortunes dir failed: %w", err)
	}
	return &FileStore{
		dir:   dir,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// lockFor orderId 単位のロックを取得（異なる orderId は独立に進行する）
func (s *FileStore) lockFor(orderID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[orderID] = l
	}
	return l
}

// acquire 更新系の排他を取る：プロセス内 mutex + プロセス間 flock
// 返された release を呼ぶまで同一 orderId の他の更新はブロックされる
func (s *FileStore) acquire(orderID string) (release func(), err error) {
	l := s.lockFor(orderID)
	l.Lock()

	f, err := os.OpenFile(s.lockPath(orderID), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		l.Unlock()
		return nil, fmt.Errorf("open lock file failed: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		l.Unlock()
		return nil, fmt.Errorf("flock order file failed: %w", err)
	}

	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		l.Unlock()
	}, nil
}

func (s *FileStore) path(orderID string) string {
	return filepath.Join(s.dir, orderID+".json")
}

func (s *FileStore) lockPath(orderID string) string {
	return filepath.Join(s.dir, orderID+".lock")
}

// Get 注文レコード取得
// rename による原子的置き換えのためロック不要（更新中でも一貫した内容が読める）
func (s *FileStore) Get(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	if orderID == "" {
		return nil, errorutil.Validation("order ID is required")
	}
	return s.read(orderID)
}

// Create 注文レコード新規作成（幂等守卫：二重作成は AlreadyExists）
func (s *FileStore) Create(ctx context.Context, rec *domain.OrderRecord) error {
	if rec == nil || rec.OrderID == "" {
		return errorutil.Validation("order record with order ID is required")
	}
	release, err := s.acquire(rec.OrderID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(s.path(rec.OrderID)); err == nil {
		return errorutil.AlreadyExists("order already exists: %s", rec.OrderID)
	}
	return s.write(rec)
}

// Update 変換関数を適用して原子的に永続化
// ロックは mutate の実行中も保持されるため、mutate 内でコラボレーター呼び出しを
// 行えばステージ全体が orderId 単位で排他される（別プロセスも含む）
func (s *FileStore) Update(ctx context.Context, orderID string, mutate func(*domain.OrderRecord) error) (*domain.OrderRecord, error) {
	release, err := s.acquire(orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := s.read(orderID)
	if err != nil {
		return nil, err
	}
	if err := mutate(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Now()
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List 条件に合うレコードを updatedAt 降順で返す
// 壊れたファイルはスキップして警告のみ（一覧全体を失敗させない）
func (s *FileStore) List(ctx context.Context, filter Filter) ([]*domain.OrderRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read fortunes dir failed: %w", err)
	}

	records := make([]*domain.OrderRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		orderID := strings.TrimSuffix(e.Name(), ".json")
		rec, err := s.Get(ctx, orderID)
		if err != nil {
			s.log.Warnf(ctx, "[FileStore] Skipping unreadable record: %s, error: %v", e.Name(), err)
			continue
		}
		if !matches(rec, filter) {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})

	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func matches(rec *domain.OrderRecord, f Filter) bool {
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && rec.UpdatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.UpdatedAt.After(f.To) {
		return false
	}
	return true
}

// read ファイルからレコードを読み込む（呼び出し側でロック保持前提）
func (s *FileStore) read(orderID string) (*domain.OrderRecord, error) {
	data, err := os.ReadFile(s.path(orderID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errorutil.NotFound("order not found: %s", orderID)
		}
		return nil, fmt.Errorf("read order file failed: %w", err)
	}
	var rec domain.OrderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order file failed: %w", err)
	}
	return &rec, nil
}

// write 一時ファイル書き込み + fsync + rename で耐久性を確保
// rename 完了までは成功を返さないため、クラッシュ後も半端な状態が参照されない
func (s *FileStore) write(rec *domain.OrderRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal order record failed: %w", err)
	}

	target := s.path(rec.OrderID)
	tmp, err := os.CreateTemp(s.dir, rec.OrderID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file failed: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write order file failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync order file failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close order file failed: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename order file failed: %w", err)
	}
	return nil
}
