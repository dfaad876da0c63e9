package store

import (
	"context"
	"time"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
)

// Filter 一覧取得条件
type Filter struct {
	Status domain.Status // 空なら全件
	From   time.Time     // updatedAt 下限（ゼロ値なら無視）
	To     time.Time     // updatedAt 上限（ゼロ値なら無視）
	Limit  int           // 0 なら無制限
}

// Store 注文レコードストア
// 永続化と orderId 単位の読み書き直列化を一手に引き受ける。
// 他のコンポーネントはレコードを値として受け渡すだけで、直接書き込まない。
type Store interface {
	// Get 注文レコード取得（存在しなければ errorutil.NotFound）
	Get(ctx context.Context, orderID string) (*domain.OrderRecord, error)

	// Create 注文レコード新規作成（重複は errorutil.AlreadyExists）
	Create(ctx context.Context, rec *domain.OrderRecord) error

	// Update 変換関数を適用して原子的に永続化する。
	// 同一 orderId への並行更新は mutate の実行を含めて直列化される
	// （ストアを共有する別プロセスの更新とも交錯しない）。
	// 永続化完了までは成功を返さない。
	Update(ctx context.Context, orderID string, mutate func(*domain.OrderRecord) error) (*domain.OrderRecord, error)

	// List 条件に合うレコードを updatedAt 降順で返す
	List(ctx context.Context, filter Filter) ([]*domain.OrderRecord, error)
}
