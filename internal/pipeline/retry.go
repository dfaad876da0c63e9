package pipeline

import (
	"context"
	"time"

	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// RetryPolicy Orchestrator 境界での一律リトライ方針
// 可重试分类（GENERATION/RENDER/DELIVERY）のみ再試行し、
// VALIDATION/TEMPLATE_NOT_FOUND/NOT_FOUND は即座に失敗を返す。
type RetryPolicy struct {
	Attempts int           // 総試行回数（1 以上）
	Backoff  time.Duration // 試行間隔の基準値（試行ごとに線形増加）
}

// Do fn を方針に従って実行する。最終失敗は呼び出し側へそのまま見える。
func (p RetryPolicy) Do(ctx context.Context, log logger.Logger, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errorutil.IsRetryable(err) {
			return err
		}
		if i == attempts {
			break
		}

		wait := p.Backoff * time.Duration(i)
		log.Warnf(ctx, "[Retry] %s failed (attempt %d/%d), retrying in %v: %v", op, i, attempts, wait, err)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
	return err
}
