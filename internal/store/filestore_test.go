package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	return s
}

func seedRecord(t *testing.T, s *FileStore, orderID string) *domain.OrderRecord {
	t.Helper()
	rec, err := domain.NewOrderRecord(orderID, orderID+"@example.com", "占いサービス")
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed record %s: %v", orderID, err)
	}
	return rec
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedRecord(t, s, "ORD001")

	got, err := s.Get(ctx, "ORD001")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.OrderID != "ORD001" || got.Status != domain.StatusPending {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "MISSING")
	if !errorutil.IsKind(err, errorutil.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCreateIsIdempotencyGuard(t *testing.T) {
	s := newTestStore(t)
	rec := seedRecord(t, s, "ORD002")

	err := s.Create(context.Background(), rec)
	if !errorutil.IsKind(err, errorutil.KindAlreadyExists) {
		t.Fatalf("second create should fail with AlreadyExists, got %v", err)
	}
}

func TestUpdatePersistsAndBumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	before := seedRecord(t, s, "ORD003")

	updated, err := s.Update(ctx, "ORD003", func(r *domain.OrderRecord) error {
		return r.ApplyGeneration("鑑定結果", 1.5)
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != domain.StatusGenerated {
		t.Fatalf("mutation not applied: %+v", updated)
	}
	if !updated.UpdatedAt.After(before.UpdatedAt) && !updated.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("updatedAt should move forward")
	}

	// 再読込して永続化を確認
	reloaded, err := s.Get(ctx, "ORD003")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Content != "鑑定結果" || reloaded.APICost != 1.5 {
		t.Fatalf("update was not durable: %+v", reloaded)
	}
}

func TestUpdateMutatorErrorDoesNotPersist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRecord(t, s, "ORD004")

	wantErr := fmt.Errorf("mutation rejected")
	_, err := s.Update(ctx, "ORD004", func(r *domain.OrderRecord) error {
		r.Content = "should not survive"
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected mutator error, got %v", err)
	}

	rec, _ := s.Get(ctx, "ORD004")
	if rec.Content != "" {
		t.Fatal("failed mutation must not be persisted")
	}
}

func TestConcurrentUpdatesSameOrderDoNotInterleave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRecord(t, s, "ORD005")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "ORD005", func(r *domain.OrderRecord) error {
				r.APICost += 0.5
				return nil
			})
			if err != nil {
				t.Errorf("concurrent update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := s.Get(ctx, "ORD005")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.APICost != float64(n)*0.5 {
		t.Fatalf("lost update detected: cost = %v, want %v", rec.APICost, float64(n)*0.5)
	}
}

func TestListFilterAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		seedRecord(t, s, fmt.Sprintf("ORD10%d", i))
		time.Sleep(5 * time.Millisecond) // updatedAt に差をつける
	}
	if _, err := s.Update(ctx, "ORD101", func(r *domain.OrderRecord) error {
		return r.ApplyGeneration("鑑定結果", 0)
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	// 更新したばかりの ORD101 が先頭（updatedAt 降順）
	if all[0].OrderID != "ORD101" {
		t.Fatalf("expected ORD101 first, got %s", all[0].OrderID)
	}

	pending, err := s.List(ctx, Filter{Status: domain.StatusPending})
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending records, got %d", len(pending))
	}

	limited, err := s.List(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatalf("list limited failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit not respected: got %d", len(limited))
	}
}

// apiserver と worker が同じデータディレクトリを共有する構成を、
// 別インスタンス（= 別プロセス相当、mutex を共有しない）の並行更新で再現する
func TestUpdateSerializedAcrossStoreInstances(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewFileStore(dir, logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create first store: %v", err)
	}
	s2, err := NewFileStore(dir, logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create second store: %v", err)
	}

	ctx := context.Background()
	seedRecord(t, s1, "ORD100")

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		for _, s := range []*FileStore{s1, s2} {
			store := s
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, "ORD100", func(r *domain.OrderRecord) error {
					r.APICost += 1
					return nil
				})
				if err != nil {
					t.Errorf("cross-instance update failed: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	rec, err := s1.Get(ctx, "ORD100")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.APICost != float64(2*n) {
		t.Fatalf("lost update across instances: cost = %v, want %v", rec.APICost, float64(2*n))
	}
}
