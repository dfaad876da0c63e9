package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tohoso/ai-fortune-service/internal/dispatcher"
	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/internal/renderer"
	"github.com/Tohoso/ai-fortune-service/internal/store"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// fakeGenerator 生成呼び出しを記録するフェイク
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, customer domain.Customer, ft domain.FortuneType) (string, float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if customer.Name == "" || customer.BirthDate == "" || customer.ConsultationText == "" {
		return "", 0, errorutil.Validation("customer fields missing")
	}
	if f.err != nil {
		return "", 0, f.err
	}
	return fmt.Sprintf("【%s】\n\n%s様の鑑定結果です。", ft, customer.Name), 4.95, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRenderer タイムスタンプ付きパスを返すフェイク
type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRenderer) Render(ctx context.Context, orderID, content string, meta renderer.Meta) (string, error) {
	f.mu.Lock()
	f.calls++
	seq := f.calls
	f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("/tmp/pdfs/fortune_%s_%d.pdf", orderID, seq), nil
}

func (f *fakeRenderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeDispatcher 投递を記録するフェイク
type fakeDispatcher struct {
	mu    sync.Mutex
	calls int
	errs  []error // 呼び出し順に消費、尽きたら成功
}

func (f *fakeDispatcher) Deliver(ctx context.Context, orderID string, rcpt dispatcher.Recipient, artifactPath, content string) (*dispatcher.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &dispatcher.Receipt{MessageID: fmt.Sprintf("msg-%d", f.calls), To: rcpt.Email, SentAt: time.Now()}, nil
}

type testEnv struct {
	store *store.FileStore
	gen   *fakeGenerator
	ren   *fakeRenderer
	disp  *fakeDispatcher
	pipe  *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	gen := &fakeGenerator{}
	ren := &fakeRenderer{}
	disp := &fakeDispatcher{}
	pipe := New(s, gen, ren, disp, RetryPolicy{Attempts: 1}, nil, logger.NewNop())
	return &testEnv{store: s, gen: gen, ren: ren, disp: disp, pipe: pipe}
}

func seedOrder(t *testing.T, env *testEnv, orderID string, complete bool) {
	t.Helper()
	rec, err := domain.NewOrderRecord(orderID, orderID+"@example.com", "占いサービス")
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	if complete {
		rec.Customer.Name = "太郎"
		rec.Customer.BirthDate = "1985-06-15"
		rec.Customer.ConsultationText = "仕事の悩み"
		rec.FortuneType = domain.FortuneCareer
	}
	if err := env.store.Create(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}
}

func TestRunOnceEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedOrder(t, env, "E2E_001", true)

	// 1回目: pending -> generated
	rec, err := env.pipe.RunOnce(ctx, "E2E_001")
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if rec.Status != domain.StatusGenerated {
		t.Fatalf("expected generated, got %s", rec.Status)
	}
	if !strings.Contains(rec.Content, "career") {
		t.Fatalf("content should reflect career fortune type: %s", rec.Content)
	}
	if rec.APICost != 4.95 {
		t.Fatalf("cost not persisted: %v", rec.APICost)
	}

	// 2回目: generated -> sent（render + deliver）
	rec, err = env.pipe.RunOnce(ctx, "E2E_001")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if rec.Status != domain.StatusSent || rec.PDFPath == "" || rec.SentAt == nil {
		t.Fatalf("unexpected state after delivery: %+v", rec)
	}

	// 3回目: sent は no-op
	again, err := env.pipe.RunOnce(ctx, "E2E_001")
	if err != nil {
		t.Fatalf("third run failed: %v", err)
	}
	if again.Status != domain.StatusSent {
		t.Fatalf("sent order should stay sent, got %s", again.Status)
	}

	if env.gen.callCount() != 1 {
		t.Fatalf("expected exactly one generation call, got %d", env.gen.callCount())
	}
}

func TestSentRequiresPassingThroughGenerated(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "SM_001", true)

	rec, err := env.pipe.RunOnce(context.Background(), "SM_001")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// pending からの 1 遷移では sent に到達しない
	if rec.Status == domain.StatusSent {
		t.Fatal("order must not jump from pending to sent in one transition")
	}
	if rec.Status != domain.StatusGenerated {
		t.Fatalf("expected generated, got %s", rec.Status)
	}
}

func TestGenerateFailureMovesToError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedOrder(t, env, "ERR_001", true)
	env.gen.err = errorutil.Generation("claude unavailable", nil)

	_, err := env.pipe.RunOnce(ctx, "ERR_001")
	if !errorutil.IsKind(err, errorutil.KindGeneration) {
		t.Fatalf("expected GenerationError, got %v", err)
	}

	rec, _ := env.store.Get(ctx, "ERR_001")
	if rec.Status != domain.StatusError {
		t.Fatalf("expected error status, got %s", rec.Status)
	}
	if rec.Error == nil || rec.Error.Message == "" || rec.Error.Timestamp.IsZero() {
		t.Fatalf("error info should be recorded: %+v", rec.Error)
	}

	// 復旧後の再駆動で中断点（生成）から再開できる
	env.gen.err = nil
	rec, err = env.pipe.RunOnce(ctx, "ERR_001")
	if err != nil {
		t.Fatalf("re-drive failed: %v", err)
	}
	if rec.Status != domain.StatusGenerated {
		t.Fatalf("expected generated after re-drive, got %s", rec.Status)
	}
}

func TestDeliveryFailureKeepsArtifactForRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedOrder(t, env, "DLV_001", true)

	if _, err := env.pipe.RunOnce(ctx, "DLV_001"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	env.disp.errs = []error{errorutil.Delivery("smtp outage", nil)}
	_, err := env.pipe.RunOnce(ctx, "DLV_001")
	if !errorutil.IsKind(err, errorutil.KindDelivery) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}

	rec, _ := env.store.Get(ctx, "DLV_001")
	if rec.Status != domain.StatusError {
		t.Fatalf("expected error status, got %s", rec.Status)
	}
	if rec.PDFPath == "" {
		t.Fatal("pdfPath must survive a delivery-only failure")
	}
	stalePath := rec.PDFPath
	rendersBefore := env.ren.callCount()

	// 配送のみの再試行：既存アーティファクトを再利用し、再レンダリングしない
	rec, err = env.pipe.RunOnce(ctx, "DLV_001")
	if err != nil {
		t.Fatalf("delivery retry failed: %v", err)
	}
	if rec.Status != domain.StatusSent {
		t.Fatalf("expected sent after retry, got %s", rec.Status)
	}
	if rec.PDFPath != stalePath {
		t.Fatal("retry should reuse the existing artifact")
	}
	if env.ren.callCount() != rendersBefore {
		t.Fatal("delivery retry must not re-render")
	}
}

func TestEditInvalidatesArtifactAndRegenerateProducesNewPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedOrder(t, env, "EDIT_001", true)

	if _, err := env.pipe.Process(ctx, "EDIT_001"); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	sent, _ := env.store.Get(ctx, "EDIT_001")
	stalePath := sent.PDFPath

	rec, err := env.pipe.EditContent(ctx, "EDIT_001", "【修正版】\n\n修正後の鑑定内容です。")
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if rec.Status != domain.StatusEdited || !rec.EditedByAdmin {
		t.Fatalf("unexpected state after edit: %+v", rec)
	}
	if rec.PDFPath != "" {
		t.Fatal("edit must invalidate the stale pdf path")
	}

	rec, err = env.pipe.RegenerateAndSend(ctx, "EDIT_001")
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if rec.Status != domain.StatusSent {
		t.Fatalf("expected sent, got %s", rec.Status)
	}
	if rec.PDFPath == stalePath || rec.PDFPath == "" {
		t.Fatalf("regenerate must produce a distinct artifact path: %s", rec.PDFPath)
	}
}

func TestEditValidation(t *testing.T) {
	env := newTestEnv(t)
	seedOrder(t, env, "EDIT_002", true)

	if _, err := env.pipe.EditContent(context.Background(), "EDIT_002", ""); !errorutil.IsKind(err, errorutil.KindValidation) {
		t.Fatalf("empty content should be ValidationError, got %v", err)
	}
	if _, err := env.pipe.EditContent(context.Background(), "MISSING", "x"); !errorutil.IsKind(err, errorutil.KindNotFound) {
		t.Fatalf("unknown order should be NotFound, got %v", err)
	}
}

func TestRegenerateNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.pipe.RegenerateAndSend(context.Background(), "MISSING"); !errorutil.IsKind(err, errorutil.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRunBatchRespectsBound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 1; i <= 8; i++ {
		seedOrder(t, env, fmt.Sprintf("BATCH_%03d", i), true)
	}

	result, err := env.pipe.RunBatch(ctx, 5)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if result.Processed != 5 || result.Succeeded != 5 {
		t.Fatalf("unexpected batch result: %+v", result)
	}

	remaining, _ := env.store.List(ctx, store.Filter{Status: domain.StatusPending})
	if len(remaining) != 3 {
		t.Fatalf("expected 3 orders still pending, got %d", len(remaining))
	}
}

func TestRunBatchOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"OLD_001", "OLD_002", "OLD_003"} {
		seedOrder(t, env, id, true)
		time.Sleep(5 * time.Millisecond)
	}

	result, err := env.pipe.RunBatch(ctx, 1)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if result.Processed != 1 || result.Items[0].OrderID != "OLD_001" {
		t.Fatalf("batch should pick the oldest pending order first: %+v", result)
	}
}

func TestBatchErrorIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// birthDate 欠落の注文と正常な注文を同一バッチに入れる
	seedOrder(t, env, "ISO_BAD", false)
	seedOrder(t, env, "ISO_GOOD", true)

	result, err := env.pipe.RunBatch(ctx, 10)
	if err != nil {
		t.Fatalf("batch itself must not fail: %v", err)
	}
	if result.Processed != 2 || result.Failed != 1 || result.Succeeded != 1 {
		t.Fatalf("unexpected batch result: %+v", result)
	}

	bad, _ := env.store.Get(ctx, "ISO_BAD")
	if bad.Status != domain.StatusError {
		t.Fatalf("invalid order should be error, got %s", bad.Status)
	}
	good, _ := env.store.Get(ctx, "ISO_GOOD")
	if good.Status != domain.StatusSent {
		t.Fatalf("valid order should still reach sent, got %s", good.Status)
	}
}

func TestAPICostAccumulatesAcrossRegeneration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedOrder(t, env, "COST_001", true)

	if _, err := env.pipe.Process(ctx, "COST_001"); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// 編集して pending 相当の再生成はしない設計だが、生成を再駆動した場合も累積する
	if _, err := env.store.Update(ctx, "COST_001", func(r *domain.OrderRecord) error {
		r.Status = domain.StatusPending
		return nil
	}); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if _, err := env.pipe.RunOnce(ctx, "COST_001"); err != nil {
		t.Fatalf("second generation failed: %v", err)
	}

	rec, _ := env.store.Get(ctx, "COST_001")
	if rec.APICost != 9.90 {
		t.Fatalf("api cost should accumulate across generations: %v", rec.APICost)
	}
}

// gatedGenerator 最初の呼び出しを release まで停止させるフェイク
type gatedGenerator struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedGenerator) Generate(ctx context.Context, customer domain.Customer, ft domain.FortuneType) (string, float64, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first {
		close(g.entered)
		<-g.release
	}
	return fmt.Sprintf("【%s】\n\n%s様の鑑定結果です。", ft, customer.Name), 4.95, nil
}

func (g *gatedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Webhook 経路と Worker 経路が同じ注文を同時に駆動しても、
// 各ステージが一度しか実行されないこと（LLM 二重課金・メール二重送信の防止）
func TestConcurrentDriversRunEachStageOnce(t *testing.T) {
	s, err := store.NewFileStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	gen := &gatedGenerator{entered: make(chan struct{}), release: make(chan struct{})}
	ren := &fakeRenderer{}
	disp := &fakeDispatcher{}
	pipe := New(s, gen, ren, disp, RetryPolicy{Attempts: 1}, nil, logger.NewNop())

	ctx := context.Background()
	rec, err := domain.NewOrderRecord("DUP_001", "dup@example.com", "占いサービス")
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	rec.Customer.Name = "太郎"
	rec.Customer.BirthDate = "1985-06-15"
	rec.Customer.ConsultationText = "仕事の悩み"
	rec.FortuneType = domain.FortuneCareer
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = pipe.Process(ctx, "DUP_001")
	}()

	// 先行ドライバーが生成中（注文ロック保持中）に後続ドライバーを開始する
	<-gen.entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = pipe.Process(ctx, "DUP_001")
	}()
	time.Sleep(20 * time.Millisecond)
	close(gen.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("driver %d failed: %v", i, err)
		}
	}

	got, err := s.Get(ctx, "DUP_001")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != domain.StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
	if gen.callCount() != 1 {
		t.Fatalf("generate called %d times, want 1", gen.callCount())
	}
	if ren.callCount() != 1 {
		t.Fatalf("render called %d times, want 1", ren.callCount())
	}
	disp.mu.Lock()
	deliveries := disp.calls
	disp.mu.Unlock()
	if deliveries != 1 {
		t.Fatalf("deliver called %d times, want 1", deliveries)
	}
	if got.APICost != 4.95 {
		t.Fatalf("api cost = %v, want 4.95 (single generation)", got.APICost)
	}
}
