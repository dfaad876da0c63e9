package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Tohoso/ai-fortune-service/internal/dispatcher"
	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/internal/renderer"
	"github.com/Tohoso/ai-fortune-service/internal/store"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// ContentGenerator 鑑定文本生成コラボレーター
type ContentGenerator interface {
	Generate(ctx context.Context, customer domain.Customer, fortuneType domain.FortuneType) (content string, cost float64, err error)
}

// DocumentRenderer PDF レンダリングコラボレーター
type DocumentRenderer interface {
	Render(ctx context.Context, orderID, content string, meta renderer.Meta) (artifactPath string, err error)
}

// DeliveryDispatcher メール投递コラボレーター
type DeliveryDispatcher interface {
	Deliver(ctx context.Context, orderID string, rcpt dispatcher.Recipient, artifactPath, content string) (*dispatcher.Receipt, error)
}

// Notifier 処理完了通知（Redis PubSub 等、nil 可）
type Notifier interface {
	NotifyOrderComplete(ctx context.Context, orderID string, status domain.Status) error
}

// BatchItem 批処理の個別結果
type BatchItem struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResult 批処理結果
type BatchResult struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Items     []BatchItem `json:"items,omitempty"`
}

// Pipeline 注文処理オーケストレーター
// pending -> generated -> sent のステージ遷移を駆動し、各ステージ完了後に
// 状態をストアへ永続化する。手動再駆動（編集・再生成）もここに集約する。
type Pipeline struct {
	store    store.Store
	gen      ContentGenerator
	ren      DocumentRenderer
	disp     DeliveryDispatcher
	retry    RetryPolicy
	notifier Notifier
	log      logger.Logger
}

// New Pipeline を作成（notifier は nil 可）
func New(s store.Store, gen ContentGenerator, ren DocumentRenderer, disp DeliveryDispatcher, retry RetryPolicy, notifier Notifier, log logger.Logger) *Pipeline {
	return &Pipeline{
		store:    s,
		gen:      gen,
		ren:      ren,
		disp:     disp,
		retry:    retry,
		notifier: notifier,
		log:      log,
	}
}

// RunOnce 注文を現在のステータスから次の状態へ 1 遷移だけ駆動する
// sent（内容未変更）は no-op で既存レコードを返す。
// error は中断点から再開する：content 未生成なら生成から、生成済みなら配送からやり直す。
func (p *Pipeline) RunOnce(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	ctx = logger.WithOrderID(ctx, orderID)

	rec, err := p.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case domain.StatusPending:
		return p.runGenerate(ctx, rec)
	case domain.StatusGenerated, domain.StatusEdited:
		return p.runDeliver(ctx, rec, false)
	case domain.StatusSent:
		return rec, nil
	case domain.StatusError:
		if rec.Content == "" {
			return p.runGenerate(ctx, rec)
		}
		return p.runDeliver(ctx, rec, false)
	default:
		return nil, errorutil.Internal("unknown order status: "+string(rec.Status), nil)
	}
}

// Process 注文を終端状態（sent / error）まで駆動する（Worker・Webhook 経路用）
func (p *Pipeline) Process(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	for {
		rec, err := p.RunOnce(ctx, orderID)
		if err != nil {
			return rec, err
		}
		if rec.Status == domain.StatusSent || rec.Status == domain.StatusError {
			return rec, nil
		}
	}
}

// RunBatch pending の注文を createdAt 昇順に最大 maxCount 件処理する
// 個別の失敗は記録して続行し、バッチ全体を失敗させない。
func (p *Pipeline) RunBatch(ctx context.Context, maxCount int) (*BatchResult, error) {
	pending, err := p.store.List(ctx, store.Filter{Status: domain.StatusPending})
	if err != nil {
		return nil, err
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	result := &BatchResult{}
	for _, rec := range pending {
		if maxCount > 0 && result.Processed >= maxCount {
			p.log.Infof(ctx, "[Pipeline] Batch limit reached (%d), remaining orders deferred to next run", maxCount)
			break
		}
		result.Processed++

		if _, err := p.Process(ctx, rec.OrderID); err != nil {
			p.log.Errorf(ctx, "[Pipeline] Batch order failed: order=%s, error: %v", rec.OrderID, err)
			result.Failed++
			result.Items = append(result.Items, BatchItem{OrderID: rec.OrderID, Success: false, Error: err.Error()})
			continue
		}
		result.Succeeded++
		result.Items = append(result.Items, BatchItem{OrderID: rec.OrderID, Success: true})
	}
	return result, nil
}

// EditContent 管理者による鑑定内容の上書き
// status=edited / editedByAdmin=true へ遷移し、既存 PDF を無効化する
func (p *Pipeline) EditContent(ctx context.Context, orderID, newContent string) (*domain.OrderRecord, error) {
	if newContent == "" {
		return nil, errorutil.Validation("content is required")
	}
	rec, err := p.store.Update(ctx, orderID, func(r *domain.OrderRecord) error {
		return r.ApplyEdit(newContent)
	})
	if err != nil {
		return nil, err
	}
	p.log.Infof(ctx, "[Pipeline] Content edited by admin: order=%s", orderID)
	return rec, nil
}

// RegenerateAndSend 現在の content から PDF を再レンダリングして再送する
// 必ず新しいアーティファクトパスを生成する（古い PDF とは衝突しない）
func (p *Pipeline) RegenerateAndSend(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	ctx = logger.WithOrderID(ctx, orderID)

	rec, err := p.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec.Content == "" {
		return nil, errorutil.Validation("order %s has no content to render", orderID)
	}
	return p.runDeliver(ctx, rec, true)
}

// errSuperseded 別の駆動（cron と worker の並走等）が先に同じ遷移を完了していた印
var errSuperseded = errors.New("stage already completed by another driver")

// runGenerate pending/error -> generated
// ステージ全体を store.Update の中で実行する：ロック内でステータスを再判定し、
// 並行駆動が先に生成を終えていれば生成呼び出し自体を行わない
// （二重課金・二重メールの防止）。
func (p *Pipeline) runGenerate(ctx context.Context, rec *domain.OrderRecord) (*domain.OrderRecord, error) {
	var stageErr error
	var cost float64

	updated, err := p.store.Update(ctx, rec.OrderID, func(r *domain.OrderRecord) error {
		if r.Status != domain.StatusPending && !(r.Status == domain.StatusError && r.Content == "") {
			return errSuperseded
		}

		var content string
		genErr := p.retry.Do(ctx, p.log, "generate", func() error {
			var e error
			content, cost, e = p.gen.Generate(ctx, r.Customer, r.FortuneType)
			return e
		})
		if genErr != nil {
			stageErr = genErr
			r.MarkError(genErr.Error(), time.Now())
			return nil
		}
		return r.ApplyGeneration(content, cost)
	})
	if errors.Is(err, errSuperseded) {
		return p.store.Get(ctx, rec.OrderID)
	}
	if err != nil {
		return nil, err
	}
	if stageErr != nil {
		p.log.Errorf(ctx, "[Pipeline] Order moved to error: order=%s, cause: %v", rec.OrderID, stageErr)
		p.notify(ctx, updated)
		return updated, stageErr
	}
	p.log.Infof(ctx, "[Pipeline] Fortune generated: order=%s, cost=%.2f", rec.OrderID, cost)
	return updated, nil
}

// runDeliver generated/edited/error -> sent
// forceRender が偽なら既存アーティファクトを再利用する（配送のみの再試行）。
// レンダリングから配送までを 1 回の store.Update で実行するため、同一注文への
// 並行配送は直列化され、先行が sent にした注文は後続がロック内で検知して no-op になる。
// 配送のみ失敗した場合も pdfPath は残り、再試行で再レンダリングしない。
func (p *Pipeline) runDeliver(ctx context.Context, rec *domain.OrderRecord, forceRender bool) (*domain.OrderRecord, error) {
	var stageErr error
	var artifactPath string

	updated, err := p.store.Update(ctx, rec.OrderID, func(r *domain.OrderRecord) error {
		if r.Status == domain.StatusSent && !forceRender {
			return errSuperseded
		}
		if r.Content == "" {
			return errorutil.Validation("order %s has no content to render", r.OrderID)
		}

		artifactPath = r.PDFPath
		if forceRender || artifactPath == "" {
			var rendered string
			renErr := p.retry.Do(ctx, p.log, "render", func() error {
				var e error
				rendered, e = p.ren.Render(ctx, r.OrderID, r.Content, renderer.Meta{
					CustomerName: r.Customer.Name,
					FortuneType:  r.FortuneType,
					GeneratedAt:  time.Now(),
				})
				return e
			})
			if renErr != nil {
				stageErr = renErr
				r.MarkError(renErr.Error(), time.Now())
				return nil
			}
			artifactPath = rendered
			if err := r.SetArtifact(artifactPath); err != nil {
				return err
			}
		}

		dlvErr := p.retry.Do(ctx, p.log, "deliver", func() error {
			_, e := p.disp.Deliver(ctx, r.OrderID, dispatcher.Recipient{
				Name:  r.Customer.Name,
				Email: r.Customer.Email,
			}, artifactPath, r.Content)
			return e
		})
		if dlvErr != nil {
			stageErr = dlvErr
			r.MarkError(dlvErr.Error(), time.Now())
			return nil
		}
		return r.MarkSent(time.Now())
	})
	if errors.Is(err, errSuperseded) {
		return p.store.Get(ctx, rec.OrderID)
	}
	if err != nil {
		return nil, err
	}
	if stageErr != nil {
		p.log.Errorf(ctx, "[Pipeline] Order moved to error: order=%s, cause: %v", rec.OrderID, stageErr)
		p.notify(ctx, updated)
		return updated, stageErr
	}
	p.log.Infof(ctx, "[Pipeline] Order delivered: order=%s, pdf=%s", rec.OrderID, artifactPath)

	p.notify(ctx, updated)
	return updated, nil
}

// notify 処理完了通知（失敗はログのみ、パイプラインを失敗させない）
func (p *Pipeline) notify(ctx context.Context, rec *domain.OrderRecord) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyOrderComplete(ctx, rec.OrderID, rec.Status); err != nil {
		p.log.Warnf(ctx, "[Pipeline] Completion notification failed: order=%s, error: %v", rec.OrderID, err)
	}
}
