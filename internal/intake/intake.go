// Package intake 受注イベントの取り込み
// EC（Stores）決済 Webhook とフォーム回答を正規化して注文レコードへ落とす
package intake

import (
	"context"
	"strings"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/internal/store"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

const defaultProductName = "占いサービス"

// ModeWorkerCheck Stores 死活監視リクエストの mode 値
const ModeWorkerCheck = "worker_check"

// WebhookEvent Stores 決済完了 Webhook のペイロード
type WebhookEvent struct {
	Mode          string  `json:"mode,omitempty"`
	OrderID       string  `json:"order_id"`
	CustomerEmail string  `json:"customer_email"`
	ProductName   string  `json:"product_name"`
	CreatedAt     string  `json:"created_at"`
	PaymentStatus string  `json:"payment_status"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
}

// FormResponse 占いフォームの回答
type FormResponse struct {
	OrderID      string `json:"orderId"`
	Name         string `json:"name"`
	BirthDate    string `json:"birthDate"`
	Consultation string `json:"consultation"`
	FortuneType  string `json:"fortuneType,omitempty"`
}

// JobPublisher 注文処理ジョブの発行
type JobPublisher interface {
	PublishOrderJob(orderID string) error
}

// OrderArchiver 生の受注イベントをアーカイブする（MySQL）
type OrderArchiver interface {
	Archive(ctx context.Context, event WebhookEvent, raw []byte) error
}

// Service 受注取り込みサービス
type Service struct {
	store    store.Store
	queue    JobPublisher
	archiver OrderArchiver
	log      logger.Logger
}

// NewService 创建受注取り込みサービス
// queue と archiver は nil 可（開発環境では MQ / MySQL なしで動かす）
func NewService(s store.Store, queue JobPublisher, archiver OrderArchiver, log logger.Logger) *Service {
	return &Service{store: s, queue: queue, archiver: archiver, log: log}
}

// IngestWebhook 決済完了イベントから注文レコードを作成する
// 同一 order_id の再送は既存レコードを変更せず返す（冪等）
func (svc *Service) IngestWebhook(ctx context.Context, event WebhookEvent, raw []byte) (*domain.OrderRecord, bool, error) {
	if event.OrderID == "" {
		return nil, false, errorutil.Validation("order_id is required")
	}
	if event.CustomerEmail == "" {
		return nil, false, errorutil.Validation("customer_email is required")
	}

	ctx = logger.WithOrderID(ctx, event.OrderID)

	product := event.ProductName
	if product == "" {
		product = defaultProductName
	}

	rec, err := domain.NewOrderRecord(event.OrderID, event.CustomerEmail, product)
	if err != nil {
		return nil, false, errorutil.Validation("invalid order payload: %v", err)
	}

	if err := svc.store.Create(ctx, rec); err != nil {
		if errorutil.IsKind(err, errorutil.KindAlreadyExists) {
			existing, getErr := svc.store.Get(ctx, event.OrderID)
			if getErr != nil {
				return nil, false, getErr
			}
			svc.log.Infof(ctx, "[Intake] Duplicate webhook ignored: order=%s, status=%s", event.OrderID, existing.Status)
			return existing, false, nil
		}
		return nil, false, err
	}

	// アーカイブ失敗は取り込みを止めない
	if svc.archiver != nil {
		if err := svc.archiver.Archive(ctx, event, raw); err != nil {
			svc.log.Warnf(ctx, "[Intake] Failed to archive raw order: order=%s, error: %v", event.OrderID, err)
		}
	}

	svc.log.Infof(ctx, "[Intake] Order created: order=%s, email=%s, product=%s", event.OrderID, event.CustomerEmail, product)
	return rec, true, nil
}

// IngestFormResponse フォーム回答で顧客詳細を補完し、処理ジョブを発行する
func (svc *Service) IngestFormResponse(ctx context.Context, form FormResponse) (*domain.OrderRecord, error) {
	var missing []string
	if form.OrderID == "" {
		missing = append(missing, "orderId")
	}
	if form.Name == "" {
		missing = append(missing, "name")
	}
	if form.BirthDate == "" {
		missing = append(missing, "birthDate")
	}
	if form.Consultation == "" {
		missing = append(missing, "consultation")
	}
	if len(missing) > 0 {
		return nil, errorutil.Validation("required fields missing: %s", strings.Join(missing, ", "))
	}

	ft, err := domain.ParseFortuneType(form.FortuneType)
	if err != nil {
		return nil, errorutil.Validation("unknown fortune type: %s", form.FortuneType)
	}

	ctx = logger.WithOrderID(ctx, form.OrderID)

	rec, err := svc.store.Update(ctx, form.OrderID, func(r *domain.OrderRecord) error {
		r.MergeCustomerDetails(form.Name, form.BirthDate, form.Consultation, ft)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 顧客詳細が揃ったのでここでジョブを流す（Webhook 時点では鑑定に必要な情報が無い）
	if svc.queue != nil {
		if err := svc.queue.PublishOrderJob(form.OrderID); err != nil {
			// スケジューラの定期バッチが拾うため、発行失敗でも回答の取り込みは成立させる
			svc.log.Warnf(ctx, "[Intake] Failed to publish order job: order=%s, error: %v", form.OrderID, err)
		}
	}

	svc.log.Infof(ctx, "[Intake] Form response merged: order=%s, fortuneType=%s", form.OrderID, ft)
	return rec, nil
}
