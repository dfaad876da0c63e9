package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/internal/store"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

type fakePublisher struct {
	orders []string
	err    error
}

func (f *fakePublisher) PublishOrderJob(orderID string) error {
	if f.err != nil {
		return f.err
	}
	f.orders = append(f.orders, orderID)
	return nil
}

type fakeArchiver struct {
	events []WebhookEvent
	err    error
}

func (f *fakeArchiver) Archive(ctx context.Context, event WebhookEvent, raw []byte) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func newService(t *testing.T) (*Service, *store.FileStore, *fakePublisher, *fakeArchiver) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	pub := &fakePublisher{}
	arc := &fakeArchiver{}
	return NewService(s, pub, arc, logger.NewNop()), s, pub, arc
}

func webhookEvent(orderID string) WebhookEvent {
	return WebhookEvent{
		OrderID:       orderID,
		CustomerEmail: "hanako@example.com",
		ProductName:   "AI占い（総合運）",
		CreatedAt:     "2026-01-15T10:00:00Z",
		PaymentStatus: "captured",
		Price:         3000,
		Currency:      "JPY",
	}
}

func TestIngestWebhookCreatesPendingOrder(t *testing.T) {
	svc, s, pub, arc := newService(t)
	ctx := context.Background()

	rec, created, err := svc.IngestWebhook(ctx, webhookEvent("WH_001"), []byte(`{"order_id":"WH_001"}`))
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if !created {
		t.Fatal("first ingest should create the order")
	}
	if rec.Status != domain.StatusPending {
		t.Fatalf("new order should be pending, got %s", rec.Status)
	}
	if rec.Customer.Email != "hanako@example.com" || rec.ProductName != "AI占い（総合運）" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	stored, err := s.Get(ctx, "WH_001")
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if stored.OrderID != "WH_001" {
		t.Fatalf("unexpected stored order: %+v", stored)
	}
	if len(arc.events) != 1 {
		t.Fatalf("raw event should be archived, got %d", len(arc.events))
	}
	// ジョブ発行はフォーム回答後
	if len(pub.orders) != 0 {
		t.Fatalf("webhook must not publish jobs, got %v", pub.orders)
	}
}

func TestIngestWebhookIsIdempotent(t *testing.T) {
	svc, s, _, _ := newService(t)
	ctx := context.Background()

	first, _, err := svc.IngestWebhook(ctx, webhookEvent("WH_002"), nil)
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}

	// 既に生成まで進んだ注文に Webhook が再送されても巻き戻さない
	if _, err := s.Update(ctx, "WH_002", func(r *domain.OrderRecord) error {
		r.Status = domain.StatusGenerated
		r.Content = "本文"
		return nil
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	again, created, err := svc.IngestWebhook(ctx, webhookEvent("WH_002"), nil)
	if err != nil {
		t.Fatalf("duplicate ingest failed: %v", err)
	}
	if created {
		t.Fatal("duplicate ingest must not report creation")
	}
	if again.Status != domain.StatusGenerated || again.Content != "本文" {
		t.Fatalf("duplicate webhook must not modify the record: %+v", again)
	}
	if first.CreatedAt.After(again.CreatedAt) {
		t.Fatal("createdAt must be preserved")
	}
}

func TestIngestWebhookValidation(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	ev := webhookEvent("")
	if _, _, err := svc.IngestWebhook(ctx, ev, nil); !errorutil.IsKind(err, errorutil.KindValidation) {
		t.Fatalf("missing order_id should be ValidationError, got %v", err)
	}

	ev = webhookEvent("WH_003")
	ev.CustomerEmail = ""
	if _, _, err := svc.IngestWebhook(ctx, ev, nil); !errorutil.IsKind(err, errorutil.KindValidation) {
		t.Fatalf("missing customer_email should be ValidationError, got %v", err)
	}
}

func TestIngestWebhookDefaultsProductName(t *testing.T) {
	svc, _, _, _ := newService(t)

	ev := webhookEvent("WH_004")
	ev.ProductName = ""
	rec, _, err := svc.IngestWebhook(context.Background(), ev, nil)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if rec.ProductName != "占いサービス" {
		t.Fatalf("product name should default, got %q", rec.ProductName)
	}
}

func TestIngestWebhookSurvivesArchiverFailure(t *testing.T) {
	svc, _, _, arc := newService(t)
	arc.err = errors.New("mysql down")

	if _, created, err := svc.IngestWebhook(context.Background(), webhookEvent("WH_005"), nil); err != nil || !created {
		t.Fatalf("archiver failure must not fail the ingest: created=%v, err=%v", created, err)
	}
}

func TestIngestFormResponseMergesAndPublishes(t *testing.T) {
	svc, s, pub, _ := newService(t)
	ctx := context.Background()

	if _, _, err := svc.IngestWebhook(ctx, webhookEvent("FORM_001"), nil); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	rec, err := svc.IngestFormResponse(ctx, FormResponse{
		OrderID:      "FORM_001",
		Name:         "花子",
		BirthDate:    "1992-03-01",
		Consultation: "転職について",
		FortuneType:  "career",
	})
	if err != nil {
		t.Fatalf("form ingest failed: %v", err)
	}
	if rec.Customer.Name != "花子" || rec.Customer.BirthDate != "1992-03-01" {
		t.Fatalf("customer details not merged: %+v", rec.Customer)
	}
	if rec.FortuneType != domain.FortuneCareer {
		t.Fatalf("fortune type not set: %s", rec.FortuneType)
	}

	stored, _ := s.Get(ctx, "FORM_001")
	if stored.Customer.ConsultationText != "転職について" {
		t.Fatalf("merge not persisted: %+v", stored.Customer)
	}
	if len(pub.orders) != 1 || pub.orders[0] != "FORM_001" {
		t.Fatalf("form ingest should publish the order job: %v", pub.orders)
	}
}

func TestIngestFormResponseValidation(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.IngestFormResponse(ctx, FormResponse{OrderID: "X"})
	if !errorutil.IsKind(err, errorutil.KindValidation) {
		t.Fatalf("missing fields should be ValidationError, got %v", err)
	}

	_, err = svc.IngestFormResponse(ctx, FormResponse{
		OrderID: "X", Name: "n", BirthDate: "b", Consultation: "c", FortuneType: "astrology",
	})
	if !errorutil.IsKind(err, errorutil.KindValidation) {
		t.Fatalf("unknown fortune type should be ValidationError, got %v", err)
	}

	_, err = svc.IngestFormResponse(ctx, FormResponse{
		OrderID: "MISSING", Name: "n", BirthDate: "b", Consultation: "c",
	})
	if !errorutil.IsKind(err, errorutil.KindNotFound) {
		t.Fatalf("unknown order should be NotFound, got %v", err)
	}
}

func TestIngestFormResponsePublishFailureIsNonFatal(t *testing.T) {
	svc, _, pub, _ := newService(t)
	ctx := context.Background()

	if _, _, err := svc.IngestWebhook(ctx, webhookEvent("FORM_002"), nil); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	pub.err = errors.New("lmstfy unreachable")

	if _, err := svc.IngestFormResponse(ctx, FormResponse{
		OrderID: "FORM_002", Name: "n", BirthDate: "1990-01-01", Consultation: "c",
	}); err != nil {
		t.Fatalf("publish failure must not fail the ingest: %v", err)
	}
}
