package dispatcher

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/Tohoso/ai-fortune-service/pkg/config"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

const attachmentName = "鑑定結果.pdf"

// Recipient 送付先
type Recipient struct {
	Name  string
	Email string
}

// Receipt 送信結果
type Receipt struct {
	MessageID string    `json:"messageId"`
	To        string    `json:"to"`
	Simulated bool      `json:"simulated"`
	SentAt    time.Time `json:"sentAt"`
}

// MailSender SMTP 送信（テスト差し替え用に分離）
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Dispatcher PDF 添付メールの投递コンポーネント
// 注文状態には触れない（sent への遷移は Orchestrator の責務）
type Dispatcher struct {
	cfg    config.EmailConfig
	sender MailSender
	log    logger.Logger
}

// New Dispatcher を作成
func New(cfg config.EmailConfig, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		log:    log,
	}
}

// NewWithSender 送信実装を注入して作成（テスト用）
func NewWithSender(cfg config.EmailConfig, sender MailSender, log logger.Logger) *Dispatcher {
	return &Dispatcher{cfg: cfg, sender: sender, log: log}
}

// Deliver レンダリング済み PDF を顧客へメール送付する
func (d *Dispatcher) Deliver(ctx context.Context, orderID string, rcpt Recipient, artifactPath, content string) (*Receipt, error) {
	if rcpt.Email == "" {
		return nil, errorutil.Validation("recipient email is required for delivery")
	}
	if artifactPath == "" {
		return nil, errorutil.Validation("artifact path is required for delivery")
	}
	if err := ctx.Err(); err != nil {
		return nil, errorutil.Delivery("delivery cancelled", err)
	}

	subject := fmt.Sprintf("【AI占いサービス】%s様の占い結果", rcpt.Name)
	body := d.buildBody(orderID, rcpt.Name)

	// シミュレーションモード：ログ出力のみ、合成レシートを返す
	if d.cfg.Simulate {
		d.log.Infof(ctx, "[Dispatcher] Simulated delivery: order=%s, to=%s, subject=%s, attachment=%s",
			orderID, rcpt.Email, subject, artifactPath)
		return &Receipt{
			MessageID: "simulated-" + uuid.New().String(),
			To:        rcpt.Email,
			Simulated: true,
			SentAt:    time.Now(),
		}, nil
	}

	if _, err := os.Stat(artifactPath); err != nil {
		return nil, errorutil.Delivery(fmt.Sprintf("attachment not found: %s", artifactPath), err)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", d.cfg.From, d.cfg.FromName)
	m.SetHeader("To", rcpt.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	m.Attach(artifactPath, gomail.Rename(attachmentName))

	if err := d.send(ctx, m); err != nil {
		return nil, err
	}

	receipt := &Receipt{
		MessageID: uuid.New().String(),
		To:        rcpt.Email,
		SentAt:    time.Now(),
	}
	d.log.Infof(ctx, "[Dispatcher] Delivered: order=%s, to=%s, message_id=%s", orderID, rcpt.Email, receipt.MessageID)
	return receipt, nil
}

// send SMTP 送信を時間制限付きで実行する
// gomail は context 非対応のため goroutine + select で打ち切る
func (d *Dispatcher) send(ctx context.Context, m *gomail.Message) error {
	timeout := d.cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		done <- d.sender.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return errorutil.Delivery("smtp send failed", err)
		}
		return nil
	case <-time.After(timeout):
		return errorutil.Delivery(fmt.Sprintf("smtp send timed out after %s", timeout), nil)
	case <-ctx.Done():
		return errorutil.Delivery("delivery cancelled", ctx.Err())
	}
}

// buildBody 本文テンプレート
func (d *Dispatcher) buildBody(orderID, name string) string {
	displayName := name
	if displayName == "" {
		displayName = "お客"
	}
	return fmt.Sprintf(`%s様

この度はAI占いサービスをご利用いただき、誠にありがとうございます。
ご注文いただいた占い結果を添付ファイルにてお送りいたします。

【注文情報】
注文番号: %s

添付のPDFファイルをご確認ください。
※PDFファイルが開けない場合は、Adobe Acrobat Readerなどのアプリをご利用ください。

何かご不明な点がございましたら、お気軽にお問い合わせください。
今後ともAI占いサービスをよろしくお願いいたします。

------------------------------
AI占いサービス
Email: %s
------------------------------
`, displayName, orderID, d.cfg.From)
}
