package domain

import (
	"errors"
	"time"
)

// 错误定义
var (
	ErrInvalidOrderID     = errors.New("order ID cannot be empty")
	ErrInvalidEmail       = errors.New("customer email cannot be empty")
	ErrEmptyContent       = errors.New("fortune content cannot be empty")
	ErrContentNotReady    = errors.New("fortune content has not been generated")
	ErrArtifactNotReady   = errors.New("document artifact has not been rendered")
	ErrNegativeCost       = errors.New("api cost delta cannot be negative")
	ErrInvalidFortuneType = errors.New("unknown fortune type")
	ErrStatusAdvanced     = errors.New("order status has already advanced")
)

// Status 注文処理ステータス
type Status string

const (
	StatusPending   Status = "pending"   // 受注済み、鉴定待ち
	StatusGenerated Status = "generated" // 鉴定文本生成済み
	StatusEdited    Status = "edited"    // 管理者が内容を編集済み（要再レンダリング）
	StatusSent      Status = "sent"      // PDF 送付完了
	StatusError     Status = "error"     // 処理失敗、要オペレーター対応
)

// FortuneType 占いタイプ（プロンプトテンプレート選択キー）
type FortuneType string

const (
	FortuneGeneral FortuneType = "general" // 総合運
	FortuneCareer  FortuneType = "career"  // 仕事運
	FortuneLove    FortuneType = "love"    // 恋愛運
	FortuneMoney   FortuneType = "money"   // 金運
	FortuneHealth  FortuneType = "health"  // 健康運
)

// FortuneTypes 全占いタイプ（起動時テンプレート検証用）
func FortuneTypes() []FortuneType {
	return []FortuneType{FortuneGeneral, FortuneCareer, FortuneLove, FortuneMoney, FortuneHealth}
}

// ParseFortuneType 文字列から占いタイプへ変換（閉じた集合、未知はエラー）
func ParseFortuneType(s string) (FortuneType, error) {
	if s == "" {
		return FortuneGeneral, nil
	}
	for _, ft := range FortuneTypes() {
		if string(ft) == s {
			return ft, nil
		}
	}
	return "", ErrInvalidFortuneType
}

// Customer 顧客情報（値オブジェクト）
type Customer struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	BirthDate        string `json:"birthDate"`
	ConsultationText string `json:"consultationText"`
}

// ErrorInfo 処理失敗情報（status=error の間のみ保持）
type ErrorInfo struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderRecord 注文レコード（集約ルート）
// パイプラインの進行状況の唯一の真実源
type OrderRecord struct {
	OrderID       string      `json:"orderId"`
	Customer      Customer    `json:"customer"`
	FortuneType   FortuneType `json:"fortuneType"`
	Status        Status      `json:"status"`
	Content       string      `json:"content,omitempty"`
	PDFPath       string      `json:"pdfPath,omitempty"`
	APICost       float64     `json:"apiCost"`
	EditedByAdmin bool        `json:"editedByAdmin"`
	Error         *ErrorInfo  `json:"error,omitempty"`
	ProductName   string      `json:"productName,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	SentAt        *time.Time  `json:"sentAt,omitempty"`
}

// NewOrderRecord 注文レコード作成（ファクトリ）
func NewOrderRecord(orderID, customerEmail, productName string) (*OrderRecord, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}
	if customerEmail == "" {
		return nil, ErrInvalidEmail
	}

	now := time.Now()
	return &OrderRecord{
		OrderID:     orderID,
		Customer:    Customer{Email: customerEmail},
		FortuneType: FortuneGeneral,
		Status:      StatusPending,
		ProductName: productName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ApplyGeneration 鉴定文本生成結果を反映
// pending / error からのみ遷移できる（送付済みレコードを巻き戻さない）。
// apiCost は単調増加（リトライ・再生成をまたいで累積）
func (r *OrderRecord) ApplyGeneration(content string, cost float64) error {
	if r.Status != StatusPending && r.Status != StatusError {
		return ErrStatusAdvanced
	}
	if content == "" {
		return ErrEmptyContent
	}
	if cost < 0 {
		return ErrNegativeCost
	}
	r.Content = content
	r.APICost += cost
	r.Status = StatusGenerated
	r.Error = nil
	return nil
}

// SetArtifact レンダリング済み PDF パスを記録
// 配送前に永続化しておくことで、配送のみの再試行時に再レンダリングを回避できる
func (r *OrderRecord) SetArtifact(pdfPath string) error {
	if pdfPath == "" {
		return ErrArtifactNotReady
	}
	r.PDFPath = pdfPath
	return nil
}

// MarkSent 送付完了を記録
// 不変条件: sent は content と pdfPath の両方が揃っている場合のみ
func (r *OrderRecord) MarkSent(sentAt time.Time) error {
	if r.Content == "" {
		return ErrContentNotReady
	}
	if r.PDFPath == "" {
		return ErrArtifactNotReady
	}
	r.Status = StatusSent
	r.SentAt = &sentAt
	r.Error = nil
	return nil
}

// ApplyEdit 管理者による鉴定内容の上書き
// 既存 PDF は内容と一致しなくなるため無効化する
func (r *OrderRecord) ApplyEdit(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	r.Content = content
	r.Status = StatusEdited
	r.EditedByAdmin = true
	r.PDFPath = ""
	r.Error = nil
	return nil
}

// MarkError 処理失敗を記録
// 失敗前のステータスは保持しない（オペレーターが error を確認して再駆動する前提）
func (r *OrderRecord) MarkError(message string, at time.Time) {
	r.Status = StatusError
	r.Error = &ErrorInfo{Message: message, Timestamp: at}
}

// MergeCustomerDetails フォーム回答から顧客詳細を補完
func (r *OrderRecord) MergeCustomerDetails(name, birthDate, consultation string, ft FortuneType) {
	if name != "" {
		r.Customer.Name = name
	}
	if birthDate != "" {
		r.Customer.BirthDate = birthDate
	}
	if consultation != "" {
		r.Customer.ConsultationText = consultation
	}
	if ft != "" {
		r.FortuneType = ft
	}
}

// IsTerminal 駆動不要な最終状態かどうか（sent）
func (r *OrderRecord) IsTerminal() bool {
	return r.Status == StatusSent
}
