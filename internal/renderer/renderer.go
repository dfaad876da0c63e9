package renderer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

const (
	pageMargin = 20.0 // mm
	fontFamily = "noto"
)

// Meta PDF に載せる注文メタ情報
type Meta struct {
	CustomerName string
	FortuneType  domain.FortuneType
	GeneratedAt  time.Time
}

// Renderer 鑑定結果 PDF レンダラー
type Renderer struct {
	outputDir string
	fontPath  string // 日文字体（未設定時は組み込みフォントで代替）
	log       logger.Logger
}

// New Renderer を作成
func New(outputDir, fontPath string, log logger.Logger) *Renderer {
	return &Renderer{
		outputDir: outputDir,
		fontPath:  fontPath,
		log:       log,
	}
}

// Render 鑑定文本を A4 PDF に変換してパスを返す
// 出力パスは orderId + タイムスタンプから決まるため、リトライ同士が衝突しない。
// 書き込みは一時ファイル経由で行い、完了確認前のパスを呼び出し側へ返さない。
func (r *Renderer) Render(ctx context.Context, orderID, content string, meta Meta) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errorutil.Render("render cancelled", err)
	}
	if content == "" {
		return "", errorutil.Validation("content is required for rendering")
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", errorutil.Render("create pdf output dir failed", err)
	}

	fileName := fmt.Sprintf("fortune_%s_%d.pdf", orderID, time.Now().UnixMilli())
	target := filepath.Join(r.outputDir, fileName)
	tmp := target + ".tmp"

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("%s様の占い結果", meta.CustomerName), true)
	pdf.SetAuthor("AI占いサービス", true)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)

	family := "Helvetica"
	if r.fontPath != "" {
		if _, err := os.Stat(r.fontPath); err == nil {
			pdf.AddUTF8Font(fontFamily, "", r.fontPath)
			family = fontFamily
		} else {
			r.log.Warnf(ctx, "[Renderer] Font file not found, falling back to builtin: %s", r.fontPath)
		}
	}

	pdf.AddPage()
	pageWidth, _ := pdf.GetPageSize()

	// ヘッダー
	pdf.SetFont(family, "", 22)
	pdf.SetTextColor(0x33, 0x33, 0x33)
	pdf.CellFormat(0, 12, "AI占いサービス", "", 1, "C", false, 0, "")

	// タイトル
	title := "占い結果"
	if meta.CustomerName != "" {
		title = fmt.Sprintf("%s様の占い結果", meta.CustomerName)
	}
	pdf.SetFont(family, "", 18)
	pdf.SetTextColor(0x00, 0x66, 0xcc)
	pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
	pdf.Ln(2)

	// 基本情報
	generatedAt := meta.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}
	pdf.SetFont(family, "", 10)
	pdf.SetTextColor(0x66, 0x66, 0x66)
	pdf.CellFormat(0, 6, fmt.Sprintf("鑑定日: %s", generatedAt.Format("2006年1月2日")), "", 1, "R", false, 0, "")
	pdf.Ln(2)

	// 区切り線
	pdf.SetDrawColor(0xcc, 0xcc, 0xcc)
	pdf.Line(pageMargin, pdf.GetY(), pageWidth-pageMargin, pdf.GetY())
	pdf.Ln(6)

	// 本文：空行区切りの段落、【】で囲まれた段落は見出し扱い
	pdf.SetTextColor(0x33, 0x33, 0x33)
	paragraphs := strings.Split(content, "\n\n")
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if isHeading(p) {
			pdf.SetFont(family, "", 13)
			pdf.MultiCell(0, 7, p, "", "L", false)
			pdf.SetFont(family, "", 11)
		} else {
			pdf.SetFont(family, "", 11)
			pdf.MultiCell(0, 6, p, "", "L", false)
		}
		pdf.Ln(3)
	}

	// フッター
	pdf.Ln(6)
	pdf.SetDrawColor(0xcc, 0xcc, 0xcc)
	pdf.Line(pageMargin, pdf.GetY(), pageWidth-pageMargin, pdf.GetY())
	pdf.Ln(4)
	pdf.SetFont(family, "", 9)
	pdf.SetTextColor(0x99, 0x99, 0x99)
	pdf.CellFormat(0, 5, "※この鑑定結果はAIによって生成されています。参考情報としてお楽しみください。", "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 5, fmt.Sprintf("生成日時: %s", time.Now().Format("2006/01/02 15:04")), "", 1, "C", false, 0, "")

	if pdf.Err() {
		return "", errorutil.Render("pdf build failed", pdf.Error())
	}
	if err := pdf.OutputFileAndClose(tmp); err != nil {
		os.Remove(tmp)
		return "", errorutil.Render("pdf write failed", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", errorutil.Render("pdf finalize failed", err)
	}

	r.log.Infof(ctx, "[Renderer] PDF generated: %s", target)
	return target, nil
}

// isHeading 【見出し】形式の段落かどうか
func isHeading(p string) bool {
	return strings.HasPrefix(p, "【") && strings.HasSuffix(p, "】")
}
