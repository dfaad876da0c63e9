package generator

import (
	"context"
	"math"
	"strings"

	"github.com/Tohoso/ai-fortune-service/internal/claude"
	"github.com/Tohoso/ai-fortune-service/internal/domain"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// TextGenerator 外部テキスト生成コラボレーター（claude.Client / claude.Stub）
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (*claude.Result, error)
}

// CostModel トークン使用量からのコスト計算
// 単価は USD / 1M tokens、ExchangeRate で日本円へ換算
type CostModel struct {
	InputCostPerMTok  float64
	OutputCostPerMTok float64
	ExchangeRate      float64
}

// Calculate コストを計算（小数点第2位まで）
// 使用量がゼロなら 0（エラーにしない）
func (m CostModel) Calculate(inputTokens, outputTokens int) float64 {
	input := float64(inputTokens) * m.InputCostPerMTok / 1_000_000 * m.ExchangeRate
	output := float64(outputTokens) * m.OutputCostPerMTok / 1_000_000 * m.ExchangeRate
	return math.Round((input+output)*100) / 100
}

// Generator 鑑定文本生成コンポーネント
type Generator struct {
	textGen TextGenerator
	cost    CostModel
	log     logger.Logger
}

// New Generator を作成（テンプレート表は起動時に検証済みであること）
func New(textGen TextGenerator, cost CostModel, log logger.Logger) *Generator {
	return &Generator{
		textGen: textGen,
		cost:    cost,
		log:     log,
	}
}

// Generate 顧客情報と占いタイプから鑑定文本を生成し、コストを算出する
// バリデーション失敗時は外部呼び出しを一切行わない
func (g *Generator) Generate(ctx context.Context, customer domain.Customer, fortuneType domain.FortuneType) (string, float64, error) {
	if customer.Name == "" {
		return "", 0, errorutil.Validation("customer name is required for generation")
	}
	if customer.BirthDate == "" {
		return "", 0, errorutil.Validation("customer birthDate is required for generation")
	}
	if customer.ConsultationText == "" {
		return "", 0, errorutil.Validation("customer consultationText is required for generation")
	}

	tpl, ok := templates[fortuneType]
	if !ok {
		return "", 0, errorutil.TemplateNotFound(string(fortuneType))
	}

	prompt := strings.NewReplacer(
		"[NAME]", customer.Name,
		"[BIRTHDATE]", customer.BirthDate,
		"[CONSULTATION]", customer.ConsultationText,
	).Replace(tpl.Content)

	result, err := g.textGen.GenerateText(ctx, prompt)
	if err != nil {
		return "", 0, errorutil.Generation("fortune text generation failed", err)
	}

	cost := g.cost.Calculate(result.InputTokens, result.OutputTokens)
	g.log.Infof(ctx, "[Generator] Fortune generated: type=%s, input_tokens=%d, output_tokens=%d, cost=%.2f",
		tpl.Title, result.InputTokens, result.OutputTokens, cost)

	return result.Text, cost, nil
}
