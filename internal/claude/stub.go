package claude

import (
	"context"
	"strings"
)

// Stub 非生産環境用の確定的スタブ（外部呼び出しなし、使用量ゼロ）
// 元のプロンプトの冒頭行をエコーするため、占いタイプごとに出力が変わる
type Stub struct{}

// NewStub スタブを作成
func NewStub() *Stub { return &Stub{} }

// GenerateText ダミー鑑定文本を返す
func (s *Stub) GenerateText(ctx context.Context, prompt string) (*Result, error) {
	head := prompt
	if idx := strings.Index(prompt, "\n"); idx > 0 {
		head = prompt[:idx]
	}
	text := "【開発環境ダミー鑑定】\n\n" +
		head + "\n\n" +
		"こちらは開発環境向けのダミー鑑定結果です。実際の環境では Claude API からの応答がここに入ります。"
	return &Result{Text: text}, nil
}
