package generator

import (
	"fmt"

	"github.com/Tohoso/ai-fortune-service/internal/domain"
)

// promptTemplate 占いタイプ別プロンプト
// [NAME] [BIRTHDATE] [CONSULTATION] がプレースホルダ
type promptTemplate struct {
	Title   string
	Content string
}

// templates 閉じた集合：enum キーの参照表
// 未知タイプはデフォルトへフォールバックせず TemplateNotFound で即失敗させる
var templates = map[domain.FortuneType]promptTemplate{
	domain.FortuneGeneral: {
		Title: "総合運",
		Content: `あなたは熟練の占い師です。[NAME]様の総合運を鑑定してください。
生年月日: [BIRTHDATE]
ご相談内容: [CONSULTATION]

全体運・仕事運・金運・恋愛運・健康運のそれぞれについて100〜150文字程度で占い、
最後に[NAME]様へのアドバイスを200文字程度でまとめてください。
各項目の見出しは【全体運】のように【】で囲んでください。
結果は日本語で、敬語を使って書いてください。`,
	},
	domain.FortuneCareer: {
		Title: "仕事運",
		Content: `あなたは熟練の占い師です。[NAME]様の仕事運を中心に鑑定してください。
生年月日: [BIRTHDATE]
ご相談内容: [CONSULTATION]

現在の仕事運、今後のキャリアの流れ、転機の時期、職場の人間関係について
それぞれ100〜150文字程度で占い、最後に具体的なアドバイスを200文字程度で
まとめてください。各項目の見出しは【仕事運】のように【】で囲んでください。
結果は日本語で、敬語を使って書いてください。`,
	},
	domain.FortuneLove: {
		Title: "恋愛運",
		Content: `あなたは熟練の占い師です。[NAME]様の恋愛運を中心に鑑定してください。
生年月日: [BIRTHDATE]
ご相談内容: [CONSULTATION]

現在の恋愛運、出会いの時期、相性、関係を深めるためのポイントについて
それぞれ100〜150文字程度で占い、最後にアドバイスを200文字程度でまとめて
ください。各項目の見出しは【恋愛運】のように【】で囲んでください。
結果は日本語で、敬語を使って書いてください。`,
	},
	domain.FortuneMoney: {
		Title: "金運",
		Content: `あなたは熟練の占い師です。[NAME]様の金運を中心に鑑定してください。
生年月日: [BIRTHDATE]
ご相談内容: [CONSULTATION]

現在の金運、収入の流れ、投資・貯蓄に向く時期、注意すべき出費について
それぞれ100〜150文字程度で占い、最後にアドバイスを200文字程度でまとめて
ください。各項目の見出しは【金運】のように【】で囲んでください。
結果は日本語で、敬語を使って書いてください。`,
	},
	domain.FortuneHealth: {
		Title: "健康運",
		Content: `あなたは熟練の占い師です。[NAME]様の健康運を中心に鑑定してください。
生年月日: [BIRTHDATE]
ご相談内容: [CONSULTATION]

現在の健康運、体調の変化が出やすい時期、心身のバランスの整え方について
それぞれ100〜150文字程度で占い、最後にアドバイスを200文字程度でまとめて
ください。各項目の見出しは【健康運】のように【】で囲んでください。
結果は日本語で、敬語を使って書いてください。`,
	},
}

// ValidateTemplates 起動時検証：全占いタイプにテンプレートが存在すること
func ValidateTemplates() error {
	for _, ft := range domain.FortuneTypes() {
		tpl, ok := templates[ft]
		if !ok {
			return fmt.Errorf("missing prompt template for fortune type: %s", ft)
		}
		if tpl.Title == "" || tpl.Content == "" {
			return fmt.Errorf("incomplete prompt template for fortune type: %s", ft)
		}
	}
	return nil
}
