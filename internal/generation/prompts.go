package generation

import (
	"fmt"
	"strings"

	"github.com/moyamoya-lab/moyamoya/backend/internal/draft"
)

// Prompt construction is deterministic: the same draft state always yields
// the same prompt text. The instruction texts are carried verbatim from the
// authoring product and are therefore Japanese.

const initialScriptPromptTemplate = `あなたはプロのプレゼン構成ライターです。
ユーザーの断片的なメモ（もやもや）を読み解き、聴衆を惹きつける「5分間」のプレゼン原稿を作成してください。

【もやもやメモ】
%s

【構成ルール】
以下の5セクション構成を厳守してください。話し言葉で、自然なトーンにしてください。

■ 導入（30秒）
聴衆の興味を引くフックから始めてください。
■ 背景・課題（1分）
なぜこの話をするのか、現在どんな問題があるのかを伝えてください。
■ 提案・解決策（2分30秒）
核心となるアイディアや提案を、最も時間をかけて説明してください。
■ 根拠・期待効果（1分）
なぜその提案が正しいのか、どんな良いことが起きるのかを説明してください。
■ 結び（30秒）
印象的なメッセージと共に、聴衆に取ってほしいアクションを伝えてください。`

const questionPromptTemplate = `このプレゼン原稿をもっと「具体的」で「説得力のある」ものにするために、書き手（ユーザー）に聞くべき深掘り質問を3つから5つ作成してください。

【現在の原稿】
%s

【質問のコツ】
- 数字、具体的な場所、固有名詞などを聞き出す。
- 聴衆が疑問に思いそうなポイントを突く。
- 過去の失敗談や成功体験など、ストーリーに深みが出る要素を聞く。

【出力形式】
JSON配列形式で出力してください。各要素は {"id": 整数, "question": "質問文", "reason": "理由"} のオブジェクトとし、JSON以外の文章は出力しないでください。`

const mergePromptTemplate = `以下の「追加情報（ユーザーの回答）」を、現在のプレゼン原稿の適切な場所に「具体的」に組み込んで、原稿を大幅に進化させてください。

【現在の原稿】
%s

【追加情報】
%s

【アップデートの指示】
1. 追加された情報を単に並べるのではなく、自然な文脈として原稿の中に溶け込ませてください。
2. 数字や具体的な名称がある場合は、必ず原稿内に明記してください。
3. 5セクションの構成（■の見出し）はそのまま維持してください。
4. 全体の長さは5分（約1500〜1800文字程度）をキープしてください。`

const slideOutlinePromptTemplate = `あなたはプレゼンテーション作成のプロフェッショナルです。
以下のもやもやした考えや悩みを、明確で説得力のあるプレゼンテーションに変換してください。

ユーザーの入力:
"""
%s
"""

以下のJSON形式で出力してください（JSONのみ、他の説明は不要）:
{
  "title": "プレゼンテーションのタイトル",
  "slides": [
    {
      "title": "スライド1のタイトル",
      "content": "スライド1の内容（箇条書きや説明文）"
    }
  ]
}

スライドは3〜7枚程度で、以下の構成を意識してください：
1. タイトルスライド（問題提起）
2. 現状・背景
3. 課題・問題点
4. 解決策・提案
5. 期待される効果
6. まとめ・次のステップ`

// BuildInitialScriptPrompt renders the phase 1 prompt from the raw author
// input.
func BuildInitialScriptPrompt(moyamoya string) string {
	return fmt.Sprintf(initialScriptPromptTemplate, moyamoya)
}

// BuildQuestionPrompt renders the phase 2 prompt from the generated script.
func BuildQuestionPrompt(script string) string {
	return fmt.Sprintf(questionPromptTemplate, script)
}

// BuildMergePrompt renders the phase 3 prompt from the current script and
// the answered questions. Questions with empty trimmed answers contribute
// nothing to the merge context. The stated length target is a hint to the
// generator, never validated against the response.
func BuildMergePrompt(script string, answered []draft.Question) string {
	pairs := make([]string, 0, len(answered))
	for _, question := range answered {
		pairs = append(pairs, fmt.Sprintf("質問：%s\n回答：%s", question.Question, question.Answer))
	}
	return fmt.Sprintf(mergePromptTemplate, script, strings.Join(pairs, "\n\n"))
}

// BuildSlideOutlinePrompt renders the alternate one-shot outline prompt.
func BuildSlideOutlinePrompt(input string) string {
	return fmt.Sprintf(slideOutlinePromptTemplate, input)
}
