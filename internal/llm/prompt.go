package llm

import "fmt"

// AnalysisPrompt builds the primary analysis prompt: an expert-role
// instruction, the output schema fenced as JSON, and the dialogue. The
// schema and rules mirror what the post-processor expects back.
func AnalysisPrompt(dialogue string) string {
	return fmt.Sprintf(`당신은 통화 내용을 분석하고 지정된 JSON 형식으로 요약하는 전문가입니다.
아래 [분석 규칙]을 참고하여, [원본 통화 내용]을 분석하고 완벽한 JSON을 생성하세요.

--- [분석 규칙] ---
1. summary: 통화 전체의 핵심 내용을 25자 이내의 명사형 어구로 요약하세요. (예: "바우처 카드 사용 문의 안내")
2. keyword: 가장 중요한 키워드 3개를 쉼표로 구분하여 작성하세요.
3. paragraphs: 통화 내용을 주제별로 2~3개 단락으로 나누고, 각 단락마다 summary, keyword, sentiment를 작성하세요.
4. 각 단락의 sentiment는 반드시 '강한긍정', '약한긍정', '보통', '약한부정', '강한부정' 중 하나를 선택하세요.

--- [출력 형식] ---
반드시 다음 JSON 형식으로만 응답하세요:
`+"```json"+`
{
    "summary": "",
    "keyword": "",
    "paragraphs": [
        {
            "summary": "",
            "keyword": "",
            "sentiment": ""
        }
    ]
}
`+"```"+`

--- [원본 통화 내용] ---
%s

위 통화 내용을 분석하여 JSON 형식으로 응답하세요:
`, dialogue)
}

// RequeryPrompt asks the model to compress its own previous summary
// into a short noun phrase. One in-context example, no JSON.
func RequeryPrompt(prevSummary string) string {
	return fmt.Sprintf(`다음 문장을 25자 이내의 짧은 명사형 어구로 다시 요약하세요.

예시:
문장: 고객이 바우처 카드 사용 가능 여부를 문의하였고 상담원이 사용 방법과 제한사항을 상세히 안내했습니다.
요약: 바우처 카드 사용 문의 안내

문장: %s
요약:`, prevSummary)
}
