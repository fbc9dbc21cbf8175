package postproc

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemma-ipc/gemmad/internal/protocol"
)

func Test_NounForm_Rewrites_Service_Verbs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"요금제 변경을 안내해 드렸습니다.", "요금제 변경을 안내"},
		{"고객이 배송 일정을 문의했습니다", "고객이 배송 일정을 문의"},
		{"환불 절차를 설명드렸습니다.", "환불 절차를 설명"},
		{"해지 신청이 접수되었습니다.", "해지 신청이 접수"},
		{"상담 예약이 변경되었습니다.", "상담 예약이 변경"},
		{"추가 요금 검토하겠습니다.", "추가 요금 검토"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, NounForm(tc.in), "input %q", tc.in)
	}
}

func Test_NounForm_Generic_Ending_Strip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "인터넷 속도 개선 작업 완료", NounForm("인터넷 속도 개선 작업 완료되었습니다."))
	assert.Equal(t, "다음 주에 방문", NounForm("다음 주에 방문합니다"))
}

func Test_NounForm_Leaves_Noun_Phrases_Alone(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "요금제 변경 안내", NounForm("요금제 변경 안내"))
	assert.Equal(t, "배송 지연 문의", NounForm("  배송 지연   문의  "))
}

func Test_NounForm_Applies_First_Matching_Rule_Only(t *testing.T) {
	t.Parallel()

	// 안내 rule matches before the generic strip; only the ending moves.
	got := NounForm("처리 결과를 안내했습니다.")

	assert.Equal(t, "처리 결과를 안내", got)
}

func Test_GateLength_Prefixes_Over_Limit_Summaries(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("가", 50) // 150 UTF-8 bytes

	gated := GateLength(long)

	assert.True(t, strings.HasPrefix(gated, RequeryPrefix))
	assert.Equal(t, RequeryPrefix+long, gated, "gate must not truncate")
}

func Test_GateLength_Is_Idempotent(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("가", 50)

	once := GateLength(long)
	twice := GateLength(once)

	assert.Equal(t, once, twice)
}

func Test_GateLength_Leaves_Short_Summaries_Alone(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "짧은 요약", GateLength("짧은 요약"))
}

func Test_Summary_Example_Leakage_Becomes_Empty_Summary(t *testing.T) {
	t.Parallel()

	for _, leaked := range []string{
		"```json 형식으로 출력",
		"출력 예시: 요금제 변경",
		"분석 규칙에 따라 작성",
		"키워드1, 키워드2, 키워드5",
	} {
		assert.Equal(t, EmptySummary, Summary(leaked), "input %q", leaked)
	}
}

func Test_Summary_Empty_After_Rewrite_Becomes_Empty_Summary(t *testing.T) {
	t.Parallel()

	assert.Equal(t, EmptySummary, Summary(""))
	assert.Equal(t, EmptySummary, Summary("   "))
	assert.Equal(t, EmptySummary, Summary("했습니다."))
}

func Test_Summary_Is_Idempotent(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"요금제 변경을 안내해 드렸습니다.",
		strings.Repeat("가", 50),
		"테스트 예시 출력",
		"",
		"보통의 노멀한 요약",
	} {
		once := Summary(in)
		twice := Summary(once)

		assert.Equal(t, once, twice, "input %q", in)
	}
}

func Test_Keyword_String_Shape(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "요금제, 변경, 할인", Keyword("요금제, 변경 , 할인", 5))
}

func Test_Keyword_List_Shape(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "요금제, 변경", Keyword([]any{"요금제", "변경"}, 5))
}

func Test_Keyword_Dedupes_And_Caps(t *testing.T) {
	t.Parallel()

	got := Keyword("a, b, a, c, d, e, f", 5)

	assert.Equal(t, "a, b, c, d, e", got)
}

func Test_Keyword_Drops_Empty_Entries(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a, b", Keyword("a, , b,", 5))
	assert.Equal(t, "", Keyword("", 5))
	assert.Equal(t, "", Keyword(42, 5))
}

func Test_Keyword_Zero_Limit_Is_Unbounded(t *testing.T) {
	t.Parallel()

	got := Keyword("a, b, c, d, e, f, g", 0)

	assert.Equal(t, "a, b, c, d, e, f, g", got)
}

func Test_Sentiment_Canonicalization(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"강한긍정":  "강한긍정",
		"약한긍정":  "약한긍정",
		"보통":    "보통",
		"약한부정":  "약한부정",
		"강한부정":  "강한부정",
		"긍정":    "약한긍정",
		"만족":    "약한긍정",
		"신남":    "약한긍정",
		"부정":    "약한부정",
		"불만":    "약한부정",
		"우려":    "약한부정",
		"중립":    "보통",
		"화남":    "강한부정",
		"":      "보통",
		"happy": "보통",
	}

	for in, want := range cases {
		assert.Equal(t, want, Sentiment(in), "input %q", in)
	}
}

func Test_BestSentence_Picks_Highest_Scoring(t *testing.T) {
	t.Parallel()

	// The second sentence lands in the 10-50 rune band and carries a
	// domain keyword; the first is a short filler.
	text := "네. 고객의 요금제 변경 문의에 대해 할인 조건을 안내함. 끝."

	got := bestSentence(text)

	assert.Contains(t, got, "요금제 변경 문의")
}

func Test_BestSentence_Single_Sentence_Passes_Through(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "한 문장뿐", bestSentence("한 문장뿐"))
}

func Test_ScoreSentence_Negative_Tokens_Subtract(t *testing.T) {
	t.Parallel()

	plain := scoreSentence("고객에게 처리 결과를 전달")
	negative := scoreSentence("고객에게 처리 결과를 전달 못함 오류")

	assert.Greater(t, plain, negative)
}

func Test_Normalize_Well_Formed_Tree(t *testing.T) {
	t.Parallel()

	tree := map[string]any{
		"summary": "요금제 변경을 안내했습니다.",
		"keyword": []any{"요금제", "변경"},
		"paragraphs": []any{
			map[string]any{"summary": "할인 조건 설명", "keyword": "할인", "sentiment": "만족"},
		},
	}

	got := Normalize(tree)

	want := protocol.Artifact{
		Summary: "요금제 변경을 안내",
		Keyword: "요금제, 변경",
		Paragraphs: []protocol.Paragraph{
			{Summary: "할인 조건 설명", Keyword: "할인", Sentiment: "약한긍정"},
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("normalize mismatch (-want +got):\n%s", diff)
	}
}

func Test_Normalize_Caps_Paragraphs_At_Three(t *testing.T) {
	t.Parallel()

	var items []any
	for i := 0; i < 5; i++ {
		items = append(items, map[string]any{
			"summary": "상담 내용 요약", "keyword": "상담", "sentiment": "보통",
		})
	}

	got := Normalize(map[string]any{
		"summary": "s", "keyword": "k", "paragraphs": items,
	})

	assert.Len(t, got.Paragraphs, 3)
}

func Test_Normalize_Empty_Paragraphs_Gets_Default(t *testing.T) {
	t.Parallel()

	got := Normalize(map[string]any{
		"summary": "요약", "keyword": "", "paragraphs": []any{},
	})

	require.Len(t, got.Paragraphs, 1)
	assert.Equal(t, DefaultParagraph(), got.Paragraphs[0])
}

func Test_Normalize_Skips_Non_Object_Paragraph_Items(t *testing.T) {
	t.Parallel()

	got := Normalize(map[string]any{
		"summary": "요약",
		"keyword": "",
		"paragraphs": []any{
			"문자열 항목",
			map[string]any{"summary": "정상 항목", "keyword": "", "sentiment": "보통"},
		},
	})

	require.Len(t, got.Paragraphs, 1)
	assert.Equal(t, "정상 항목", got.Paragraphs[0].Summary)
}

func Test_Normalize_Missing_Fields(t *testing.T) {
	t.Parallel()

	got := Normalize(map[string]any{})

	assert.Equal(t, EmptySummary, got.Summary)
	assert.Equal(t, "", got.Keyword)
	require.Len(t, got.Paragraphs, 1)
	assert.Equal(t, DefaultParagraph(), got.Paragraphs[0])
}

func Test_Normalize_Summary_As_List_Takes_First_String(t *testing.T) {
	t.Parallel()

	got := Normalize(map[string]any{
		"summary":    []any{"첫 요약", "둘째 요약"},
		"keyword":    "",
		"paragraphs": []any{},
	})

	assert.Equal(t, "첫 요약", got.Summary)
}
