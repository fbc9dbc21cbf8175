// Package postproc normalizes the decoded model artifact: it filters
// example leakage, rewrites verbal summaries into noun phrases, gates
// over-long summaries for re-query, and canonicalizes keywords and
// sentiments. Every function is pure and idempotent on already
// normalized input.
package postproc

import (
	"regexp"
	"strings"

	"github.com/gemma-ipc/gemmad/internal/protocol"
)

// RequeryPrefix marks a summary whose length exceeded the gate; the
// worker re-queries the model for a shorter noun-phrase version.
const RequeryPrefix = "[재질의 필요] "

// SummaryByteLimit is the UTF-8 byte length above which a summary is
// marked for re-query.
const SummaryByteLimit = 120

// EmptySummary replaces summaries that carry no usable content.
const EmptySummary = "요약이 불가능한 내용입니다."

const maxKeywords = 5

var whitespaceRun = regexp.MustCompile(`\s+`)

// examplePatterns detect prompt-example leakage: the model echoing the
// instruction text or sample values instead of analyzing the call.
var examplePatterns = []*regexp.Regexp{
	regexp.MustCompile("```"),
	regexp.MustCompile(`출력 예시`),
	regexp.MustCompile(`분석 규칙`),
	regexp.MustCompile(`예시`),
	regexp.MustCompile(`샘플`),
	regexp.MustCompile(`(?i)테스트`),
	regexp.MustCompile(`JSON 형식`),
	regexp.MustCompile(`키워드1.*키워드5`),
}

// nounRule is one ordered verb-to-noun rewrite. Patterns anchor on the
// verbal ending; the first matching rule wins.
type nounRule struct {
	pattern *regexp.Regexp
	repl    string
}

// nounRules rewrites common verbal sentence endings into the noun
// phrases the summary field requires. The table is data, not code:
// rules are linguistic assets and get tuned without touching logic.
// Specific service verbs come first; the generic ending strip is last.
var nounRules = []nounRule{
	{regexp.MustCompile(`안내(해 ?드렸|하였|했|드렸)습니다[.]?$`), "안내"},
	{regexp.MustCompile(`문의(를 )?(하였|했|드렸)습니다[.]?$`), "문의"},
	{regexp.MustCompile(`답변(해 ?드렸|하였|했|드렸)습니다[.]?$`), "답변"},
	{regexp.MustCompile(`설명(해 ?드렸|하였|했|드렸)습니다[.]?$`), "설명"},
	{regexp.MustCompile(`확인(해 ?드렸|하였|했)습니다[.]?$`), "확인"},
	{regexp.MustCompile(`처리(되었|하였|했|해 ?드렸)습니다[.]?$`), "처리"},
	{regexp.MustCompile(`해결(되었|하였|했|해 ?드렸)습니다[.]?$`), "해결"},
	{regexp.MustCompile(`요청(하였|했|드렸)습니다[.]?$`), "요청"},
	{regexp.MustCompile(`접수(되었|하였|했)습니다[.]?$`), "접수"},
	{regexp.MustCompile(`예약(되었|하였|했)습니다[.]?$`), "예약"},
	{regexp.MustCompile(`신청(하였|했)습니다[.]?$`), "신청"},
	{regexp.MustCompile(`변경(되었|하였|했)습니다[.]?$`), "변경"},
	{regexp.MustCompile(`취소(되었|하였|했)습니다[.]?$`), "취소"},
	{regexp.MustCompile(`발송(되었|하였|했)습니다[.]?$`), "발송"},
	{regexp.MustCompile(`검토(하였|했|하겠)습니다[.]?$`), "검토"},
	{regexp.MustCompile(`진행(되었|하였|했|하겠)습니다[.]?$`), "진행"},
	// Generic fallback: strip the remaining verbal ending entirely.
	{regexp.MustCompile(`\s*(하였습니다|했습니다|합니다|되었습니다|됩니다)[.]?$`), ""},
}

// sentimentCanon maps model sentiment tokens to the five canonical
// values. Canonical inputs map to themselves; anything unknown becomes
// 보통.
var sentimentCanon = map[string]string{
	"강한긍정": "강한긍정",
	"약한긍정": "약한긍정",
	"보통":   "보통",
	"약한부정": "약한부정",
	"강한부정": "강한부정",
	"긍정":   "약한긍정",
	"만족":   "약한긍정",
	"신남":   "약한긍정",
	"부정":   "약한부정",
	"불만":   "약한부정",
	"우려":   "약한부정",
	"중립":   "보통",
	"화남":   "강한부정",
}

// Sentence scoring assets for multi-sentence paragraph summaries.
var (
	scoreKeywords = []string{"문의", "답변", "안내", "설명", "처리", "해결", "확인", "검토", "분석"}
	actionTokens  = []string{"드리", "하겠", "진행", "발송", "접수", "예약", "신청", "변경", "취소"}
	negativeTkns  = []string{"없", "불가", "아니", "못", "실패", "오류"}

	sentenceSplit = regexp.MustCompile(`[.!?。!?]`)
)

// isExampleLeakage reports whether text echoes prompt instructions or
// sample content.
func isExampleLeakage(text string) bool {
	for _, re := range examplePatterns {
		if re.MatchString(text) {
			return true
		}
	}

	return false
}

// collapse trims and collapses whitespace runs.
func collapse(text string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
}

// NounForm collapses whitespace and applies the verb-to-noun rewrite
// table. This is the only transform applied to re-query results, so
// the length gate cannot recur.
func NounForm(text string) string {
	text = collapse(text)

	for _, rule := range nounRules {
		if rule.pattern.MatchString(text) {
			text = rule.pattern.ReplaceAllString(text, rule.repl)

			break
		}
	}

	return collapse(text)
}

// GateLength prefixes summaries longer than SummaryByteLimit with
// RequeryPrefix. It never truncates, and an already prefixed summary
// is returned unchanged, so GateLength(GateLength(x)) == GateLength(x).
func GateLength(summary string) string {
	if strings.HasPrefix(summary, RequeryPrefix) {
		return summary
	}

	if len(summary) > SummaryByteLimit {
		return RequeryPrefix + summary
	}

	return summary
}

// Summary normalizes the top-level summary field: example filter,
// whitespace collapse, noun-form rewrite, then the length gate.
func Summary(text string) string {
	if strings.HasPrefix(text, RequeryPrefix) {
		return text
	}

	if isExampleLeakage(text) {
		return EmptySummary
	}

	text = NounForm(text)
	if text == "" {
		return EmptySummary
	}

	return GateLength(text)
}

// paragraphSummary normalizes one paragraph summary: best-sentence
// selection for multi-sentence text, example filter, noun rewrite.
// Paragraph summaries are exempt from the length gate.
func paragraphSummary(text string) string {
	if isExampleLeakage(text) {
		return EmptySummary
	}

	text = bestSentence(collapse(text))

	text = NounForm(text)
	if text == "" {
		return EmptySummary
	}

	return text
}

// bestSentence picks the highest-scoring sentence when text holds more
// than one. Ties keep the earlier sentence.
func bestSentence(text string) string {
	parts := sentenceSplit.Split(text, -1)

	var sentences []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			sentences = append(sentences, p)
		}
	}

	if len(sentences) <= 1 {
		return text
	}

	best := sentences[0]
	bestScore := scoreSentence(sentences[0])

	for _, s := range sentences[1:] {
		if score := scoreSentence(s); score > bestScore {
			best, bestScore = s, score
		}
	}

	return best
}

// scoreSentence rates a sentence's usefulness as a paragraph summary:
// a length-band bonus, a bonus for call-domain keywords, and
// adjustments for action and negative tokens.
func scoreSentence(s string) int {
	runes := len([]rune(s))

	var score int
	switch {
	case runes >= 10 && runes <= 50:
		score = 3
	case runes >= 5 && runes <= 80:
		score = 2
	default:
		score = 1
	}

	for _, kw := range scoreKeywords {
		if strings.Contains(s, kw) {
			score += 2

			break
		}
	}

	for _, tok := range actionTokens {
		score += strings.Count(s, tok)
	}

	for _, tok := range negativeTkns {
		score -= strings.Count(s, tok)
	}

	return score
}

// Keyword normalizes a keyword value of either accepted shape (string
// or list) into a deduplicated, comma-joined string. A limit of 0
// means unbounded.
func Keyword(value any, limit int) string {
	var parts []string

	switch v := value.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
	default:
		return ""
	}

	var (
		seen = map[string]bool{}
		out  []string
	)

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}

		seen[p] = true
		out = append(out, p)

		if limit > 0 && len(out) == limit {
			break
		}
	}

	return strings.Join(out, ", ")
}

// Sentiment maps a sentiment token to one of the five canonical
// values; unknown input becomes 보통.
func Sentiment(value string) string {
	if canon, ok := sentimentCanon[strings.TrimSpace(value)]; ok {
		return canon
	}

	return "보통"
}

// DefaultParagraph is substituted when the model produced no usable
// paragraphs.
func DefaultParagraph() protocol.Paragraph {
	return protocol.Paragraph{
		Summary:   EmptySummary,
		Keyword:   "",
		Sentiment: "보통",
	}
}

// Normalize coerces a decoded value tree into the typed artifact. Each
// field may be absent, a string, a list, or junk; the coercion is the
// single place those shapes collapse into the schema.
func Normalize(tree map[string]any) protocol.Artifact {
	artifact := protocol.Artifact{
		Summary:    Summary(asString(tree["summary"])),
		Keyword:    Keyword(tree["keyword"], maxKeywords),
		Paragraphs: []protocol.Paragraph{},
	}

	items, _ := tree["paragraphs"].([]any)

	for _, item := range items {
		if len(artifact.Paragraphs) == 3 {
			break
		}

		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}

		artifact.Paragraphs = append(artifact.Paragraphs, protocol.Paragraph{
			Summary:   paragraphSummary(asString(obj["summary"])),
			Keyword:   Keyword(obj["keyword"], 0),
			Sentiment: Sentiment(asString(obj["sentiment"])),
		})
	}

	if len(artifact.Paragraphs) == 0 {
		artifact.Paragraphs = []protocol.Paragraph{DefaultParagraph()}
	}

	return artifact
}

// asString coerces a tree value to string: strings pass through, a
// non-empty list contributes its first string element, everything else
// is empty.
func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}

	return ""
}
