// Package repair extracts the summarization artifact from raw model
// output. The model frames its JSON in prose and markdown fences and
// frequently truncates or malforms it, so extraction is a ladder of
// progressively more forgiving strategies. Parsing is attempted after
// each stage; the first success wins.
package repair

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Parse runs the extraction ladder over raw model output and returns a
// decoded value tree. It always returns a usable tree: when every
// strategy fails, the result is the empty artifact
// {summary:"", keyword:"", paragraphs:[]}.
//
// Ladder:
//  1. complete ```json fenced block (brace counting)
//  2. complete generic ``` fenced block
//  3. partial fenced block, completed by completePartial
//  4. field-by-field regex extraction over the whole text
func Parse(raw string) map[string]any {
	candidate, complete, found := fencedCandidate(raw, "```json")
	if !found {
		candidate, complete, found = fencedCandidate(raw, "```")
	}

	if found {
		if tree, ok := tryParse(candidate); ok {
			return tree
		}

		if tree, ok := tryParse(repairSyntax(candidate)); ok {
			return tree
		}

		if !complete {
			completed := completePartial(candidate)
			if tree, ok := tryParse(completed); ok {
				return tree
			}

			if tree, ok := tryParse(repairSyntax(completed)); ok {
				return tree
			}
		}

		if tree, ok := tryParse(balance(repairSyntax(candidate))); ok {
			return tree
		}
	}

	return extractFields(raw)
}

// tryParse attempts a strict JSON parse into a value tree. Only object
// roots are accepted.
func tryParse(candidate string) (map[string]any, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || !strings.HasPrefix(candidate, "{") {
		return nil, false
	}

	var tree map[string]any
	if err := json.Unmarshal([]byte(candidate), &tree); err != nil {
		return nil, false
	}

	return tree, true
}

// fencedCandidate locates a fenced block anchored on tag, then walks a
// brace-depth counter from the first '{' inside it. complete reports
// whether the depth returned to zero; otherwise the candidate runs to
// the closing fence or end of text. Both the brace search and the depth
// walk stop at the closing fence, so a '{' in prose after the block is
// never captured.
func fencedCandidate(raw, tag string) (candidate string, complete, found bool) {
	start := strings.Index(raw, tag)
	if start == -1 {
		return "", false, false
	}

	body := start + len(tag)

	limit := len(raw)
	if end := strings.Index(raw[body:], "```"); end != -1 {
		limit = body + end
	}

	braceStart := strings.IndexByte(raw[body:limit], '{')
	if braceStart == -1 {
		return "", false, false
	}
	braceStart += body

	depth := 0
	for i := braceStart; i < limit; i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[braceStart : i+1], true, true
			}
		}
	}

	return strings.TrimSpace(raw[braceStart:limit]), false, true
}

// Structural repair patterns.
var (
	trailingComma   = regexp.MustCompile(`,\s*([}\]])`)
	doubledComma    = regexp.MustCompile(`,\s*,`)
	missingComma    = regexp.MustCompile(`"\s*"([^"]+)"\s*:`)
	adjacentObjects = regexp.MustCompile(`}\s*{`)

	// Sentiment tokens the model splits with interior whitespace.
	splitSentiments = []*regexp.Regexp{
		regexp.MustCompile(`"sentiment":\s*"(약한긍)\s+(정)"`),
		regexp.MustCompile(`"sentiment":\s*"(약한부)\s+(정)"`),
		regexp.MustCompile(`"sentiment":\s*"(강한긍)\s+(정)"`),
		regexp.MustCompile(`"sentiment":\s*"(강한부)\s+(정)"`),
	}
)

// repairSyntax fixes the common mechanical defects in model JSON:
// trailing and doubled commas, a missing comma between a string value
// and the next key, adjacent objects without a separator, an odd quote
// count, and whitespace-split sentiment tokens.
func repairSyntax(candidate string) string {
	repaired := candidate

	repaired = trailingComma.ReplaceAllString(repaired, "$1")
	repaired = doubledComma.ReplaceAllString(repaired, ",")
	repaired = missingComma.ReplaceAllString(repaired, `", "$1":`)
	repaired = adjacentObjects.ReplaceAllString(repaired, "}, {")

	for _, re := range splitSentiments {
		repaired = re.ReplaceAllString(repaired, `"sentiment": "$1$2"`)
	}

	if strings.Count(repaired, `"`)%2 != 0 {
		repaired += `"`
	}

	// Comma fixes can reintroduce a trailing comma before a closer.
	repaired = trailingComma.ReplaceAllString(repaired, "$1")

	return repaired
}

// balance closes whatever brace/bracket nesting is still open, ignoring
// closers that match nothing.
func balance(candidate string) string {
	var (
		stack    []byte
		out      strings.Builder
		inString bool
		escaped  bool
	)

	for i := 0; i < len(candidate); i++ {
		c := candidate[i]

		if inString {
			out.WriteByte(c)

			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}

			continue
		}

		switch c {
		case '"':
			inString = true
			out.WriteByte(c)
		case '{', '[':
			stack = append(stack, c)
			out.WriteByte(c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
				out.WriteByte(c)
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
				out.WriteByte(c)
			}
		default:
			out.WriteByte(c)
		}
	}

	if inString {
		out.WriteByte('"')
	}

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out.WriteByte('}')
		} else {
			out.WriteByte(']')
		}
	}

	return out.String()
}

var (
	summaryField = regexp.MustCompile(`"summary":\s*"[^"]*"`)
	keywordField = regexp.MustCompile(`"keyword":\s*("[^"]*"|\[[^\]]*\])`)
)

// completePartial turns a truncated candidate into parseable JSON:
// close an unterminated string, strip the dangling tail after it, make
// sure the canonical keys exist, give an opened-but-empty paragraphs
// array one default object, then balance the nesting.
func completePartial(candidate string) string {
	repaired := strings.TrimSpace(candidate)
	if repaired == "" {
		return `{"summary": "", "keyword": "", "paragraphs": []}`
	}

	repaired = closeOpenString(repaired)
	repaired = repairSyntax(repaired)

	if !strings.Contains(repaired, `"summary"`) {
		if repaired == "{" {
			repaired = `{"summary": ""`
		} else if strings.HasPrefix(repaired, "{") {
			repaired = `{"summary": "", ` + repaired[1:]
		}
	}

	if !strings.Contains(repaired, `"keyword"`) {
		if loc := summaryField.FindStringIndex(repaired); loc != nil {
			repaired = repaired[:loc[1]] + `, "keyword": ""` + repaired[loc[1]:]
		}
	}

	if !strings.Contains(repaired, `"paragraphs"`) {
		if loc := keywordField.FindStringIndex(repaired); loc != nil {
			repaired = repaired[:loc[1]] + `, "paragraphs": []` + repaired[loc[1]:]
		}
	}

	// An opened paragraphs array with no objects gets one default.
	if idx := strings.Index(repaired, `"paragraphs": [`); idx != -1 {
		after := repaired[idx+len(`"paragraphs": [`):]
		trimmed := strings.TrimSpace(after)

		if trimmed == "" || strings.HasPrefix(trimmed, "]") {
			insert := idx + len(`"paragraphs": [`)
			repaired = repaired[:insert] + `{"summary": "", "keyword": "", "sentiment": "보통"}` + repaired[insert:]
		}
	}

	return balance(repaired)
}

// closeOpenString appends a closing quote if the candidate ends inside
// a string literal.
func closeOpenString(candidate string) string {
	if strings.HasSuffix(candidate, `"`) ||
		strings.HasSuffix(candidate, "}") ||
		strings.HasSuffix(candidate, "]") {
		return candidate
	}

	lastQuote := strings.LastIndexByte(candidate, '"')
	if lastQuote == -1 {
		return candidate
	}

	after := candidate[lastQuote+1:]
	if !strings.ContainsAny(after, ":,}]") {
		return candidate + `"`
	}

	return candidate
}

var (
	summaryValue  = regexp.MustCompile(`"summary":\s*"([^"]*)"`)
	keywordValue  = regexp.MustCompile(`"keyword":\s*(?:"([^"]*)"|(\[[^\]]*\]))`)
	quotedStrings = regexp.MustCompile(`"([^"]*)"`)
	paragraphsArr = regexp.MustCompile(`(?s)"paragraphs":\s*\[(.*)`)
	sentimentVal  = regexp.MustCompile(`"sentiment":\s*"([^"]*)"`)
)

// extractFields is the last resort: scrape the fields out of the raw
// text one regex at a time and assemble a synthetic tree.
func extractFields(raw string) map[string]any {
	tree := map[string]any{
		"summary":    "",
		"keyword":    "",
		"paragraphs": []any{},
	}

	if m := summaryValue.FindStringSubmatch(raw); m != nil {
		tree["summary"] = m[1]
	}

	if kw, ok := scrapeKeyword(raw); ok {
		tree["keyword"] = kw
	}

	if m := paragraphsArr.FindStringSubmatch(raw); m != nil {
		var paragraphs []any

		for _, obj := range walkObjects(m[1]) {
			paragraph := map[string]any{
				"summary":   "",
				"keyword":   "",
				"sentiment": "보통",
			}

			if pm := summaryValue.FindStringSubmatch(obj); pm != nil {
				paragraph["summary"] = pm[1]
			}

			if kw, ok := scrapeKeyword(obj); ok {
				paragraph["keyword"] = kw
			}

			if pm := sentimentVal.FindStringSubmatch(obj); pm != nil {
				paragraph["sentiment"] = pm[1]
			}

			paragraphs = append(paragraphs, paragraph)
		}

		if paragraphs != nil {
			tree["paragraphs"] = paragraphs
		}
	}

	return tree
}

// scrapeKeyword pulls a keyword value in either accepted shape: a
// comma-separated string, or an array whose strings are re-joined.
func scrapeKeyword(text string) (string, bool) {
	m := keywordValue.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}

	if m[1] != "" || m[2] == "" {
		return m[1], true
	}

	var keywords []string
	for _, q := range quotedStrings.FindAllStringSubmatch(m[2], -1) {
		keywords = append(keywords, q[1])
	}

	return strings.Join(keywords, ", "), true
}

// walkObjects collects each top-level {...} object from the inside of
// a (possibly truncated) array body.
func walkObjects(body string) []string {
	var (
		objects []string
		depth   int
		current strings.Builder
	)

	for i := 0; i < len(body); i++ {
		c := body[i]

		switch {
		case c == '{':
			if depth == 0 {
				current.Reset()
			}
			current.WriteByte(c)
			depth++
		case c == '}':
			if depth == 0 {
				continue
			}
			depth--
			current.WriteByte(c)
			if depth == 0 {
				objects = append(objects, current.String())
			}
		case depth > 0:
			current.WriteByte(c)
		case c == ']':
			return objects
		}
	}

	return objects
}
