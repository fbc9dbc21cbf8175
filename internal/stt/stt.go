// Package stt turns raw speech-to-text segments into the dialogue text
// the summarization prompt expects: one "<speaker> > <utterance>" line
// per segment, cleaned and deduplicated.
package stt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gemma-ipc/gemmad/internal/protocol"
)

// EmptyDialogue is returned when no usable segment survives cleaning.
const EmptyDialogue = "대화 내용이 없습니다."

const speakerSep = " > "

// whitespaceRun collapses any run of whitespace to one space.
var whitespaceRun = regexp.MustCompile(`\s+`)

// disallowed strips everything except word characters, Hangul, and
// basic punctuation. \w is ASCII-only here, so Hangul syllables and the
// compatibility jamo (ㅋㅋ, ㅠㅠ) are listed explicitly.
var disallowed = regexp.MustCompile(`[^\w\s가-힣ㄱ-ㅎㅏ-ㅣ.,!?()\-:]`)

// fillers are short acknowledgements dropped when the same speaker
// repeats them back to back.
var fillers = map[string]bool{
	"네": true, "아": true, "음": true, "어": true, "그": true, "응": true,
	"yes": true, "no": true, "ok": true,
}

// SpeakerLabel maps an STT channel type to a dialogue speaker name.
// Type 4 is the subscriber's own channel, type 2 the counterpart.
func SpeakerLabel(recType int) string {
	switch recType {
	case 4:
		return "나"
	case 2:
		return "상대방"
	default:
		return fmt.Sprintf("화자%d", recType)
	}
}

// CleanText collapses whitespace and removes characters that carry no
// dialogue meaning (STT noise, control characters, stray symbols).
func CleanText(text string) string {
	text = whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")

	return disallowed.ReplaceAllString(text, "")
}

// Dedupe removes noise from consecutive lines of the same speaker:
// exact repeats, repeated short fillers, and near-duplicates where one
// utterance contains the other (the longer one wins).
//
// Lines not in "<speaker> > <text>" form are dropped.
func Dedupe(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}

	var (
		cleaned     []string
		prevSpeaker string
		prevText    string
		havePrev    bool
	)

	for _, line := range lines {
		speaker, text, ok := strings.Cut(line, speakerSep)
		if !ok {
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if havePrev && speaker == prevSpeaker {
			if text == prevText {
				continue
			}

			if len([]rune(text)) <= 3 && fillers[text] {
				continue
			}

			if strings.Contains(prevText, text) {
				continue
			}

			if strings.Contains(text, prevText) {
				cleaned[len(cleaned)-1] = speaker + speakerSep + text
				prevText = text

				continue
			}
		}

		cleaned = append(cleaned, line)
		prevSpeaker = speaker
		prevText = text
		havePrev = true
	}

	return cleaned
}

// Dialogue runs the full preprocessing pipeline over raw segments and
// returns the newline-joined dialogue text.
func Dialogue(segments []protocol.STTSegment) string {
	var lines []string

	for _, seg := range segments {
		transcript := CleanText(seg.Transcript)
		if transcript == "" {
			continue
		}

		lines = append(lines, SpeakerLabel(seg.RecType)+speakerSep+transcript)
	}

	lines = Dedupe(lines)

	if len(lines) == 0 {
		return EmptyDialogue
	}

	return strings.Join(lines, "\n")
}
