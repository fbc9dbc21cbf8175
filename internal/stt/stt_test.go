package stt

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/gemma-ipc/gemmad/internal/protocol"
)

func Test_SpeakerLabel_Maps_Known_Channel_Types(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "나", SpeakerLabel(4))
	assert.Equal(t, "상대방", SpeakerLabel(2))
	assert.Equal(t, "화자1", SpeakerLabel(1))
	assert.Equal(t, "화자7", SpeakerLabel(7))
}

func Test_CleanText_Collapses_Whitespace_And_Strips_Noise(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "안녕하세요 고객님", CleanText("  안녕하세요\t\n고객님  "))
	assert.Equal(t, "요금제 변경 (프리미엄) 신청!", CleanText("요금제 변경 ★ (프리미엄) ♥신청!"))
	assert.Equal(t, "문의: 010-1234", CleanText("문의: 010-1234 ☎"))
	assert.Equal(t, "", CleanText("  ★♥☎  "))
}

func Test_CleanText_Keeps_Compatibility_Jamo(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ㅋㅋ 진짜요", CleanText("ㅋㅋ 진짜요"))
	assert.Equal(t, "아 ㅠㅠ 어떡해요", CleanText("아 ㅠㅠ 어떡해요"))
}

func Test_Dedupe_Skips_Exact_Repeats_Of_Same_Speaker(t *testing.T) {
	t.Parallel()

	got := Dedupe([]string{
		"나 > 요금제를 변경하고 싶어요",
		"나 > 요금제를 변경하고 싶어요",
		"상대방 > 네 도와드리겠습니다",
	})

	want := []string{
		"나 > 요금제를 변경하고 싶어요",
		"상대방 > 네 도와드리겠습니다",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dedupe mismatch (-want +got):\n%s", diff)
	}
}

func Test_Dedupe_Keeps_Exact_Repeat_From_Different_Speaker(t *testing.T) {
	t.Parallel()

	got := Dedupe([]string{
		"나 > 감사합니다",
		"상대방 > 감사합니다",
	})

	assert.Len(t, got, 2)
}

func Test_Dedupe_Drops_Consecutive_Fillers_Of_Same_Speaker(t *testing.T) {
	t.Parallel()

	got := Dedupe([]string{
		"상대방 > 주소 확인 도와드리겠습니다",
		"상대방 > 네",
		"상대방 > 음",
		"나 > 네",
	})

	want := []string{
		"상대방 > 주소 확인 도와드리겠습니다",
		"나 > 네",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dedupe mismatch (-want +got):\n%s", diff)
	}
}

func Test_Dedupe_Merges_Substring_Neighbors_Longer_Wins(t *testing.T) {
	t.Parallel()

	// Shorter after longer: dropped.
	got := Dedupe([]string{
		"나 > 인터넷이 어제부터 안 됩니다",
		"나 > 인터넷이 어제부터",
	})
	assert.Equal(t, []string{"나 > 인터넷이 어제부터 안 됩니다"}, got)

	// Longer after shorter: replaces in place.
	got = Dedupe([]string{
		"나 > 인터넷이 어제부터",
		"나 > 인터넷이 어제부터 안 됩니다",
	})
	assert.Equal(t, []string{"나 > 인터넷이 어제부터 안 됩니다"}, got)
}

func Test_Dedupe_Drops_Lines_Without_Speaker_Separator(t *testing.T) {
	t.Parallel()

	got := Dedupe([]string{
		"말머리 없는 줄",
		"나 > 정상 줄",
	})

	assert.Equal(t, []string{"나 > 정상 줄"}, got)
}

func Test_Dialogue_Builds_Speaker_Prefixed_Lines(t *testing.T) {
	t.Parallel()

	got := Dialogue([]protocol.STTSegment{
		{Transcript: "상담원입니다 무엇을 도와드릴까요", RecType: 2},
		{Transcript: "요금 문의드립니다", RecType: 4},
	})

	want := "상대방 > 상담원입니다 무엇을 도와드릴까요\n나 > 요금 문의드립니다"
	assert.Equal(t, want, got)
}

func Test_Dialogue_When_All_Segments_Clean_To_Nothing(t *testing.T) {
	t.Parallel()

	got := Dialogue([]protocol.STTSegment{
		{Transcript: "  ★  ", RecType: 2},
		{Transcript: "", RecType: 4},
	})

	assert.Equal(t, EmptyDialogue, got)
}

func Test_Dialogue_When_No_Segments(t *testing.T) {
	t.Parallel()

	assert.Equal(t, EmptyDialogue, Dialogue(nil))
}

func Test_Dialogue_Output_Never_Has_Blank_Lines(t *testing.T) {
	t.Parallel()

	got := Dialogue([]protocol.STTSegment{
		{Transcript: "첫 번째 발화", RecType: 2},
		{Transcript: "   ", RecType: 4},
		{Transcript: "두 번째 발화", RecType: 4},
	})

	for _, line := range strings.Split(got, "\n") {
		assert.NotEmpty(t, strings.TrimSpace(line))
	}
}
