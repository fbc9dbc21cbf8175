package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_EstimateTokens_Uses_Byte_Length(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("abcdef"))
	// Hangul syllables are 3 bytes, roughly one token each.
	assert.Equal(t, 10, EstimateTokens(strings.Repeat("가", 10)))
}

func Test_BudgetTokens_Clamps_To_Range(t *testing.T) {
	t.Parallel()

	// Plenty of room: capped at the maximum.
	assert.Equal(t, 4000, BudgetTokens(16384, 1000))

	// Tight context: floored at the minimum.
	assert.Equal(t, 500, BudgetTokens(2048, 2000))

	// In between: context - prompt - margin.
	assert.Equal(t, 948, BudgetTokens(2048, 1000))
}

func Test_AnalysisProfile_Decoding_Parameters(t *testing.T) {
	t.Parallel()

	opts := AnalysisProfile()

	assert.Equal(t, 0.3, opts.Temperature)
	assert.Equal(t, 0.8, opts.TopP)
	assert.Equal(t, 20, opts.TopK)
	assert.Equal(t, 0.1, opts.MinP)
	assert.Equal(t, 1.05, opts.RepeatPenalty)
	assert.False(t, opts.Echo)
	assert.Zero(t, opts.MaxTokens, "budget is computed per call")
}

func Test_AnalysisPrompt_Embeds_Dialogue_And_Schema(t *testing.T) {
	t.Parallel()

	prompt := AnalysisPrompt("나 > 요금제 문의")

	assert.Contains(t, prompt, "나 > 요금제 문의")
	assert.Contains(t, prompt, "```json")
	assert.Contains(t, prompt, `"paragraphs"`)
	assert.Contains(t, prompt, "강한긍정")
}

func Test_RequeryPrompt_Embeds_Previous_Summary(t *testing.T) {
	t.Parallel()

	prompt := RequeryPrompt("고객이 요금제 변경을 문의하여 상담원이 할인 조건을 안내")

	assert.Contains(t, prompt, "고객이 요금제 변경을 문의하여")
	assert.NotContains(t, prompt, "json", "re-query asks for plain text")
}

func Test_Mock_Replays_Script_In_Order(t *testing.T) {
	t.Parallel()

	mock := NewMock(
		Completion{Text: "first", FinishReason: FinishStop},
		Completion{Text: "second", FinishReason: FinishStop},
	)

	c1, err := mock.Complete(context.Background(), "p1", Options{})
	require.NoError(t, err)
	assert.Equal(t, "first", c1.Text)

	c2, err := mock.Complete(context.Background(), "p2", Options{})
	require.NoError(t, err)
	assert.Equal(t, "second", c2.Text)

	// Script exhausted: the last completion repeats.
	c3, err := mock.Complete(context.Background(), "p3", Options{})
	require.NoError(t, err)
	assert.Equal(t, "second", c3.Text)

	calls := mock.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "p1", calls[0].Prompt)
}

func Test_Mock_Fail_Returns_Error(t *testing.T) {
	t.Parallel()

	mock := NewMock(Completion{Text: "unused"})
	mock.Fail(ErrEngineFailed)

	_, err := mock.Complete(context.Background(), "p", Options{})

	assert.True(t, errors.Is(err, ErrEngineFailed))
}

func Test_Mock_Context_Window_Override(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2048, NewMock().ContextWindow())
	assert.Equal(t, 8192, NewMock().WithContextWindow(8192).ContextWindow())
}
