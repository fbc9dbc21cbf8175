package broker

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/gemma-ipc/gemmad/internal/llm"
	"github.com/gemma-ipc/gemmad/internal/postproc"
	"github.com/gemma-ipc/gemmad/internal/protocol"
	"github.com/gemma-ipc/gemmad/internal/repair"
	"github.com/gemma-ipc/gemmad/internal/stt"
)

// process turns one request payload into one response payload. It
// never fails: every error path produces a failure envelope, and a
// model output that resists repair produces a success envelope with
// the empty artifact.
func (b *Broker) process(ctx context.Context, payload []byte) []byte {
	req, err := protocol.ParseRequest(payload)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("request payload undecodable")

		return b.failure(protocol.Request{SequenceNo: "0"}, "요청 데이터 형식이 올바르지 않습니다.")
	}

	text := req.Text
	if len(req.STTResultList) > 0 {
		text = stt.Dialogue(req.STTResultList)
	}

	if strings.TrimSpace(text) == "" || text == stt.EmptyDialogue {
		return b.failure(req, "입력 텍스트가 비어있습니다.")
	}

	artifact, err := b.summarize(ctx, text, req.RequestID)
	if err != nil {
		return b.failure(req, "요약 생성 중 오류 발생: "+err.Error())
	}

	response := protocol.SuccessResponse(req, artifact)

	data, err := response.Marshal()
	if err != nil {
		return b.failure(req, "응답 생성 중 오류 발생: "+err.Error())
	}

	return data
}

// summarize runs the model pipeline: analysis completion with a
// dynamic token budget, one automatic retry on a length finish, repair
// and normalization, and the re-query pass for over-long summaries.
func (b *Broker) summarize(ctx context.Context, text, requestID string) (protocol.Artifact, error) {
	prompt := llm.AnalysisPrompt(text)

	opts := llm.AnalysisProfile()
	opts.MaxTokens = llm.BudgetTokens(b.engine.ContextWindow(), llm.EstimateTokens(prompt))

	completion, err := b.complete(ctx, prompt, opts)
	if err != nil {
		return protocol.Artifact{}, err
	}

	if completion.FinishReason == llm.FinishLength && opts.MaxTokens < llm.RetryTokenCeiling {
		b.metrics.lengthRetries.Inc()

		log.WithFields(log.Fields{
			"request_id": requestID,
			"max_tokens": opts.MaxTokens,
		}).Info("completion truncated, retrying with doubled budget")

		opts.MaxTokens *= 2

		retried, err := b.complete(ctx, prompt, opts)
		if err == nil {
			completion = retried
		}
	}

	artifact := postproc.Normalize(repair.Parse(completion.Text))

	if strings.HasPrefix(artifact.Summary, postproc.RequeryPrefix) {
		artifact.Summary = b.requery(ctx, artifact.Summary, requestID)
	}

	return artifact, nil
}

// requery asks the model to compress its own over-long summary into a
// noun phrase. Only the noun-form transform runs on the result, so the
// re-query marker cannot recur. A failed re-query keeps the long
// summary, stripped of the marker.
func (b *Broker) requery(ctx context.Context, marked, requestID string) string {
	b.metrics.requeries.Inc()

	prev := strings.TrimPrefix(marked, postproc.RequeryPrefix)

	log.WithFields(log.Fields{
		"request_id": requestID,
		"bytes":      len(prev),
	}).Info("summary over length limit, re-querying")

	prompt := llm.RequeryPrompt(prev)

	opts := llm.AnalysisProfile()
	opts.MaxTokens = llm.BudgetTokens(b.engine.ContextWindow(), llm.EstimateTokens(prompt))

	completion, err := b.complete(ctx, prompt, opts)
	if err != nil {
		log.WithFields(log.Fields{"request_id": requestID, "error": err}).Warn("re-query failed, keeping original summary")

		return prev
	}

	reworked := postproc.NounForm(strings.TrimSpace(completion.Text))
	if reworked == "" {
		return prev
	}

	return reworked
}

// failure builds a failure envelope. Marshalling a failure envelope
// cannot realistically fail, but a worker must always hand the writer
// something, so the last resort is a hand-built minimal payload.
func (b *Broker) failure(req protocol.Request, reason string) []byte {
	b.metrics.failureResponses.Inc()

	data, err := protocol.FailureResponse(req, reason).Marshal()
	if err != nil {
		return []byte(`{"returncode":"1","returndescription":"Success","response":{"result":"1","failReason":"internal error","summary":""}}`)
	}

	return data
}
