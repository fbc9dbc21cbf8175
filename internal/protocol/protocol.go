// Package protocol defines the JSON payloads exchanged through the
// shared slot region: the request envelope submitted by clients, the
// summarization artifact, and the response envelope written back.
package protocol

import (
	"encoding/json"
	"fmt"
)

// STTSegment is one utterance from a speech-to-text result.
type STTSegment struct {
	Transcript string `json:"transcript"`
	RecType    int    `json:"recType"`
}

// Request is the client payload. Two shapes are accepted: Text already
// transcribed into dialogue form, or STTResultList carrying raw
// segments the broker preprocesses itself.
type Request struct {
	RequestID     string       `json:"request_id"`
	TransactionID string       `json:"transactionid"`
	SequenceNo    string       `json:"sequenceno"`
	Text          string       `json:"text,omitempty"`
	Timestamp     float64      `json:"timestamp,omitempty"`
	STTResultList []STTSegment `json:"sttResultList,omitempty"`
}

// Paragraph is one topical section of the analyzed call.
type Paragraph struct {
	Summary   string `json:"summary"`
	Keyword   string `json:"keyword"`
	Sentiment string `json:"sentiment"`
}

// Artifact is the normalized summarization result.
type Artifact struct {
	Summary    string      `json:"summary"`
	Keyword    string      `json:"keyword"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

// EmptyArtifact is the artifact delivered when the model output could
// not be coerced to the schema even after repair.
func EmptyArtifact() Artifact {
	return Artifact{Paragraphs: []Paragraph{}}
}

// Result is the inner response body. Result "0" means the summarization
// succeeded and Summary carries the artifact object; "1" means it
// failed and Summary is the empty string with FailReason set.
type Result struct {
	Result     string `json:"result"`
	FailReason string `json:"failReason"`
	Summary    any    `json:"summary"`
}

// Response is the envelope written back into the slot. ReturnCode is
// always "1": it reports transport success, not summarization success.
type Response struct {
	TransactionID     string `json:"transactionid"`
	SequenceNo        string `json:"sequenceno"`
	ReturnCode        string `json:"returncode"`
	ReturnDescription string `json:"returndescription"`
	Response          Result `json:"response"`
}

// ParseRequest decodes a request payload and fills envelope defaults.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decoding request payload: %w", err)
	}

	if req.RequestID == "" {
		req.RequestID = "unknown"
	}

	if req.SequenceNo == "" {
		req.SequenceNo = "0"
	}

	return req, nil
}

// SuccessResponse builds the envelope for a completed summarization.
func SuccessResponse(req Request, artifact Artifact) Response {
	return Response{
		TransactionID:     req.TransactionID,
		SequenceNo:        req.SequenceNo,
		ReturnCode:        "1",
		ReturnDescription: "Success",
		Response: Result{
			Result:     "0",
			FailReason: "",
			Summary:    artifact,
		},
	}
}

// FailureResponse builds the envelope for a failed summarization. The
// transport still succeeded, so returncode stays "1".
func FailureResponse(req Request, failReason string) Response {
	return Response{
		TransactionID:     req.TransactionID,
		SequenceNo:        req.SequenceNo,
		ReturnCode:        "1",
		ReturnDescription: "Success",
		Response: Result{
			Result:     "1",
			FailReason: failReason,
			Summary:    "",
		},
	}
}

// Marshal encodes the response for slot delivery.
func (r Response) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding response payload: %w", err)
	}

	return data, nil
}
