package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseRequest_Text_Shape(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte(`{
		"request_id": "req-1",
		"transactionid": "tx-9",
		"sequenceno": "3",
		"text": "나 > 요금제 문의",
		"timestamp": 1700000000.5
	}`))
	require.NoError(t, err)

	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, "tx-9", req.TransactionID)
	assert.Equal(t, "3", req.SequenceNo)
	assert.Equal(t, "나 > 요금제 문의", req.Text)
	assert.Empty(t, req.STTResultList)
}

func Test_ParseRequest_STT_Shape(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte(`{
		"request_id": "req-2",
		"sttResultList": [
			{"transcript": "안녕하세요", "recType": 2},
			{"transcript": "문의드립니다", "recType": 4}
		]
	}`))
	require.NoError(t, err)

	require.Len(t, req.STTResultList, 2)
	assert.Equal(t, 2, req.STTResultList[0].RecType)
	assert.Equal(t, "문의드립니다", req.STTResultList[1].Transcript)
}

func Test_ParseRequest_Fills_Envelope_Defaults(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte(`{"text": "내용"}`))
	require.NoError(t, err)

	assert.Equal(t, "unknown", req.RequestID)
	assert.Equal(t, "0", req.SequenceNo)
}

func Test_ParseRequest_Rejects_Malformed_Json(t *testing.T) {
	t.Parallel()

	_, err := ParseRequest([]byte(`{"text": `))

	assert.Error(t, err)
}

func Test_SuccessResponse_Envelope(t *testing.T) {
	t.Parallel()

	req := Request{TransactionID: "tx-1", SequenceNo: "2"}
	artifact := Artifact{
		Summary: "요금제 변경 안내",
		Keyword: "요금제, 변경",
		Paragraphs: []Paragraph{
			{Summary: "변경 접수", Keyword: "접수", Sentiment: "보통"},
		},
	}

	data, err := SuccessResponse(req, artifact).Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "tx-1", decoded["transactionid"])
	assert.Equal(t, "2", decoded["sequenceno"])
	assert.Equal(t, "1", decoded["returncode"])
	assert.Equal(t, "Success", decoded["returndescription"])

	inner, ok := decoded["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0", inner["result"])
	assert.Equal(t, "", inner["failReason"])

	summary, ok := inner["summary"].(map[string]any)
	require.True(t, ok, "success carries the artifact object")
	assert.Equal(t, "요금제 변경 안내", summary["summary"])
}

func Test_FailureResponse_Envelope(t *testing.T) {
	t.Parallel()

	data, err := FailureResponse(Request{SequenceNo: "0"}, "입력 텍스트가 비어있습니다.").Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Transport succeeded, so returncode stays "1" even on failure.
	assert.Equal(t, "1", decoded["returncode"])

	inner, ok := decoded["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1", inner["result"])
	assert.Equal(t, "입력 텍스트가 비어있습니다.", inner["failReason"])
	assert.Equal(t, "", inner["summary"], "failure carries an empty string, not an object")
}

func Test_EmptyArtifact_Has_Empty_Paragraph_List(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(EmptyArtifact())
	require.NoError(t, err)

	assert.JSONEq(t, `{"summary": "", "keyword": "", "paragraphs": []}`, string(data))
}
