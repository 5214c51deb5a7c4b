package wire

import (
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"id":7,"op":"set","collection":"calls","documentId":"abc123","fields":{"answer":{"sdp":"A1","type":"answer"}},"merge":true}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), req.ID)
	assert.Equal(t, OpSet, req.Op)
	assert.True(t, req.Merge)
	assert.Equal(t, "A1", req.Fields["answer"].(map[string]any)["sdp"])
}

func TestParseRequestRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":     `{"id":1,"op":"get","collection":"calls","documentId":"x","extra":1}`,
		"trailing data":     `{"id":1,"op":"get","collection":"calls","documentId":"x"} {}`,
		"missing id":        `{"op":"get","collection":"calls","documentId":"x"}`,
		"unknown op":        `{"id":1,"op":"delete","collection":"calls","documentId":"x"}`,
		"set without data":  `{"id":1,"op":"set","collection":"calls","documentId":"x"}`,
		"add without sub":   `{"id":1,"op":"add","collection":"calls","documentId":"x","fields":{}}`,
		"unwatch without":   `{"id":1,"op":"unwatch"}`,
		"create without to": `{"id":1,"op":"create"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRequest([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestErrorFrameRoundTripsNotFound(t *testing.T) {
	f := ErrorFrame(3, errors.Wrap(domain.ErrDocumentNotFound, "calls/x"))
	assert.Equal(t, CodeNotFound, f.Error.Code)
	assert.True(t, errors.Is(f.Err(), domain.ErrDocumentNotFound))

	f = ErrorFrame(4, errors.New("disk full"))
	assert.Equal(t, CodeInternal, f.Error.Code)
	assert.False(t, errors.Is(f.Err(), domain.ErrDocumentNotFound))
	assert.Nil(t, Frame{Type: FrameResponse}.Err())
}
