package protocol

import (
	"encoding/json"
	"testing"

	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_Request(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"c","version":"1.0.0"}}}`)
	f, err := ParseFrame(raw)
	require.NoError(t, err)
	req, ok := f.(Request)
	require.True(t, ok)
	assert.Equal(t, "initialize", req.Method)
	assert.Equal(t, NewIntID(1), req.ID)
}

func TestParseFrame_Notification(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`)
	f, err := ParseFrame(raw)
	require.NoError(t, err)
	_, ok := f.(Notification)
	assert.True(t, ok)
}

func TestParseFrame_Response(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
	f, err := ParseFrame(raw)
	require.NoError(t, err)
	resp, ok := f.(Response)
	require.True(t, ok)
	assert.Equal(t, NewIntID(1), resp.ID)
}

func TestParseFrame_ErrorResponse(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":"abc","error":{"code":-32000,"message":"Tool not found: nope"}}`)
	f, err := ParseFrame(raw)
	require.NoError(t, err)
	errResp, ok := f.(ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, NewStringID("abc"), errResp.ID)
	assert.Equal(t, -32000, errResp.Error.Code)
}

// P4: any frame whose version tag is not "2.0" is rejected.
func TestParseFrame_RejectsWrongVersion(t *testing.T) {
	raw := []byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	_, err := ParseFrame(raw)
	require.Error(t, err)
}

func TestParseFrame_RejectsEmptyMethod(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":""}`)
	_, err := ParseFrame(raw)
	require.Error(t, err)
}

// P3: for any well-formed frame F, deserialize(serialize(F)) == F.
func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		Request{JSONRPC: "2.0", Method: "ping", ID: NewIntID(7)},
		Notification{JSONRPC: "2.0", Method: "notifications/initialized"},
		Response{JSONRPC: "2.0", Result: json.RawMessage(`{"a":1}`), ID: NewIntID(7)},
		ErrorResponse{JSONRPC: "2.0", Error: &ErrorPayload{Code: -32601, Message: "nope"}, ID: NewStringID("x")},
	}
	for _, f := range cases {
		data, err := Marshal(f)
		require.NoError(t, err)
		got, err := ParseFrame(data)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestIDRoundTripPreservesType(t *testing.T) {
	intID := NewIntID(42)
	data, err := json.Marshal(intID)
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))

	var got ID
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Equal(intID))

	strID := NewStringID("req-1")
	data, err = json.Marshal(strID)
	require.NoError(t, err)
	assert.Equal(t, `"req-1"`, string(data))
}

func TestValidateFrame_InitializeRequiresProtocolVersion(t *testing.T) {
	req, err := NewRequest(string(MethodInitialize), map[string]any{"capabilities": map[string]any{}, "clientInfo": Implementation{Name: "c", Version: "1"}}, NewIntID(1))
	require.NoError(t, err)
	err = ValidateFrame(req)
	require.Error(t, err)
	assert.True(t, mcperr.Is(err, mcperr.KindInvalidParams))
}

func TestValidateFrame_ToolsCallRequiresName(t *testing.T) {
	req, err := NewRequest(string(MethodToolsCall), ToolsCallParams{}, NewIntID(1))
	require.NoError(t, err)
	err = ValidateFrame(req)
	require.Error(t, err)
}

func TestValidateFrame_RejectsNonPrimitiveElicitationSchema(t *testing.T) {
	params := ElicitationCreateParams{
		Message: "pick one",
		RequestedSchema: RequestedSchema{
			Type: "object",
			Properties: map[string]PrimitiveSchema{
				"x": {Type: "object"},
			},
		},
	}
	req, err := NewRequest(string(MethodElicitationCreate), params, NewIntID(1))
	require.NoError(t, err)
	err = ValidateFrame(req)
	require.Error(t, err)
}
