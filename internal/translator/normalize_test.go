package translator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func chatOpts() Options {
	return Options{Surface: SurfaceChat, DefaultRegion: "us-west-2"}
}

func TestNormalizeRejectsMissingModel(t *testing.T) {
	_, err := Normalize([]byte(`{"messages":[{"role":"user","content":"hi"}]}`), chatOpts())
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "No model specified in request", verr.Message)
}

func TestNormalizeModelPrefixing(t *testing.T) {
	tests := []struct {
		name    string
		surface Surface
		model   string
		want    string
	}{
		{"chat surface adds converse marker", SurfaceChat, "anthropic.claude-3-5-sonnet-20240620-v1:0", "bedrock/converse/anthropic.claude-3-5-sonnet-20240620-v1:0"},
		{"messages surface adds bare namespace", SurfaceMessages, "anthropic.claude-3-5-sonnet-20240620-v1:0", "bedrock/anthropic.claude-3-5-sonnet-20240620-v1:0"},
		{"already prefixed model untouched", SurfaceChat, "bedrock/converse/meta.llama3-70b-instruct-v1:0", "bedrock/converse/meta.llama3-70b-instruct-v1:0"},
		{"bare namespace prefix not doubled", SurfaceMessages, "bedrock/meta.llama3-70b-instruct-v1:0", "bedrock/meta.llama3-70b-instruct-v1:0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Normalize([]byte(`{"model":"`+tt.model+`","messages":[]}`), Options{Surface: tt.surface, DefaultRegion: "us-west-2"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Model)
			assert.Equal(t, tt.want, gjson.GetBytes(req.Payload, "model").String())
		})
	}
}

func TestNormalizeRegionPrecedence(t *testing.T) {
	body := []byte(`{"model":"m","region":"us-east-1","messages":[]}`)

	req, err := Normalize(body, Options{Surface: SurfaceChat, RouteRegion: "eu-west-1", DefaultRegion: "us-west-2"})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", req.Region, "route region must win over body field")

	req, err = Normalize(body, Options{Surface: SurfaceChat, DefaultRegion: "us-west-2"})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", req.Region, "body field must win over default")

	req, err = Normalize([]byte(`{"model":"m","messages":[]}`), chatOpts())
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", req.Region)

	assert.False(t, gjson.GetBytes(req.Payload, "region").Exists(), "region field must not pass through to the backend")
}

func TestNormalizePromptCacheLastMessageOnly(t *testing.T) {
	body := []byte(`{"model":"m","messages":[
		{"role":"system","content":"a"},
		{"role":"user","content":"b"},
		{"role":"user","content":"c"}]}`)

	opts := chatOpts()
	opts.PromptCache = true
	req, err := Normalize(body, opts)
	require.NoError(t, err)

	msgs := gjson.GetBytes(req.Payload, "messages").Array()
	require.Len(t, msgs, 3)
	assert.False(t, msgs[0].Get("cache_control").Exists())
	assert.False(t, msgs[1].Get("cache_control").Exists())
	assert.Equal(t, "ephemeral", msgs[2].Get("cache_control.type").String())
}

func TestNormalizePromptCacheStructuredParts(t *testing.T) {
	body := []byte(`{"model":"m","messages":[
		{"role":"user","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}]}`)

	opts := chatOpts()
	opts.PromptCache = true
	req, err := Normalize(body, opts)
	require.NoError(t, err)

	last := gjson.GetBytes(req.Payload, "messages.0")
	assert.False(t, last.Get("cache_control").Exists(), "marker goes on parts, not the message")
	for _, part := range last.Get("content").Array() {
		assert.Equal(t, "ephemeral", part.Get("cache_control.type").String())
	}
}

func TestNormalizePromptCacheToolCalls(t *testing.T) {
	body := []byte(`{"model":"m","messages":[
		{"role":"assistant","content":"","tool_calls":[
			{"id":"t1","function":{"name":"f"}},
			{"id":"t2","function":{"name":"g"}}]}]}`)

	opts := chatOpts()
	opts.PromptCache = true
	req, err := Normalize(body, opts)
	require.NoError(t, err)

	for _, tc := range gjson.GetBytes(req.Payload, "messages.0.tool_calls").Array() {
		assert.Equal(t, "ephemeral", tc.Get("cache_control.type").String())
	}
}

func TestNormalizeDisabledCacheAddsNothing(t *testing.T) {
	req, err := Normalize([]byte(`{"model":"m","messages":[{"role":"user","content":"a"}]}`), chatOpts())
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(req.Payload, "messages.0.cache_control").Exists())
}

func TestBackfillToolCallIDs(t *testing.T) {
	body := []byte(`{"model":"m","messages":[
		{"role":"user","content":"q"},
		{"role":"assistant","content":"","tool_calls":[{"type":"function","function":{"name":"f","arguments":"{}"}}]},
		{"role":"tool","content":"result"}]}`)

	req, err := Normalize(body, chatOpts())
	require.NoError(t, err)

	generated := gjson.GetBytes(req.Payload, "messages.1.tool_calls.0.id").String()
	require.NotEmpty(t, generated)
	assert.Equal(t, generated, gjson.GetBytes(req.Payload, "messages.2.tool_call_id").String())

	// Idempotent: a second pass keeps the now-present ids.
	again, err := Normalize(req.Payload, chatOpts())
	require.NoError(t, err)
	assert.Equal(t, generated, gjson.GetBytes(again.Payload, "messages.1.tool_calls.0.id").String())
	assert.Equal(t, generated, gjson.GetBytes(again.Payload, "messages.2.tool_call_id").String())
}

func TestBackfillResetsOnNewAssistantToolCall(t *testing.T) {
	body := []byte(`{"model":"m","messages":[
		{"role":"assistant","content":"","tool_calls":[{"id":"first"}]},
		{"role":"tool","content":"r1"},
		{"role":"assistant","content":"","tool_calls":[{"id":"second"}]},
		{"role":"tool","content":"r2"}]}`)

	req, err := Normalize(body, chatOpts())
	require.NoError(t, err)
	assert.Equal(t, "first", gjson.GetBytes(req.Payload, "messages.1.tool_call_id").String())
	assert.Equal(t, "second", gjson.GetBytes(req.Payload, "messages.3.tool_call_id").String())
}

func TestBackfillToolMessageBeforeAnyToolCall(t *testing.T) {
	body := []byte(`{"model":"m","messages":[{"role":"tool","content":"orphan"}]}`)
	req, err := Normalize(body, chatOpts())
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(req.Payload, "messages.0.tool_call_id").Exists())
}

func TestVendorFixupDropsTopP(t *testing.T) {
	body := []byte(`{"model":"anthropic.claude-3-5-sonnet-20240620-v1:0","temperature":0.7,"top_p":0.9,"messages":[]}`)
	req, err := Normalize(body, chatOpts())
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(req.Payload, "top_p").Exists())
	assert.Equal(t, 0.7, gjson.GetBytes(req.Payload, "temperature").Float())

	// Other families keep both parameters.
	body = []byte(`{"model":"meta.llama3-70b-instruct-v1:0","temperature":0.7,"top_p":0.9,"messages":[]}`)
	req, err = Normalize(body, chatOpts())
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(req.Payload, "top_p").Exists())

	// top_p alone survives on anthropic models.
	body = []byte(`{"model":"anthropic.claude-3-5-sonnet-20240620-v1:0","top_p":0.9,"messages":[]}`)
	req, err = Normalize(body, chatOpts())
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(req.Payload, "top_p").Exists())
}

func TestNormalizeStreamFlag(t *testing.T) {
	req, err := Normalize([]byte(`{"model":"m","stream":true,"messages":[]}`), chatOpts())
	require.NoError(t, err)
	assert.True(t, req.Stream)

	req, err = Normalize([]byte(`{"model":"m","messages":[]}`), chatOpts())
	require.NoError(t, err)
	assert.False(t, req.Stream)

	req, err = Normalize([]byte(`{"model":"m","messages":[]}`), Options{Surface: SurfaceMessages, DefaultRegion: "us-west-2"})
	require.NoError(t, err)
	assert.True(t, req.Stream, "messages surface always streams")
}

func TestNormalizePreservesVendorParams(t *testing.T) {
	body := []byte(`{"model":"m","max_tokens":512,"stop":["x"],"messages":[]}`)
	req, err := Normalize(body, chatOpts())
	require.NoError(t, err)
	assert.Equal(t, int64(512), gjson.GetBytes(req.Payload, "max_tokens").Int())
	assert.Equal(t, "x", gjson.GetBytes(req.Payload, "stop.0").String())
}
