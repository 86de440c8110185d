package relay

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/relayforge/bedrock-gateway/internal/dispatch"
)

func streamOf(chunks ...dispatch.StreamChunk) <-chan dispatch.StreamChunk {
	ch := make(chan dispatch.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

// frames splits SSE output into the payloads of its data events.
func frames(t *testing.T, raw string) []string {
	t.Helper()
	var out []string
	for _, block := range strings.Split(raw, "\n\n") {
		if block == "" {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), "unexpected frame %q", block)
		out = append(out, strings.TrimPrefix(block, "data: "))
	}
	return out
}

func TestRelayPinsToolCallID(t *testing.T) {
	var buf bytes.Buffer
	Relay(context.Background(), &buf, nil, streamOf(
		dispatch.StreamChunk{Payload: []byte(`{"choices":[{"delta":{"tool_calls":[{"id":"abc","function":{"arguments":"{"}}]}}]}`)},
		dispatch.StreamChunk{Payload: []byte(`{"choices":[{"delta":{"tool_calls":[{"id":"","function":{"arguments":"}"}}]}}]}`)},
	), Options{DoneFrame: true})

	got := frames(t, buf.String())
	require.Len(t, got, 3)
	assert.Equal(t, "abc", gjson.Get(got[0], "choices.0.delta.tool_calls.0.id").String())
	assert.Equal(t, "abc", gjson.Get(got[1], "choices.0.delta.tool_calls.0.id").String())
	assert.Equal(t, "[DONE]", got[2])
}

func TestRelayOverwritesFragmentIDs(t *testing.T) {
	var buf bytes.Buffer
	Relay(context.Background(), &buf, nil, streamOf(
		dispatch.StreamChunk{Payload: []byte(`{"choices":[{"delta":{"tool_calls":[{"id":"real"}]}}]}`)},
		dispatch.StreamChunk{Payload: []byte(`{"choices":[{"delta":{"tool_calls":[{"id":"fragment-7"}]}}]}`)},
	), Options{})

	got := frames(t, buf.String())
	require.Len(t, got, 2)
	assert.Equal(t, "real", gjson.Get(got[1], "choices.0.delta.tool_calls.0.id").String())
}

func TestRelayLeavesPlainChunksAlone(t *testing.T) {
	var buf bytes.Buffer
	payload := `{"choices":[{"delta":{"content":"hello"}}]}`
	Relay(context.Background(), &buf, nil, streamOf(
		dispatch.StreamChunk{Payload: []byte(payload)},
	), Options{})

	got := frames(t, buf.String())
	require.Len(t, got, 1)
	assert.JSONEq(t, payload, got[0])
}

func TestRelayMalformedNestingStillEmits(t *testing.T) {
	var buf bytes.Buffer
	Relay(context.Background(), &buf, nil, streamOf(
		dispatch.StreamChunk{Payload: []byte(`{"choices":[{"delta":{"tool_calls":[{"id":"abc"}]}}]}`)},
		dispatch.StreamChunk{Payload: []byte(`{"choices":[]}`)},
		dispatch.StreamChunk{Payload: []byte(`{"choices":[{"delta":{"tool_calls":[{}]}}]}`)},
	), Options{})

	got := frames(t, buf.String())
	require.Len(t, got, 3)
	assert.Equal(t, `{"choices":[]}`, got[1])
	assert.Equal(t, "abc", gjson.Get(got[2], "choices.0.delta.tool_calls.0.id").String(),
		"id-less entry after pinning inherits the pinned id")
}

func TestRelayFailureAfterStart(t *testing.T) {
	var buf bytes.Buffer
	Relay(context.Background(), &buf, nil, streamOf(
		dispatch.StreamChunk{Payload: []byte(`{"choices":[{"delta":{"content":"partial"}}]}`)},
		dispatch.StreamChunk{Err: errors.New("connection reset by peer")},
	), Options{DoneFrame: true})

	got := frames(t, buf.String())
	require.Len(t, got, 2, "exactly one data frame and one error frame")
	assert.Equal(t, "partial", gjson.Get(got[0], "choices.0.delta.content").String())
	assert.Equal(t, "connection reset by peer", gjson.Get(got[1], "error.message").String())
	assert.Equal(t, "internal_error", gjson.Get(got[1], "error.type").String())
	assert.NotContains(t, buf.String(), "[DONE]", "no done frame after a failure")
}

func TestRelayErrorOnFirstChunk(t *testing.T) {
	var buf bytes.Buffer
	Relay(context.Background(), &buf, nil, streamOf(
		dispatch.StreamChunk{Err: errors.New("boom")},
	), Options{DoneFrame: true})

	got := frames(t, buf.String())
	require.Len(t, got, 1)
	assert.Equal(t, "boom", gjson.Get(got[0], "error.message").String())
}

func TestRelayDoneFrameDisabledForMessagesSurface(t *testing.T) {
	var buf bytes.Buffer
	Relay(context.Background(), &buf, nil, streamOf(
		dispatch.StreamChunk{Payload: []byte(`{"type":"message_stop"}`)},
	), Options{DoneFrame: false})

	assert.NotContains(t, buf.String(), "[DONE]")
}

func TestRelayStopsOnCallerDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan dispatch.StreamChunk)
	var buf bytes.Buffer
	stats := Relay(ctx, &buf, nil, ch, Options{DoneFrame: true})

	assert.Zero(t, stats.Frames)
	assert.Empty(t, buf.String(), "nothing emitted after disconnect, not even [DONE]")
}

func TestRelayStats(t *testing.T) {
	var buf bytes.Buffer
	stats := Relay(context.Background(), &buf, nil, streamOf(
		dispatch.StreamChunk{Payload: []byte(`{"a":1}`)},
		dispatch.StreamChunk{Payload: []byte(`{"b":2}`)},
	), Options{DoneFrame: true})

	assert.Equal(t, 3, stats.Frames)
	assert.Equal(t, int64(buf.Len()), stats.Bytes)
}
