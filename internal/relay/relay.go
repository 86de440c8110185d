// Package relay re-emits an upstream chunk sequence as outbound SSE frames.
// It is forward-only and non-restartable: once a frame has been written the
// transport has committed, so every failure becomes a terminal error frame
// and never a retry.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/relayforge/bedrock-gateway/internal/dispatch"
)

const toolCallIDPath = "choices.0.delta.tool_calls.0.id"

// Options controls the outbound framing.
type Options struct {
	// DoneFrame emits the literal "data: [DONE]" terminal frame on clean
	// exhaustion. The chat-completions surface uses it; the messages
	// surface relies on connection close instead.
	DoneFrame bool
}

// Stats summarizes one relayed stream for logging.
type Stats struct {
	Frames int
	Bytes  int64
}

// Relay drains chunks and writes each as one "data: <json>" event frame.
//
// Tool-call id continuity: the upstream only guarantees the real tool-call
// id on the first chunk of a tool call; later chunks may omit it or carry a
// fragment id. The first non-empty id seen is pinned and overwrites the id
// on every later chunk that carries a tool-call delta. Malformed nesting
// skips the pinning step for that chunk only; the chunk is still emitted.
//
// Relay never returns an error: chunk errors become exactly one terminal
// error frame, a caller disconnect simply stops iteration, and the upstream
// channel is left to the producer's own context cleanup.
func Relay(ctx context.Context, w io.Writer, flusher http.Flusher, chunks <-chan dispatch.StreamChunk, opts Options) Stats {
	var (
		stats    Stats
		pinnedID string
	)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("relay: caller disconnected after %d frames", stats.Frames)
			return stats
		case chunk, ok := <-chunks:
			if !ok {
				if opts.DoneFrame {
					writeFrame(w, flusher, []byte("[DONE]"), &stats)
				}
				log.Debugf("relay: stream complete, %d frames, %d bytes", stats.Frames, stats.Bytes)
				return stats
			}
			if chunk.Err != nil {
				writeFrame(w, flusher, errorFrame(chunk.Err), &stats)
				log.Errorf("relay: stream failed after %d frames: %v", stats.Frames-1, chunk.Err)
				return stats
			}
			payload, newPinned := pinToolCallID(chunk.Payload, pinnedID)
			pinnedID = newPinned
			if !writeFrame(w, flusher, payload, &stats) {
				log.Debugf("relay: write failed after %d frames, stopping", stats.Frames)
				return stats
			}
		}
	}
}

// pinToolCallID applies the id-continuity rule to one chunk.
func pinToolCallID(payload []byte, pinned string) ([]byte, string) {
	toolCall := gjson.GetBytes(payload, "choices.0.delta.tool_calls.0")
	if !toolCall.Exists() {
		return payload, pinned
	}
	if pinned == "" {
		if id := toolCall.Get("id").String(); id != "" {
			pinned = id
		}
	}
	if pinned != "" {
		if updated, err := sjson.SetBytes(payload, toolCallIDPath, pinned); err == nil {
			payload = updated
		}
	}
	return payload, pinned
}

func writeFrame(w io.Writer, flusher http.Flusher, payload []byte, stats *Stats) bool {
	n, err := fmt.Fprintf(w, "data: %s\n\n", payload)
	if err != nil {
		return false
	}
	if flusher != nil {
		flusher.Flush()
	}
	stats.Frames++
	stats.Bytes += int64(n)
	return true
}

func errorFrame(err error) []byte {
	frame, marshalErr := json.Marshal(map[string]any{
		"error": map[string]string{
			"message": err.Error(),
			"type":    dispatch.Classify(err),
		},
	})
	if marshalErr != nil {
		return []byte(`{"error":{"message":"stream failed","type":"internal_error"}}`)
	}
	return frame
}
