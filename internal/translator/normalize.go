// Package translator normalizes inbound chat requests into the canonical
// backend invocation shape. All JSON construction uses sjson and lookups use
// gjson; request bodies are never round-tripped through structs so unknown
// vendor parameters pass through untouched.
package translator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Surface identifies which inbound API shape a request arrived on.
type Surface string

const (
	// SurfaceChat is the OpenAI-style chat-completions surface.
	SurfaceChat Surface = "chat"
	// SurfaceMessages is the Anthropic-style messages surface.
	SurfaceMessages Surface = "messages"
)

const (
	backendNamespace = "bedrock/"
	conversePrefix   = "bedrock/converse/"
)

// Options carries the route-level inputs that shape normalization.
type Options struct {
	Surface Surface
	// RouteRegion is the region path segment, if the caller used one.
	// It overrides a region field in the body, which overrides DefaultRegion.
	RouteRegion   string
	DefaultRegion string
	// PromptCache marks the last message cacheable (epc route variant).
	PromptCache bool
}

// Request is the canonical, backend-ready invocation payload.
type Request struct {
	// Payload is the normalized JSON body, model always namespace-prefixed.
	Payload []byte
	Model   string
	Region  string
	Stream  bool
}

// ValidationError reports malformed client input. The API layer maps it to
// a 400 response; it is never retried across credentials.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrNoModel is the only hard validation failure: a request without a model
// is rejected rather than silently defaulted.
var ErrNoModel = &ValidationError{Message: "No model specified in request"}

// Normalize rewrites a raw client request body into the canonical shape.
// Rules are applied in order: model resolution, region resolution,
// prompt-cache annotation, tool-call id backfill, vendor fix-ups. Only a
// missing model is a hard error; everything else degrades gracefully.
func Normalize(body []byte, opts Options) (Request, error) {
	model := strings.TrimSpace(gjson.GetBytes(body, "model").String())
	if model == "" {
		return Request{}, ErrNoModel
	}
	model = prefixModel(model, opts.Surface)
	body, _ = sjson.SetBytes(body, "model", model)

	region := resolveRegion(body, opts)
	body, _ = sjson.DeleteBytes(body, "region")

	if opts.PromptCache {
		body = annotatePromptCache(body)
	}

	body = backfillToolCallIDs(body)
	body = applyVendorFixups(body, model)

	stream := gjson.GetBytes(body, "stream").Bool()
	if opts.Surface == SurfaceMessages {
		// The messages surface always streams back to the caller.
		stream = true
	}

	return Request{Payload: body, Model: model, Region: region, Stream: stream}, nil
}

// prefixModel namespaces the model id for the backend. The chat surface uses
// the conversational-invocation marker, the messages surface the bare
// namespace. An already-prefixed model is left alone.
func prefixModel(model string, surface Surface) string {
	if strings.HasPrefix(model, backendNamespace) {
		return model
	}
	if surface == SurfaceMessages {
		return backendNamespace + model
	}
	return conversePrefix + model
}

func resolveRegion(body []byte, opts Options) string {
	if opts.RouteRegion != "" {
		return opts.RouteRegion
	}
	if r := strings.TrimSpace(gjson.GetBytes(body, "region").String()); r != "" {
		return r
	}
	return opts.DefaultRegion
}

// annotatePromptCache marks only the last message as cacheable, bounding
// cache-control metadata to one message regardless of conversation length.
// Scalar content gets the marker on the message; structured content parts
// and tool-call entries get it individually.
func annotatePromptCache(body []byte) []byte {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body
	}
	n := len(messages.Array())
	if n == 0 {
		return body
	}
	last := messages.Array()[n-1]
	base := fmt.Sprintf("messages.%d", n-1)

	marker := map[string]string{"type": "ephemeral"}
	content := last.Get("content")
	if content.IsArray() {
		for i := range content.Array() {
			body, _ = sjson.SetBytes(body, fmt.Sprintf("%s.content.%d.cache_control", base, i), marker)
		}
	} else {
		body, _ = sjson.SetBytes(body, base+".cache_control", marker)
	}

	if toolCalls := last.Get("tool_calls"); toolCalls.IsArray() {
		for i := range toolCalls.Array() {
			body, _ = sjson.SetBytes(body, fmt.Sprintf("%s.tool_calls.%d.cache_control", base, i), marker)
		}
	}
	return body
}

// backfillToolCallIDs restores the correlation between assistant tool calls
// and the tool messages that answer them. Some clients omit the id on the
// assistant side; a fresh one is generated there and propagated to every
// following tool message until the next assistant tool call. A tool message
// seen before any assistant tool call is left unmodified. The pass is
// idempotent: ids already present are kept.
func backfillToolCallIDs(body []byte) []byte {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body
	}

	currentID := ""
	for i, msg := range messages.Array() {
		role := msg.Get("role").String()
		switch role {
		case "assistant":
			toolCalls := msg.Get("tool_calls")
			if !toolCalls.IsArray() || len(toolCalls.Array()) == 0 {
				continue
			}
			id := toolCalls.Array()[0].Get("id").String()
			if id == "" {
				id = newToolCallID()
				body, _ = sjson.SetBytes(body, fmt.Sprintf("messages.%d.tool_calls.0.id", i), id)
			}
			currentID = id
		case "tool":
			if currentID != "" {
				body, _ = sjson.SetBytes(body, fmt.Sprintf("messages.%d.tool_call_id", i), currentID)
			}
		}
	}
	return body
}

// applyVendorFixups drops parameter combinations a model family is known to
// reject, preferring a degraded request over a failed one. Anthropic models
// reject top_p when temperature is also present.
func applyVendorFixups(body []byte, model string) []byte {
	if !isAnthropicModel(model) {
		return body
	}
	if gjson.GetBytes(body, "temperature").Exists() && gjson.GetBytes(body, "top_p").Exists() {
		body, _ = sjson.DeleteBytes(body, "top_p")
	}
	return body
}

func isAnthropicModel(model string) bool {
	return strings.Contains(model, "anthropic.") || strings.Contains(model, "claude")
}

func newToolCallID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
