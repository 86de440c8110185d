// Package backend implements the managed-model-hosting collaborators: the
// model-invocation client consumed by the dispatcher and the catalog client
// consumed by the model listing. Both speak HTTPS against region-templated
// endpoints; the wire details stay behind this package's boundary.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/relayforge/bedrock-gateway/internal/auth"
	"github.com/relayforge/bedrock-gateway/internal/dispatch"
)

const (
	chatCompletionsPath = "/openai/v1/chat/completions"
	invokeModelPath     = "/model/%s/invoke"
	invokeStreamPath    = "/model/%s/invoke-with-response-stream"

	// Matches the namespace markers applied by the request normalizer.
	namespacePrefix = "bedrock/"
	conversePrefix  = "bedrock/converse/"

	scannerBufferSize = 52_428_800
)

// Signer authenticates one outgoing backend request with a credential set.
// Signing is a collaborator concern; swapping in a different scheme (for
// example SigV4) only touches this boundary.
type Signer interface {
	Sign(req *http.Request, cred auth.CredentialSet)
}

// TokenSigner is the default signer: it presents the credential pair as a
// long-term bearer token.
type TokenSigner struct{}

func (TokenSigner) Sign(req *http.Request, cred auth.CredentialSet) {
	token := base64.StdEncoding.EncodeToString([]byte(cred.AccessKeyID + ":" + cred.SecretAccessKey))
	req.Header.Set("Authorization", "Bearer "+token)
}

// Client invokes models on the backend runtime. It implements
// dispatch.Invoker. Safe for concurrent use; the underlying HTTP clients
// are cached per proxy URL.
type Client struct {
	// endpoint is a template with %s replaced by the resolved region.
	endpoint string
	proxyURL string
	signer   Signer
}

// NewClient creates a runtime client for the given endpoint template,
// e.g. "https://bedrock-runtime.%s.amazonaws.com".
func NewClient(endpoint, proxyURL string, signer Signer) *Client {
	if signer == nil {
		signer = TokenSigner{}
	}
	return &Client{endpoint: endpoint, proxyURL: proxyURL, signer: signer}
}

// Invoke performs a unary model invocation and returns the canonical
// response payload.
func (c *Client) Invoke(ctx context.Context, req dispatch.Request) ([]byte, error) {
	httpResp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	body, err := decodeBody(httpResp.Body, httpResp.Header.Get("Content-Encoding"))
	if err != nil {
		_ = httpResp.Body.Close()
		return nil, err
	}
	defer body.Close()

	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, statusErr{code: httpResp.StatusCode, msg: string(payload)}
	}
	return payload, nil
}

// InvokeStream opens a streaming invocation. It returns as soon as the
// stream handle is obtained; chunk payloads and any mid-stream error are
// delivered on the channel. The channel is closed on exhaustion.
func (c *Client) InvokeStream(ctx context.Context, req dispatch.Request) (<-chan dispatch.StreamChunk, error) {
	httpResp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		b, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		return nil, statusErr{code: httpResp.StatusCode, msg: string(b)}
	}
	body, err := decodeBody(httpResp.Body, httpResp.Header.Get("Content-Encoding"))
	if err != nil {
		_ = httpResp.Body.Close()
		return nil, err
	}

	out := make(chan dispatch.StreamChunk)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(nil, scannerBufferSize)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			payload := bytes.TrimSpace(line[len("data:"):])
			if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
				continue
			}
			select {
			case out <- dispatch.StreamChunk{Payload: bytes.Clone(payload)}:
			case <-ctx.Done():
				return
			}
		}
		if errScan := scanner.Err(); errScan != nil {
			log.Debugf("backend: stream read failed: %v", errScan)
			select {
			case out <- dispatch.StreamChunk{Err: errScan}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, req dispatch.Request, stream bool) (*http.Response, error) {
	url, payload, err := c.route(req, stream)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	c.signer.Sign(httpReq, req.Credential)

	return newHTTPClient(c.proxyURL).Do(httpReq)
}

// route maps the namespaced model id to the upstream URL and rewrites the
// payload's model field to the bare upstream id. The conversational marker
// selects the OpenAI-compatible surface; the bare namespace selects the
// native invocation surface.
func (c *Client) route(req dispatch.Request, stream bool) (string, []byte, error) {
	base := fmt.Sprintf(c.endpoint, req.Region)
	payload := req.Payload

	if modelID, ok := strings.CutPrefix(req.Model, conversePrefix); ok {
		payload, _ = sjson.SetBytes(payload, "model", modelID)
		payload, _ = sjson.SetBytes(payload, "stream", stream)
		return base + chatCompletionsPath, payload, nil
	}
	if modelID, ok := strings.CutPrefix(req.Model, namespacePrefix); ok {
		payload, _ = sjson.DeleteBytes(payload, "model")
		payload, _ = sjson.DeleteBytes(payload, "stream")
		path := invokeModelPath
		if stream {
			path = invokeStreamPath
		}
		return base + fmt.Sprintf(path, modelID), payload, nil
	}
	return "", nil, fmt.Errorf("backend: model %q lacks the %s namespace", req.Model, namespacePrefix)
}
