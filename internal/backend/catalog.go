package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/relayforge/bedrock-gateway/internal/auth"
)

const (
	inferenceProfilesPath = "/inference-profiles?maxResults=1000"
	foundationModelsPath  = "/foundation-models"
)

// ModelEntry is one row of the client-facing model listing.
type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// CatalogClient queries the backend control plane for available models and
// inference profiles and reshapes the result into the listing format.
type CatalogClient struct {
	// endpoint is a template with %s replaced by the resolved region.
	endpoint string
	proxyURL string
	signer   Signer
}

// NewCatalogClient creates a control-plane client for the given endpoint
// template, e.g. "https://bedrock.%s.amazonaws.com".
func NewCatalogClient(endpoint, proxyURL string, signer Signer) *CatalogClient {
	if signer == nil {
		signer = TokenSigner{}
	}
	return &CatalogClient{endpoint: endpoint, proxyURL: proxyURL, signer: signer}
}

// ListModels merges the inference-profile and foundation-model listings into
// one flat sequence. The two calls run concurrently. Foundation models are
// filtered to text-output-capable ones when modality metadata is present.
// Ownership attribution comes from the backend's own identifiers and is a
// display convenience, not a validated taxonomy.
func (c *CatalogClient) ListModels(ctx context.Context, cred auth.CredentialSet, region string) ([]ModelEntry, error) {
	var profiles, foundation []byte

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profiles, err = c.get(gctx, cred, region, inferenceProfilesPath)
		return err
	})
	g.Go(func() error {
		var err error
		foundation, err = c.get(gctx, cred, region, foundationModelsPath)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var models []ModelEntry
	gjson.GetBytes(profiles, "inferenceProfileSummaries").ForEach(func(_, summary gjson.Result) bool {
		id := summary.Get("inferenceProfileId").String()
		if id == "" {
			return true
		}
		models = append(models, ModelEntry{ID: id, Object: "model", OwnedBy: profileOwner(id)})
		return true
	})
	gjson.GetBytes(foundation, "modelSummaries").ForEach(func(_, summary gjson.Result) bool {
		id := summary.Get("modelId").String()
		if id == "" {
			return true
		}
		if modalities := summary.Get("outputModalities"); modalities.Exists() && !hasTextModality(modalities) {
			return true
		}
		owner := summary.Get("providerName").String()
		if owner == "" {
			owner = profileOwner(id)
		}
		models = append(models, ModelEntry{ID: id, Object: "model", OwnedBy: owner})
		return true
	})
	return models, nil
}

func (c *CatalogClient) get(ctx context.Context, cred auth.CredentialSet, region, path string) ([]byte, error) {
	url := fmt.Sprintf(c.endpoint, region) + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	c.signer.Sign(httpReq, cred)

	httpResp, err := newHTTPClient(c.proxyURL).Do(httpReq)
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

// profileOwner derives a display owner from the profile namespace segment,
// e.g. "us.anthropic.claude-3-5-sonnet-..." -> "anthropic".
func profileOwner(id string) string {
	parts := strings.Split(id, ".")
	if len(parts) >= 2 {
		return parts[1]
	}
	return parts[0]
}

func hasTextModality(modalities gjson.Result) bool {
	found := false
	modalities.ForEach(func(_, m gjson.Result) bool {
		if strings.EqualFold(m.String(), "TEXT") {
			found = true
			return false
		}
		return true
	})
	return found
}
