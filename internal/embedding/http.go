package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/23skdu/bert-ruber/internal/logger"
	"github.com/23skdu/bert-ruber/internal/metrics"
)

// HTTPProvider talks to the bert-as-service HTTP frontend:
//
//	POST /encode {"id": 1, "texts": [...], "is_tokenized": false}
//	→ {"id": 1, "result": [[...], ...], "status": 200}
type HTTPProvider struct {
	client   *retryablehttp.Client
	endpoint string
	dim      int
	nextID   atomic.Int64
}

type encodeRequest struct {
	ID          int64    `json:"id"`
	Texts       []string `json:"texts"`
	IsTokenized bool     `json:"is_tokenized"`
}

type encodeResponse struct {
	ID     int64       `json:"id"`
	Result [][]float32 `json:"result"`
	Status int         `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// NewHTTPProvider builds a provider for baseURL. retryMax 0 means fail fast.
func NewHTTPProvider(baseURL string, dim, retryMax int, timeout time.Duration) *HTTPProvider {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.HTTPClient.Timeout = timeout
	client.Logger = logger.Log
	client.Backoff = retryablehttp.DefaultBackoff
	client.CheckRetry = retryPolicy

	return &HTTPProvider{
		client:   client,
		endpoint: strings.TrimRight(baseURL, "/") + "/encode",
		dim:      dim,
	}
}

// retryPolicy does not retry cancelled contexts or 4xx responses.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (h *HTTPProvider) Dim() int { return h.dim }

func (h *HTTPProvider) Close() error {
	h.client.HTTPClient.CloseIdleConnections()
	return nil
}

func (h *HTTPProvider) Encode(ctx context.Context, sentences []string) ([]Vector, error) {
	if len(sentences) == 0 {
		return nil, ErrEmptyInput
	}
	start := time.Now()
	vecs, err := h.post(ctx, sentences)
	if err == nil {
		err = checkVectors(vecs, len(sentences), h.dim)
	}
	metrics.RecordEmbedding("http", len(sentences), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

func (h *HTTPProvider) post(ctx context.Context, sentences []string) ([]Vector, error) {
	body, err := json.Marshal(encodeRequest{ID: h.nextID.Add(1), Texts: sentences})
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("encode request to %s: %w", h.endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("encode request to %s: %s: %s", h.endpoint, resp.Status, strings.TrimSpace(string(raw)))
	}

	var out encodeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode encode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("embedding service: %s", out.Error)
	}

	vecs := make([]Vector, len(out.Result))
	for i, r := range out.Result {
		vecs[i] = Vector(r)
	}
	return vecs, nil
}
