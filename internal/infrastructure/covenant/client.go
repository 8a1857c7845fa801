package covenant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AmbossTech/banco-swaps/internal/core/ports"
)

// httpClient registers covenant claims with the external claiming service
// over its REST API.
type httpClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(url string) ports.CovenantClient {
	return &httpClient{
		baseURL: url,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpClient) RegisterClaim(ctx context.Context, claim ports.CovenantClaim) error {
	url := strings.TrimRight(c.baseURL, "/") + "/covenant"

	body, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("marshal covenant claim: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("register covenant claim: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}
