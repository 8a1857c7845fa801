package boltz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Api is a client for the swap provider's v2 REST API.
type Api struct {
	URL    string
	WSURL  string
	Client http.Client
}

func (boltz *Api) GetSubmarinePairs() (SubmarinePairs, error) {
	pairs, err := sendGetRequest[SubmarinePairs](boltz, "/swap/submarine")
	if err != nil {
		return nil, err
	}
	return *pairs, nil
}

func (boltz *Api) GetReversePairs() (ReversePairs, error) {
	pairs, err := sendGetRequest[ReversePairs](boltz, "/swap/reverse")
	if err != nil {
		return nil, err
	}
	return *pairs, nil
}

func (boltz *Api) GetChainPairs() (ChainPairs, error) {
	pairs, err := sendGetRequest[ChainPairs](boltz, "/swap/chain")
	if err != nil {
		return nil, err
	}
	return *pairs, nil
}

func (boltz *Api) CreateSubmarineSwap(request CreateSubmarineRequest) (*CreateSubmarineResponse, error) {
	resp, err := sendPostRequest[CreateSubmarineResponse](boltz, "/swap/submarine", request)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func (boltz *Api) CreateReverseSwap(request CreateReverseRequest) (*CreateReverseResponse, error) {
	resp, err := sendPostRequest[CreateReverseResponse](boltz, "/swap/reverse", request)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func (boltz *Api) CreateChainSwap(request CreateChainRequest) (*ChainSwapData, error) {
	resp, err := sendPostRequest[ChainSwapData](boltz, "/swap/chain", request)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func (boltz *Api) GetSubmarineClaimDetails(swapId string) (*SubmarineClaimDetails, error) {
	url := fmt.Sprintf("/swap/submarine/%s/claim", swapId)
	return sendGetRequest[SubmarineClaimDetails](boltz, url)
}

func (boltz *Api) SendSubmarineClaimSignature(swapId string, sig PartialSignature) error {
	url := fmt.Sprintf("/swap/submarine/%s/claim", swapId)
	_, err := sendPostRequest[struct{}](boltz, url, sig)
	return err
}

func (boltz *Api) GetReverseClaimSignature(swapId string, request ReverseClaimRequest) (*PartialSignature, error) {
	url := fmt.Sprintf("/swap/reverse/%s/claim", swapId)
	return sendPostRequest[PartialSignature](boltz, url, request)
}

func (boltz *Api) GetReverseTransaction(swapId string) (*TransactionResponse, error) {
	url := fmt.Sprintf("/swap/reverse/%s/transaction", swapId)
	return sendGetRequest[TransactionResponse](boltz, url)
}

func (boltz *Api) GetChainClaimDetails(swapId string) (*ChainClaimDetails, error) {
	url := fmt.Sprintf("/swap/chain/%s/claim", swapId)
	return sendGetRequest[ChainClaimDetails](boltz, url)
}

func (boltz *Api) SendChainClaim(swapId string, request ChainClaimRequest) (*PartialSignature, error) {
	url := fmt.Sprintf("/swap/chain/%s/claim", swapId)
	return sendPostRequest[PartialSignature](boltz, url, request)
}

func (boltz *Api) GetChainTransactions(swapId string) (*ChainSwapTransactions, error) {
	url := fmt.Sprintf("/swap/chain/%s/transactions", swapId)
	return sendGetRequest[ChainSwapTransactions](boltz, url)
}

// GetReverseBip21 fetches the direct-settlement payload for an invoice whose
// routing hints carry the magic short channel id.
func (boltz *Api) GetReverseBip21(invoice string) (*ReverseBip21, error) {
	endpoint := fmt.Sprintf("/swap/reverse/%s/bip21", url.PathEscape(invoice))
	return sendGetRequest[ReverseBip21](boltz, endpoint)
}

// BroadcastTransaction submits a raw transaction for the given chain symbol
// ("BTC" or "L-BTC").
func (boltz *Api) BroadcastTransaction(currency Currency, txHex string) (*BroadcastResponse, error) {
	endpoint := fmt.Sprintf("/chain/%s/transaction", currency)
	return sendPostRequest[BroadcastResponse](boltz, endpoint, BroadcastRequest{Hex: txHex})
}

const defaultHTTPTimeout = 15 * time.Second

func withTimeoutCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultHTTPTimeout)
}

func sendGetRequest[T any](boltz *Api, endpoint string) (*T, error) {
	ctx, cancel := withTimeoutCtx()
	defer cancel()

	url := boltz.URL + "/v2" + endpoint
	return callApi[T](ctx, &boltz.Client, http.MethodGet, url, nil)
}

func sendPostRequest[T any](boltz *Api, endpoint string, requestBody any) (*T, error) {
	ctx, cancel := withTimeoutCtx()
	defer cancel()

	url := boltz.URL + "/v2" + endpoint
	return callApi[T](ctx, &boltz.Client, http.MethodPost, url, requestBody)
}

func callApi[T any](ctx context.Context, c *http.Client, method, url string, reqBody any) (*T, error) {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("new %s %s: %w", method, url, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 2000 {
			msg = msg[:2000] + "...(truncated)"
		}
		return nil, &HTTPError{
			Method:     method,
			URL:        url,
			StatusCode: res.StatusCode,
			Body:       msg,
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		var zero T
		return &zero, nil
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		snip := strings.TrimSpace(string(raw))
		if len(snip) > 300 {
			snip = snip[:300] + "...(truncated)"
		}
		return nil, fmt.Errorf("unmarshal JSON: %w (body: %q)", err, snip)
	}

	return &out, nil
}

type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}
