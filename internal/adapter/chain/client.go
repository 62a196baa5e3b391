// Package chain implements the HTTP client for the chain gateway: balance
// and transaction lookups for pool addresses, sweep broadcast and sweep
// confirmation.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"custodial-wallet-pool/internal/core/ports"

	"github.com/shopspring/decimal"
)

// Client talks to the chain gateway REST API. Every call carries its own
// request timeout so a stalled gateway cannot pin a watcher tick.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

var _ ports.ChainClient = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type addressInfo struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
	TxCount int             `json:"tx_count"`
}

type broadcastResponse struct {
	TxHash string `json:"tx_hash"`
}

type txStatus struct {
	Hash      string `json:"hash"`
	Confirmed bool   `json:"confirmed"`
}

// AddressBalance returns the current confirmed balance of address.
func (c *Client) AddressBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var info addressInfo
	if err := c.get(ctx, "/address/"+url.PathEscape(address), &info); err != nil {
		return decimal.Zero, err
	}
	return info.Balance, nil
}

// AddressTransactions returns the address's transactions, newest first.
func (c *Client) AddressTransactions(ctx context.Context, address string) ([]ports.ChainTransaction, error) {
	var txs []ports.ChainTransaction
	if err := c.get(ctx, "/address/"+url.PathEscape(address)+"/txs", &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// BroadcastSweep submits a signed sweep and returns the resulting tx hash.
func (c *Client) BroadcastSweep(ctx context.Context, sweep ports.SweepRequest) (string, error) {
	body, err := json.Marshal(sweep)
	if err != nil {
		return "", fmt.Errorf("marshal sweep: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var result broadcastResponse
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("gateway accepted sweep without tx hash")
	}
	return result.TxHash, nil
}

// TransactionConfirmed reports whether txHash has reached finality.
func (c *Client) TransactionConfirmed(ctx context.Context, txHash string) (bool, error) {
	var status txStatus
	if err := c.get(ctx, "/tx/"+url.PathEscape(txHash), &status); err != nil {
		return false, err
	}
	return status.Confirmed, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chain gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chain gateway returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
