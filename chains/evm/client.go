package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Client is a thin JSON-RPC client against an EVM node.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// GasPrice returns the current gas price as a hex quantity.
func (c *Client) GasPrice(ctx context.Context) (string, error) {
	var price string
	if err := c.call(ctx, "eth_gasPrice", []interface{}{}, &price); err != nil {
		return "", err
	}
	return price, nil
}

// PendingNonce returns the next nonce of the address including pending
// transactions.
func (c *Client) PendingNonce(ctx context.Context, address string) (string, error) {
	var nonce string
	if err := c.call(ctx, "eth_getTransactionCount", []interface{}{address, "pending"}, &nonce); err != nil {
		return "", err
	}
	return nonce, nil
}

// SendRawTransaction broadcasts a serialized transaction and returns its
// hash.
func (c *Client) SendRawTransaction(ctx context.Context, raw string) (string, error) {
	var hash string
	if err := c.call(ctx, "eth_sendRawTransaction", []interface{}{raw}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// Receipt is the subset of a transaction receipt the wallet inspects.
type Receipt struct {
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
}

// TransactionReceipt returns the receipt of a mined transaction, or nil
// while it is still pending.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt *Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}
