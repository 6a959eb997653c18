package btc

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

// Client is a JSON-RPC client against a bitcoind-compatible node.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	nextID   atomic.Int64
}

func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	buf, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
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
	var rpcResp rpcResponse
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

// EstimateFeeRate returns the estimated feerate in BTC/kvB for the target
// confirmation window.
func (c *Client) EstimateFeeRate(ctx context.Context, confTarget int) (float64, error) {
	var result struct {
		FeeRate float64 `json:"feerate"`
	}
	if err := c.call(ctx, "estimatesmartfee", []interface{}{confTarget}, &result); err != nil {
		return 0, err
	}
	return result.FeeRate, nil
}

// SendRawTransaction broadcasts a serialized transaction and returns its
// txid.
func (c *Client) SendRawTransaction(ctx context.Context, raw string) (string, error) {
	var txid string
	if err := c.call(ctx, "sendrawtransaction", []interface{}{raw}, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

// TxStatus is the confirmation view of a broadcast transaction.
type TxStatus struct {
	Confirmations int64 `json:"confirmations"`
	BlockHeight   int64 `json:"blockheight"`
}

// GetTransaction returns the wallet's view of a transaction, or nil while
// the node has not seen it.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*TxStatus, error) {
	var status *TxStatus
	if err := c.call(ctx, "gettransaction", []interface{}{txid}, &status); err != nil {
		return nil, err
	}
	return status, nil
}
