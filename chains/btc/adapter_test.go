package btc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"walletcore/native/multisig"
)

func rpcTestServer(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := results[req.Method]
		if !ok {
			t.Fatalf("unexpected rpc method %q", req.Method)
		}
		resp := map[string]interface{}{"result": result, "error": nil, "id": req.ID}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testAccount() *multisig.Account {
	return &multisig.Account{
		ID:        "acct-1",
		Address:   "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
		ChainCode: ChainCode,
		Threshold: 2,
	}
}

func testMembers() multisig.Members {
	return multisig.Members{
		{Address: "bc1qa", PublicKey: "02aaaa"},
		{Address: "bc1qb", PublicKey: "02bbbb"},
		{Address: "bc1qc", PublicKey: "02cccc"},
	}
}

func TestBuildTransactionValidatesAddress(t *testing.T) {
	adapter := NewAdapter(nil, "bc")
	ctx := context.Background()

	_, err := adapter.BuildTransaction(ctx, testAccount(), testMembers(), multisig.TransferIntent{
		To: "0x1111111111111111111111111111111111111111", Value: "5000",
	})
	require.Error(t, err)

	// Testnet address on a mainnet adapter.
	_, err = adapter.BuildTransaction(ctx, testAccount(), testMembers(), multisig.TransferIntent{
		To: "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", Value: "5000",
	})
	require.Error(t, err)

	built, err := adapter.BuildTransaction(ctx, testAccount(), testMembers(), multisig.TransferIntent{
		To: "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", Value: "5000",
	})
	require.NoError(t, err)
	require.NotEmpty(t, built.MessageHash)
	require.NotEmpty(t, built.UnsignedPayload)
}

func TestBuildTransactionRejectsTokens(t *testing.T) {
	adapter := NewAdapter(nil, "bc")
	_, err := adapter.BuildTransaction(context.Background(), testAccount(), testMembers(), multisig.TransferIntent{
		To: "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", Value: "5000", TokenAddress: "usdt",
	})
	require.Error(t, err)
}

func TestMultisigScript(t *testing.T) {
	script := multisigScript(2, testMembers())
	require.Equal(t, "multi(2,02aaaa,02bbbb,02cccc)", script)
}

func TestOrderSignaturesDescending(t *testing.T) {
	adapter := NewAdapter(nil, "bc")
	ordered := adapter.OrderSignatures(nil, nil, multisig.Signatures{
		{Address: "bc1qa", Status: multisig.SigApproved, Bytes: "sig-a"},
		{Address: "bc1qc", Status: multisig.SigApproved, Bytes: "sig-c"},
		{Address: "bc1qb", Status: multisig.SigRejected, Bytes: "ignored"},
	})
	require.Equal(t, []string{"sig-c", "sig-a"}, ordered)
}

func TestExecuteBroadcasts(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"sendrawtransaction": "txid-1",
	})
	adapter := NewAdapter(NewClient(srv.URL, "user", "pass"), "bc")

	txid, err := adapter.Execute(context.Background(), testAccount(), multisig.Signatures{
		{Address: "bc1qa", Status: multisig.SigApproved, Bytes: "sig-a"},
		{Address: "bc1qc", Status: multisig.SigApproved, Bytes: "sig-c"},
	}, "payload")
	require.NoError(t, err)
	require.Equal(t, "txid-1", txid)
}

func TestQueryConfirmation(t *testing.T) {
	cases := []struct {
		name   string
		status interface{}
		want   multisig.ConfirmationState
	}{
		{name: "unseen", status: nil, want: multisig.ConfirmPending},
		{name: "in mempool", status: map[string]int64{"confirmations": 0}, want: multisig.ConfirmPending},
		{name: "confirmed", status: map[string]int64{"confirmations": 3, "blockheight": 800_000}, want: multisig.ConfirmSuccess},
		{name: "reorged out", status: map[string]int64{"confirmations": -1}, want: multisig.ConfirmFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := rpcTestServer(t, map[string]interface{}{"gettransaction": tc.status})
			adapter := NewAdapter(NewClient(srv.URL, "", ""), "bc")
			conf, err := adapter.QueryConfirmation(context.Background(), "txid-1")
			require.NoError(t, err)
			require.Equal(t, tc.want, conf.State)
			if tc.want == multisig.ConfirmSuccess {
				require.EqualValues(t, 800_000, conf.BlockHeight)
			}
		})
	}
}
