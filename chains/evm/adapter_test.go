package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"walletcore/native/multisig"
)

func rpcTestServer(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := results[req.Method]
		if !ok {
			t.Fatalf("unexpected rpc method %q", req.Method)
		}
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testAccount() *multisig.Account {
	return &multisig.Account{
		ID:        "acct-1",
		Address:   "0x00000000000000000000000000000000deadbeef",
		ChainCode: "eth",
		Threshold: 2,
	}
}

func TestBuildTransactionDeterministic(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"eth_getTransactionCount": "0x5",
		"eth_gasPrice":            "0x3b9aca00",
	})
	adapter := NewAdapter("eth", 1, "ETH", NewClient(srv.URL, ""))
	ctx := context.Background()
	intent := multisig.TransferIntent{
		To:    "0x1111111111111111111111111111111111111111",
		Value: "1000000000000000000",
	}

	first, err := adapter.BuildTransaction(ctx, testAccount(), nil, intent)
	require.NoError(t, err)
	require.NotEmpty(t, first.MessageHash)
	require.NotEmpty(t, first.UnsignedPayload)

	second, err := adapter.BuildTransaction(ctx, testAccount(), nil, intent)
	require.NoError(t, err)
	require.Equal(t, first, second, "same inputs must produce the same hash")
}

func TestBuildTransactionRejectsBadInputs(t *testing.T) {
	adapter := NewAdapter("eth", 1, "ETH", NewClient("http://unused", ""))
	ctx := context.Background()

	_, err := adapter.BuildTransaction(ctx, testAccount(), nil, multisig.TransferIntent{
		To: "not-an-address", Value: "1",
	})
	require.Error(t, err)

	_, err = adapter.BuildTransaction(ctx, testAccount(), nil, multisig.TransferIntent{
		To: "0x1111111111111111111111111111111111111111", Value: "one ether",
	})
	require.Error(t, err)
}

func TestSignRecoverable(t *testing.T) {
	adapter := NewAdapter("eth", 1, "ETH", nil)
	key, err := ecdsa.GenerateKey(gethcrypto.S256(), rand.Reader)
	require.NoError(t, err)

	hash := gethcrypto.Keccak256([]byte("payload"))
	sig, err := adapter.Sign(hexutil.Encode(hash), key)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	// The signature recovers to the signing key.
	raw, err := hexutil.Decode(sig)
	require.NoError(t, err)
	pub, err := gethcrypto.SigToPub(hash, raw)
	require.NoError(t, err)
	require.Equal(t, gethcrypto.PubkeyToAddress(key.PublicKey), gethcrypto.PubkeyToAddress(*pub))
}

func TestEstimateFee(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"eth_gasPrice": "0x3b9aca00", // 1 gwei
	})
	adapter := NewAdapter("eth", 1, "ETH", NewClient(srv.URL, ""))

	fee, err := adapter.EstimateFee(context.Background(), testAccount(), &multisig.Queue{})
	require.NoError(t, err)
	require.Equal(t, "21000000000000", fee.Amount)
	require.Equal(t, "ETH", fee.Symbol)

	tokenFee, err := adapter.EstimateFee(context.Background(), testAccount(), &multisig.Queue{
		TokenAddress: "0x2222222222222222222222222222222222222222",
	})
	require.NoError(t, err)
	require.Equal(t, "90000000000000", tokenFee.Amount)
}

func TestExecuteEnforcesThreshold(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"eth_sendRawTransaction": "0xabcdef",
	})
	adapter := NewAdapter("eth", 1, "ETH", NewClient(srv.URL, ""))
	ctx := context.Background()

	_, err := adapter.Execute(ctx, testAccount(), multisig.Signatures{
		{Address: "0xa", Status: multisig.SigApproved, Bytes: "0x01"},
	}, "0xpayload")
	require.Error(t, err)

	hash, err := adapter.Execute(ctx, testAccount(), multisig.Signatures{
		{Address: "0xb", Status: multisig.SigApproved, Bytes: "0x02"},
		{Address: "0xa", Status: multisig.SigApproved, Bytes: "0x01"},
		{Address: "0xc", Status: multisig.SigRejected},
	}, "0xpayload")
	require.NoError(t, err)
	require.Equal(t, "0xabcdef", hash)
}

func TestQueryConfirmation(t *testing.T) {
	cases := []struct {
		name    string
		receipt interface{}
		want    multisig.ConfirmationState
	}{
		{name: "pending", receipt: nil, want: multisig.ConfirmPending},
		{name: "success", receipt: map[string]string{"status": "0x1", "blockNumber": "0x10"}, want: multisig.ConfirmSuccess},
		{name: "reverted", receipt: map[string]string{"status": "0x0", "blockNumber": "0x10"}, want: multisig.ConfirmFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := rpcTestServer(t, map[string]interface{}{
				"eth_getTransactionReceipt": tc.receipt,
			})
			adapter := NewAdapter("eth", 1, "ETH", NewClient(srv.URL, ""))
			conf, err := adapter.QueryConfirmation(context.Background(), "0xhash")
			require.NoError(t, err)
			require.Equal(t, tc.want, conf.State)
			if tc.want == multisig.ConfirmSuccess {
				require.EqualValues(t, 16, conf.BlockHeight)
			}
		})
	}
}

func TestOrderSignaturesAscending(t *testing.T) {
	adapter := NewAdapter("eth", 1, "ETH", nil)
	ordered := adapter.OrderSignatures(nil, nil, multisig.Signatures{
		{Address: "0xc", Status: multisig.SigApproved, Bytes: "sig-c"},
		{Address: "0xa", Status: multisig.SigApproved, Bytes: "sig-a"},
		{Address: "0xb", Status: multisig.SigRejected, Bytes: "ignored"},
	})
	require.Equal(t, []string{"sig-a", "sig-c"}, ordered)
}
