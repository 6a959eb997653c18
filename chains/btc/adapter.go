// Package btc implements the chain adapter for bitcoin script-multisig
// wallets.
package btc

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"walletcore/native/multisig"
)

const (
	// ChainCode is the registry key of this adapter.
	ChainCode = "btc"

	confirmationsRequired = 1
	feeConfTarget         = 6
	// vsize estimate of a 2-of-3 script-multisig spend, used for fee
	// estimation only.
	estimatedVSize = 250
)

// Adapter builds, signs and broadcasts script-multisig transactions.
type Adapter struct {
	client *Client
	hrp    string
}

// NewAdapter creates an adapter against the given node. hrp is the
// expected bech32 prefix, "bc" for mainnet and "tb" for testnet.
func NewAdapter(client *Client, hrp string) *Adapter {
	if hrp == "" {
		hrp = "bc"
	}
	return &Adapter{client: client, hrp: hrp}
}

func (a *Adapter) ChainCode() string { return ChainCode }

func (a *Adapter) validateAddress(addr string) error {
	hrp, _, err := bech32.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid bech32 address %q: %w", addr, err)
	}
	if hrp != a.hrp {
		return fmt.Errorf("address %q has prefix %q, want %q", addr, hrp, a.hrp)
	}
	return nil
}

// sha256d is the double-SHA256 bitcoin uses for signing digests.
func sha256d(buf []byte) []byte {
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	return second[:]
}

// txPayload is the canonical serialized form of an unsigned spend. The
// message hash members sign is the double-SHA256 of this JSON.
type txPayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	Threshold int    `json:"threshold"`
	Script    string `json:"script"`
}

func (a *Adapter) EstimateFee(ctx context.Context, _ *multisig.Account, _ *multisig.Queue) (multisig.Fee, error) {
	rate, err := a.client.EstimateFeeRate(ctx, feeConfTarget)
	if err != nil {
		return multisig.Fee{}, err
	}
	// feerate is BTC/kvB; report satoshis for the estimated vsize.
	sats := int64(rate * 1e8 / 1000 * estimatedVSize)
	return multisig.Fee{Amount: fmt.Sprintf("%d", sats), Symbol: "BTC"}, nil
}

func (a *Adapter) BuildTransaction(_ context.Context, acct *multisig.Account, members multisig.Members, intent multisig.TransferIntent) (multisig.BuiltTransaction, error) {
	if err := a.validateAddress(intent.To); err != nil {
		return multisig.BuiltTransaction{}, err
	}
	if intent.TokenAddress != "" {
		return multisig.BuiltTransaction{}, fmt.Errorf("token transfers are not supported on %s", ChainCode)
	}
	payload := txPayload{
		From:      acct.Address,
		To:        intent.To,
		Value:     intent.Value,
		Threshold: acct.Threshold,
		Script:    multisigScript(acct.Threshold, members),
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return multisig.BuiltTransaction{}, err
	}
	return multisig.BuiltTransaction{
		MessageHash:     hex.EncodeToString(sha256d(buf)),
		UnsignedPayload: hex.EncodeToString(buf),
	}, nil
}

// multisigScript renders the descriptor-style witness script of the
// account: the threshold and the member public keys in member order.
func multisigScript(threshold int, members multisig.Members) string {
	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, m.PublicKey)
	}
	return fmt.Sprintf("multi(%d,%s)", threshold, strings.Join(keys, ","))
}

func (a *Adapter) Sign(messageHash string, key *ecdsa.PrivateKey) (string, error) {
	hash, err := hex.DecodeString(messageHash)
	if err != nil {
		return "", fmt.Errorf("decode message hash: %w", err)
	}
	sig, err := gethcrypto.Sign(hash, key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

type signedEnvelope struct {
	Payload    string   `json:"payload"`
	Signatures []string `json:"signatures"`
}

func (a *Adapter) Execute(ctx context.Context, acct *multisig.Account, sigs multisig.Signatures, unsignedPayload string) (string, error) {
	ordered := a.OrderSignatures(acct, nil, sigs)
	if len(ordered) < acct.Threshold {
		return "", fmt.Errorf("have %d signatures, need %d", len(ordered), acct.Threshold)
	}
	buf, err := json.Marshal(signedEnvelope{Payload: unsignedPayload, Signatures: ordered[:acct.Threshold]})
	if err != nil {
		return "", err
	}
	return a.client.SendRawTransaction(ctx, hex.EncodeToString(buf))
}

func (a *Adapter) QueryConfirmation(ctx context.Context, txHash string) (multisig.Confirmation, error) {
	status, err := a.client.GetTransaction(ctx, txHash)
	if err != nil {
		return multisig.Confirmation{}, err
	}
	if status != nil && status.Confirmations < 0 {
		// Negative confirmations mean the containing block was reorged
		// out and the transaction conflicts with the active chain.
		return multisig.Confirmation{State: multisig.ConfirmFailed}, nil
	}
	if status == nil || status.Confirmations < confirmationsRequired {
		return multisig.Confirmation{State: multisig.ConfirmPending}, nil
	}
	return multisig.Confirmation{
		State:       multisig.ConfirmSuccess,
		BlockHeight: uint64(status.BlockHeight),
	}, nil
}

// OrderSignatures returns approved signature blobs in descending signer
// address order, matching the witness stack order of the wallet's
// script template.
func (a *Adapter) OrderSignatures(_ *multisig.Account, _ multisig.Members, sigs multisig.Signatures) []string {
	approved := sigs.Approved()
	sort.Slice(approved, func(i, j int) bool { return approved[i].Address > approved[j].Address })
	out := make([]string, 0, len(approved))
	for _, s := range approved {
		out = append(out, s.Bytes)
	}
	return out
}
