// Package evm implements the chain adapter for EVM networks. One adapter
// instance serves one network, so ethereum mainnet and an L2 register
// under distinct chain codes with their own RPC endpoints.
package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"walletcore/native/multisig"
)

const (
	gasLimitTransfer = 21_000
	gasLimitToken    = 90_000
)

// Adapter builds, signs and broadcasts threshold-wallet transactions on
// one EVM network.
type Adapter struct {
	chainCode string
	chainID   uint64
	symbol    string
	client    *Client
}

func NewAdapter(chainCode string, chainID uint64, symbol string, client *Client) *Adapter {
	return &Adapter{
		chainCode: strings.ToLower(strings.TrimSpace(chainCode)),
		chainID:   chainID,
		symbol:    symbol,
		client:    client,
	}
}

func (a *Adapter) ChainCode() string { return a.chainCode }

// txPayload is the canonical serialized form of an unsigned wallet
// transaction. The message hash members sign is the keccak of this JSON,
// so field order and types are frozen.
type txPayload struct {
	ChainID      uint64 `json:"chainId"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	TokenAddress string `json:"tokenAddress,omitempty"`
	Nonce        string `json:"nonce"`
	GasPrice     string `json:"gasPrice"`
	GasLimit     uint64 `json:"gasLimit"`
	Threshold    int    `json:"threshold"`
}

func (a *Adapter) gasLimit(tokenAddress string) uint64 {
	if tokenAddress != "" {
		return gasLimitToken
	}
	return gasLimitTransfer
}

func (a *Adapter) EstimateFee(ctx context.Context, _ *multisig.Account, q *multisig.Queue) (multisig.Fee, error) {
	price, err := a.client.GasPrice(ctx)
	if err != nil {
		return multisig.Fee{}, err
	}
	gasPrice, err := uint256.FromHex(price)
	if err != nil {
		return multisig.Fee{}, fmt.Errorf("parse gas price %q: %w", price, err)
	}
	total := new(uint256.Int).Mul(gasPrice, uint256.NewInt(a.gasLimit(q.TokenAddress)))
	return multisig.Fee{Amount: total.Dec(), Symbol: a.symbol}, nil
}

func (a *Adapter) BuildTransaction(ctx context.Context, acct *multisig.Account, _ multisig.Members, intent multisig.TransferIntent) (multisig.BuiltTransaction, error) {
	if !common.IsHexAddress(intent.To) {
		return multisig.BuiltTransaction{}, fmt.Errorf("invalid recipient address %q", intent.To)
	}
	if intent.TokenAddress != "" && !common.IsHexAddress(intent.TokenAddress) {
		return multisig.BuiltTransaction{}, fmt.Errorf("invalid token address %q", intent.TokenAddress)
	}
	value, err := uint256.FromDecimal(intent.Value)
	if err != nil {
		return multisig.BuiltTransaction{}, fmt.Errorf("invalid value %q: %w", intent.Value, err)
	}
	nonce, err := a.client.PendingNonce(ctx, acct.Address)
	if err != nil {
		return multisig.BuiltTransaction{}, err
	}
	gasPrice, err := a.client.GasPrice(ctx)
	if err != nil {
		return multisig.BuiltTransaction{}, err
	}
	payload := txPayload{
		ChainID:      a.chainID,
		From:         acct.Address,
		To:           common.HexToAddress(intent.To).Hex(),
		Value:        value.Dec(),
		TokenAddress: intent.TokenAddress,
		Nonce:        nonce,
		GasPrice:     gasPrice,
		GasLimit:     a.gasLimit(intent.TokenAddress),
		Threshold:    acct.Threshold,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return multisig.BuiltTransaction{}, err
	}
	return multisig.BuiltTransaction{
		MessageHash:     hexutil.Encode(gethcrypto.Keccak256(buf)),
		UnsignedPayload: hexutil.Encode(buf),
	}, nil
}

func (a *Adapter) Sign(messageHash string, key *ecdsa.PrivateKey) (string, error) {
	hash, err := hexutil.Decode(messageHash)
	if err != nil {
		return "", fmt.Errorf("decode message hash: %w", err)
	}
	sig, err := gethcrypto.Sign(hash, key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// signedEnvelope is the broadcast form: the unsigned payload plus the
// ordered member signatures the contract verifies against the threshold.
type signedEnvelope struct {
	Payload    string   `json:"payload"`
	Signatures []string `json:"signatures"`
}

func (a *Adapter) Execute(ctx context.Context, acct *multisig.Account, sigs multisig.Signatures, unsignedPayload string) (string, error) {
	ordered := a.OrderSignatures(acct, nil, sigs)
	if len(ordered) < acct.Threshold {
		return "", fmt.Errorf("have %d signatures, need %d", len(ordered), acct.Threshold)
	}
	envelope := signedEnvelope{Payload: unsignedPayload, Signatures: ordered[:acct.Threshold]}
	buf, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return a.client.SendRawTransaction(ctx, hexutil.Encode(buf))
}

func (a *Adapter) QueryConfirmation(ctx context.Context, txHash string) (multisig.Confirmation, error) {
	receipt, err := a.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return multisig.Confirmation{}, err
	}
	if receipt == nil {
		return multisig.Confirmation{State: multisig.ConfirmPending}, nil
	}
	height, err := hexutil.DecodeUint64(receipt.BlockNumber)
	if err != nil {
		return multisig.Confirmation{}, fmt.Errorf("parse block number %q: %w", receipt.BlockNumber, err)
	}
	state := multisig.ConfirmFailed
	if receipt.Status == "0x1" {
		state = multisig.ConfirmSuccess
	}
	return multisig.Confirmation{State: state, BlockHeight: height}, nil
}

// OrderSignatures returns approved signature blobs in ascending signer
// address order, the verification order threshold contracts expect.
func (a *Adapter) OrderSignatures(_ *multisig.Account, _ multisig.Members, sigs multisig.Signatures) []string {
	approved := sigs.Approved()
	out := make([]string, 0, len(approved))
	for _, s := range approved {
		out = append(out, s.Bytes)
	}
	return out
}
