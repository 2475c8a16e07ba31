package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ledger-mirror/config"
	"ledger-mirror/internal/core/ports"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

var (
	ErrNoAccounts    = errors.New("no accounts found")
	ErrEmptySignedTx = errors.New("wallet returned an empty signed transaction")
)

// Wallet implements ports.Wallet against a JSON-RPC wallet endpoint (a node
// with unlocked accounts or a signer such as Clef).
type Wallet struct {
	contract *Contract
	rpc      *Client
	log      zerolog.Logger
}

func NewWallet(contract *Contract, cfg config.WalletConfig, log zerolog.Logger) *Wallet {
	w := &Wallet{contract: contract, log: log}
	if cfg.RPCURL != "" {
		w.rpc = NewClient(cfg.RPCURL, cfg.RequestTimeout)
	}
	return w
}

var _ ports.Wallet = (*Wallet)(nil)

// RequestAccount asks for account access, falling back to eth_accounts for
// endpoints without eth_requestAccounts.
func (w *Wallet) RequestAccount(ctx context.Context) (common.Address, error) {
	if w.rpc == nil {
		return common.Address{}, ports.ErrNotConfigured
	}

	var accounts []common.Address
	err := w.rpc.Call(ctx, &accounts, "eth_requestAccounts")
	if isMethodNotFound(err) {
		w.log.Debug().Msg("eth_requestAccounts unsupported, using eth_accounts")
		err = w.rpc.Call(ctx, &accounts, "eth_accounts")
	}
	if err != nil {
		return common.Address{}, rejection(err)
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrNoAccounts
	}
	return accounts[0], nil
}

type txArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value,omitempty"`
}

func (w *Wallet) txArgs(call ports.CallDescriptor) (txArgs, error) {
	if w.rpc == nil || w.contract == nil {
		return txArgs{}, ports.ErrNotConfigured
	}
	data, err := w.contract.PackCall(call)
	if err != nil {
		return txArgs{}, err
	}
	args := txArgs{From: call.From, To: w.contract.Address, Data: data}
	if call.Value != nil && !call.Value.IsZero() {
		args.Value = (*hexutil.Big)(call.Value.ToBig())
	}
	return args, nil
}

// Sign returns the raw signed transaction without sending it.
func (w *Wallet) Sign(ctx context.Context, call ports.CallDescriptor) ([]byte, error) {
	args, err := w.txArgs(call)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := w.rpc.Call(ctx, &raw, "eth_signTransaction", args); err != nil {
		return nil, rejection(err)
	}
	return decodeSignedTx(raw)
}

// SignAndSend lets the wallet sign and broadcast in one step.
func (w *Wallet) SignAndSend(ctx context.Context, call ports.CallDescriptor) (common.Hash, error) {
	args, err := w.txArgs(call)
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := w.rpc.Call(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, rejection(err)
	}
	return hash, nil
}

// rejection turns a user rejection into a ports.RejectedError carrying the
// wallet's message. Other errors pass through.
func rejection(err error) error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == codeUserRejected {
		return &ports.RejectedError{Reason: rpcErr.Message, Err: err}
	}
	return err
}

// decodeSignedTx accepts both result shapes in use: a bare hex string, or
// an object whose "raw" field holds the encoded transaction.
func decodeSignedTx(raw json.RawMessage) ([]byte, error) {
	var bare hexutil.Bytes
	if err := json.Unmarshal(raw, &bare); err == nil {
		if len(bare) == 0 {
			return nil, ErrEmptySignedTx
		}
		return bare, nil
	}

	var wrapped struct {
		Raw hexutil.Bytes `json:"raw"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding signed transaction: %w", err)
	}
	if len(wrapped.Raw) == 0 {
		return nil, ErrEmptySignedTx
	}
	return wrapped.Raw, nil
}
