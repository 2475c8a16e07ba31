package ports

import (
	"context"

	"ledger-mirror/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CallDescriptor is a logical ledger write. The wallet adapter encodes it.
type CallDescriptor struct {
	Kind  domain.TxKind
	From  common.Address
	Text  string       // APPEND only
	Value *uint256.Int // minor units attached to the call, APPEND only
}

// Wallet is the external collaborator that owns keys.
type Wallet interface {
	RequestAccount(ctx context.Context) (common.Address, error)
	// Sign returns the signed raw transaction for the gateway to broadcast.
	Sign(ctx context.Context, call CallDescriptor) ([]byte, error)
	// SignAndSend signs and broadcasts in one step.
	SignAndSend(ctx context.Context, call CallDescriptor) (common.Hash, error)
}

// RejectedError is returned by a Wallet when the user declined a request.
// Reason is the wallet's own message.
type RejectedError struct {
	Reason string
	Err    error
}

func (e *RejectedError) Error() string { return e.Reason }

func (e *RejectedError) Unwrap() error { return e.Err }
