package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TxKind is the kind of user-initiated write.
type TxKind string

const (
	TxKindAppend   TxKind = "APPEND"
	TxKindWithdraw TxKind = "WITHDRAW"
)

// TxState is the lifecycle state of a pending transaction.
type TxState string

const (
	TxStateIdle                TxState = "IDLE"
	TxStateSigning             TxState = "SIGNING"
	TxStateBroadcasting        TxState = "BROADCASTING"
	TxStatePendingConfirmation TxState = "PENDING_CONFIRMATION"
	TxStateConfirmed           TxState = "CONFIRMED"
	TxStateFailed              TxState = "FAILED"
	// TxStateInconclusive: the confirmation wait was canceled or timed out.
	// The ledger may still apply the transaction.
	TxStateInconclusive TxState = "INCONCLUSIVE"
)

// IsTerminal returns true if no further transition can happen locally.
func (s TxState) IsTerminal() bool {
	return s == TxStateConfirmed || s == TxStateFailed || s == TxStateInconclusive
}

// TxPayload is what the user submitted. Text and Amount are empty for WITHDRAW.
type TxPayload struct {
	Text   string
	Amount *uint256.Int
}

type txPayloadJSON struct {
	Text   string `json:"text,omitempty"`
	Amount string `json:"amount,omitempty"`
}

func (p TxPayload) MarshalJSON() ([]byte, error) {
	aux := txPayloadJSON{Text: p.Text}
	if p.Amount != nil {
		aux.Amount = p.Amount.Dec()
	}
	return json.Marshal(&aux)
}

func (p *TxPayload) UnmarshalJSON(data []byte) error {
	var aux txPayloadJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Text = aux.Text
	p.Amount = nil
	if aux.Amount != "" {
		amount, err := parseAmount(aux.Amount)
		if err != nil {
			return err
		}
		p.Amount = amount
	}
	return nil
}

// PendingTransaction is one in-flight write, owned by the transaction controller.
type PendingTransaction struct {
	ClientID    string         `json:"client_id"`
	Kind        TxKind         `json:"kind"`
	From        common.Address `json:"from"`
	Payload     TxPayload      `json:"payload"`
	State       TxState        `json:"state"`
	TxHash      *common.Hash   `json:"tx_hash,omitempty"` // present once broadcast
	BlockHeight uint64         `json:"block_height,omitempty"`
	Error       string         `json:"error,omitempty"` // FAILED or INCONCLUSIVE only
	SubmittedAt time.Time      `json:"submitted_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsTerminal returns true if the transaction reached CONFIRMED, FAILED or INCONCLUSIVE.
func (p *PendingTransaction) IsTerminal() bool {
	return p.State.IsTerminal()
}

// Clone returns a copy that shares no memory with p.
func (p PendingTransaction) Clone() PendingTransaction {
	if p.Payload.Amount != nil {
		p.Payload.Amount = p.Payload.Amount.Clone()
	}
	if p.TxHash != nil {
		h := *p.TxHash
		p.TxHash = &h
	}
	return p
}

// StatusString is the one-line status shown to the user.
func (p PendingTransaction) StatusString() string {
	noun := "Tip"
	if p.Kind == TxKindWithdraw {
		noun = "Withdrawal"
	}
	switch p.State {
	case TxStateSigning:
		return "Waiting for wallet signature..."
	case TxStateBroadcasting:
		if p.Kind == TxKindWithdraw {
			return "Sending withdrawal..."
		}
		return "Sending tip..."
	case TxStatePendingConfirmation:
		return "Waiting for confirmation..."
	case TxStateConfirmed:
		if p.Kind == TxKindWithdraw {
			return "Withdrawal confirmed!"
		}
		return "Tip sent!"
	case TxStateFailed:
		if p.Error != "" {
			return noun + " failed: " + p.Error
		}
		return noun + " failed"
	case TxStateInconclusive:
		return noun + " not yet confirmed; it may still be applied"
	default:
		return ""
	}
}
