package dto

import (
	"time"

	"ledger-mirror/internal/core/domain"
	"ledger-mirror/pkg/apperror"
	"ledger-mirror/pkg/units"

	"github.com/holiman/uint256"
)

// AppendRequest is the request body for a new ledger entry. Exactly one of
// Amount (decimal ether) and AmountMinor (base-10 minor units) is set.
type AppendRequest struct {
	Text        string `json:"text"`
	Amount      string `json:"amount" binding:"omitempty,ether_amount"`
	AmountMinor string `json:"amount_minor" binding:"omitempty,numeric"`
}

// MinorUnits resolves the attached amount. A missing amount is returned as
// nil so the controller reports it the same way as a zero amount.
func (r AppendRequest) MinorUnits() (*uint256.Int, error) {
	switch {
	case r.Amount != "" && r.AmountMinor != "":
		return nil, apperror.Validation("Set either amount or amount_minor, not both")
	case r.AmountMinor != "":
		amount, err := units.ParseMinor(r.AmountMinor)
		if err != nil {
			return nil, apperror.ErrInvalidAmount()
		}
		return amount, nil
	case r.Amount != "":
		amount, err := units.ParseEther(r.Amount)
		if err != nil {
			return nil, apperror.ErrInvalidAmount()
		}
		return amount, nil
	}
	return nil, nil
}

// ClientIDParam binds the pending transaction id from the path.
type ClientIDParam struct {
	ClientID string `uri:"client_id" binding:"required,safe_id"`
}

// ListQuery is the query string for paged reads.
type ListQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// EntryResponse is one ledger entry as rendered by the UI.
type EntryResponse struct {
	Sequence    uint64 `json:"sequence"`
	Sender      string `json:"sender"`
	SenderShort string `json:"sender_short"`
	Amount      string `json:"amount"`       // minor units
	AmountEther string `json:"amount_ether"` // e.g. "0.001"
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
	Source      string `json:"source"`
	ClientID    string `json:"client_id,omitempty"`
}

// SummaryResponse is the ledger aggregate.
type SummaryResponse struct {
	Owner      string `json:"owner"`
	EntryCount uint64 `json:"entry_count"`
	Total      string `json:"total"`
	TotalEther string `json:"total_ether"`
}

// TransactionResponse is one pending or settled write.
type TransactionResponse struct {
	ClientID    string  `json:"client_id"`
	Kind        string  `json:"kind"`
	From        string  `json:"from"`
	State       string  `json:"state"`
	Status      string  `json:"status"`
	Text        string  `json:"text,omitempty"`
	AmountEther string  `json:"amount_ether,omitempty"`
	TxHash      *string `json:"tx_hash,omitempty"`
	BlockHeight uint64  `json:"block_height,omitempty"`
	Error       string  `json:"error,omitempty"`
	SubmittedAt string  `json:"submitted_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// ViewResponse is one consistent read of the whole mirror.
type ViewResponse struct {
	Summary      SummaryResponse       `json:"summary"`
	Entries      []EntryResponse       `json:"entries"`
	Transactions []TransactionResponse `json:"transactions"`
	Account      *string               `json:"account,omitempty"`
	Status       string                `json:"status"`
}

// AccountResponse is returned after the wallet connects.
type AccountResponse struct {
	Account string `json:"account"`
	Short   string `json:"short"`
	IsOwner bool   `json:"is_owner"`
}

func NewEntryResponse(e domain.LedgerEntry) EntryResponse {
	return EntryResponse{
		Sequence:    e.Sequence,
		Sender:      e.Sender.Hex(),
		SenderShort: units.ShortAddress(e.Sender),
		Amount:      e.AmountOrZero().Dec(),
		AmountEther: units.FormatEther(e.Amount),
		Text:        e.Text,
		CreatedAt:   time.Unix(int64(e.CreatedAt), 0).UTC().Format(time.RFC3339),
		Source:      string(e.Source),
		ClientID:    e.ClientID,
	}
}

func NewEntryResponses(entries []domain.LedgerEntry) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, NewEntryResponse(e))
	}
	return out
}

func NewSummaryResponse(s domain.LedgerSummary) SummaryResponse {
	return SummaryResponse{
		Owner:      s.Owner.Hex(),
		EntryCount: s.EntryCount,
		Total:      s.TotalOrZero().Dec(),
		TotalEther: units.FormatEther(s.TotalAmount),
	}
}

func NewTransactionResponse(tx domain.PendingTransaction) TransactionResponse {
	resp := TransactionResponse{
		ClientID:    tx.ClientID,
		Kind:        string(tx.Kind),
		From:        tx.From.Hex(),
		State:       string(tx.State),
		Status:      tx.StatusString(),
		Text:        tx.Payload.Text,
		BlockHeight: tx.BlockHeight,
		Error:       tx.Error,
		SubmittedAt: tx.SubmittedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   tx.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if tx.Payload.Amount != nil {
		resp.AmountEther = units.FormatEther(tx.Payload.Amount)
	}
	if tx.TxHash != nil {
		h := tx.TxHash.Hex()
		resp.TxHash = &h
	}
	return resp
}

func NewTransactionResponses(txs []domain.PendingTransaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, NewTransactionResponse(tx))
	}
	return out
}

func NewViewResponse(v domain.MirrorView) ViewResponse {
	resp := ViewResponse{
		Summary:      NewSummaryResponse(v.Summary),
		Entries:      NewEntryResponses(v.Entries),
		Transactions: NewTransactionResponses(v.Pending),
		Status:       v.Status,
	}
	if v.Account != nil {
		a := v.Account.Hex()
		resp.Account = &a
	}
	return resp
}
