package domain

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxTextLength is the longest entry text the ledger accepts, in code points.
const MaxTextLength = 80

// EntrySource records where a held entry came from.
type EntrySource string

const (
	EntrySourceSnapshot   EntrySource = "SNAPSHOT"
	EntrySourceLive       EntrySource = "LIVE"
	EntrySourceOptimistic EntrySource = "OPTIMISTIC"
)

// LedgerEntry is one recorded append. Entries are never mutated after
// creation; an OPTIMISTIC placeholder is replaced by the confirmed entry.
type LedgerEntry struct {
	Sequence  uint64 // position assigned by the ledger, the identity key
	Sender    common.Address
	Amount    *uint256.Int // minor units
	CreatedAt uint64       // seconds since epoch
	Text      string
	Source    EntrySource
	ClientID  string // OPTIMISTIC only: the pending transaction it stands in for
}

// TextLength counts code points, not bytes.
func TextLength(text string) int {
	return utf8.RuneCountInString(text)
}

// AmountOrZero never returns nil.
func (e LedgerEntry) AmountOrZero() *uint256.Int {
	if e.Amount == nil {
		return new(uint256.Int)
	}
	return e.Amount
}

// IsConfirmed reports whether the entry was observed on the ledger.
func (e LedgerEntry) IsConfirmed() bool {
	return e.Source != EntrySourceOptimistic
}

// Matches reports whether e carries the given append payload. Used to pair a
// confirmed entry with the pending APPEND that produced it.
func (e LedgerEntry) Matches(sender common.Address, text string, amount *uint256.Int) bool {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return e.Sender == sender && e.Text == text && e.AmountOrZero().Eq(amount)
}

// Equal compares the ledger-visible fields. Source is ignored: the same
// entry read from a snapshot and from a live event is the same entry.
func (e LedgerEntry) Equal(o LedgerEntry) bool {
	return e.Sequence == o.Sequence &&
		e.Sender == o.Sender &&
		e.AmountOrZero().Eq(o.AmountOrZero()) &&
		e.CreatedAt == o.CreatedAt &&
		e.Text == o.Text
}

// Clone returns a copy that shares no memory with e.
func (e LedgerEntry) Clone() LedgerEntry {
	e.Amount = e.AmountOrZero().Clone()
	return e
}

type ledgerEntryJSON struct {
	Sequence  uint64      `json:"sequence"`
	Sender    string      `json:"sender"`
	Amount    string      `json:"amount"`
	CreatedAt uint64      `json:"created_at"`
	Text      string      `json:"text"`
	Source    EntrySource `json:"source"`
	ClientID  string      `json:"client_id,omitempty"`
}

// MarshalJSON renders the amount as a decimal string.
func (e LedgerEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(&ledgerEntryJSON{
		Sequence:  e.Sequence,
		Sender:    e.Sender.Hex(),
		Amount:    e.AmountOrZero().Dec(),
		CreatedAt: e.CreatedAt,
		Text:      e.Text,
		Source:    e.Source,
		ClientID:  e.ClientID,
	})
}

func (e *LedgerEntry) UnmarshalJSON(data []byte) error {
	var aux ledgerEntryJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Sender != "" && !common.IsHexAddress(aux.Sender) {
		return fmt.Errorf("invalid sender address %q", aux.Sender)
	}
	amount, err := parseAmount(aux.Amount)
	if err != nil {
		return err
	}

	*e = LedgerEntry{
		Sequence:  aux.Sequence,
		Sender:    common.HexToAddress(aux.Sender),
		Amount:    amount,
		CreatedAt: aux.CreatedAt,
		Text:      aux.Text,
		Source:    aux.Source,
		ClientID:  aux.ClientID,
	}
	return nil
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	return amount, nil
}
