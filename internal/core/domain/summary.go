package domain

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LedgerSummary is the aggregate state of the ledger.
type LedgerSummary struct {
	TotalAmount *uint256.Int
	EntryCount  uint64
	Owner       common.Address
}

// NewLedgerSummary returns an empty summary with a non-nil total.
func NewLedgerSummary(owner common.Address) LedgerSummary {
	return LedgerSummary{TotalAmount: new(uint256.Int), Owner: owner}
}

func (s LedgerSummary) TotalOrZero() *uint256.Int {
	if s.TotalAmount == nil {
		return new(uint256.Int)
	}
	return s.TotalAmount
}

// Add folds one confirmed entry into the counters. s is left untouched.
func (s LedgerSummary) Add(e LedgerEntry) LedgerSummary {
	s.TotalAmount = new(uint256.Int).Add(s.TotalOrZero(), e.AmountOrZero())
	s.EntryCount++
	return s
}

func (s LedgerSummary) Equal(o LedgerSummary) bool {
	return s.EntryCount == o.EntryCount &&
		s.Owner == o.Owner &&
		s.TotalOrZero().Eq(o.TotalOrZero())
}

func (s LedgerSummary) Clone() LedgerSummary {
	s.TotalAmount = s.TotalOrZero().Clone()
	return s
}

type ledgerSummaryJSON struct {
	TotalAmount string `json:"total_amount"`
	EntryCount  uint64 `json:"entry_count"`
	Owner       string `json:"owner"`
}

func (s LedgerSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(&ledgerSummaryJSON{
		TotalAmount: s.TotalOrZero().Dec(),
		EntryCount:  s.EntryCount,
		Owner:       s.Owner.Hex(),
	})
}

func (s *LedgerSummary) UnmarshalJSON(data []byte) error {
	var aux ledgerSummaryJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	total, err := parseAmount(aux.TotalAmount)
	if err != nil {
		return err
	}
	*s = LedgerSummary{
		TotalAmount: total,
		EntryCount:  aux.EntryCount,
		Owner:       common.HexToAddress(aux.Owner),
	}
	return nil
}
