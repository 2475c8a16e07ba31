package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is a point-in-time read of the aggregate plus a bounded window of
// the newest entries, held in ascending sequence order.
type Snapshot struct {
	Summary LedgerSummary `json:"summary"`
	Entries []LedgerEntry `json:"entries"`
	TakenAt time.Time     `json:"taken_at"`
}

// MirrorView is one consistent read of everything the UI renders.
type MirrorView struct {
	Summary LedgerSummary        `json:"summary"`
	Entries []LedgerEntry        `json:"entries"` // newest first
	Pending []PendingTransaction `json:"pending"`
	Account *common.Address      `json:"account,omitempty"`
	Status  string               `json:"status"`
}
