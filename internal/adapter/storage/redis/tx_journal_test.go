package redis

import (
	"context"
	"testing"
	"time"

	"ledger-mirror/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journaled(id string, submitted time.Time) domain.PendingTransaction {
	hash := common.HexToHash("0xabc")
	return domain.PendingTransaction{
		ClientID:    id,
		Kind:        domain.TxKindAppend,
		From:        common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		Payload:     domain.TxPayload{Text: "gm", Amount: uint256.NewInt(1_000_000_000_000_000)},
		State:       domain.TxStateInconclusive,
		TxHash:      &hash,
		Error:       "not observed",
		SubmittedAt: submitted,
		UpdatedAt:   submitted,
	}
}

func TestTxJournal_RecordListRemove(t *testing.T) {
	s, client := newTestClient(t)
	journal := NewTxJournal(client, testNamespace, 24*time.Hour)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, journal.Record(ctx, journaled("late", base.Add(time.Minute))))
	require.NoError(t, journal.Record(ctx, journaled("early", base)))
	assert.Equal(t, 24*time.Hour, s.TTL(testNamespace+"journal"))

	txs, err := journal.List(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "early", txs[0].ClientID)
	assert.Equal(t, "late", txs[1].ClientID)
	require.NotNil(t, txs[0].TxHash)
	assert.Equal(t, common.HexToHash("0xabc"), *txs[0].TxHash)
	assert.Equal(t, "1000000000000000", txs[0].Payload.Amount.Dec())

	require.NoError(t, journal.Remove(ctx, "early"))
	txs, err = journal.List(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "late", txs[0].ClientID)

	assert.NoError(t, journal.Remove(ctx, "missing"))
}

func TestTxJournal_RecordOverwrites(t *testing.T) {
	_, client := newTestClient(t)
	journal := NewTxJournal(client, testNamespace, 0)
	ctx := context.Background()

	tx := journaled("a", time.Now().UTC())
	require.NoError(t, journal.Record(ctx, tx))
	tx.Error = "still pending"
	require.NoError(t, journal.Record(ctx, tx))

	txs, err := journal.List(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "still pending", txs[0].Error)
}

func TestTxJournal_SkipsCorruptEntries(t *testing.T) {
	s, client := newTestClient(t)
	journal := NewTxJournal(client, testNamespace, 0)
	ctx := context.Background()

	require.NoError(t, journal.Record(ctx, journaled("good", time.Now().UTC())))
	s.HSet(testNamespace+"journal", "bad", "{oops")

	txs, err := journal.List(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "good", txs[0].ClientID)
}
