package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"ledger-mirror/internal/core/domain"
	"ledger-mirror/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// TxJournal implements ports.TxJournal as one hash keyed by client id. The
// ttl applies to the whole journal and is refreshed on every write.
type TxJournal struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

func NewTxJournal(client *goredis.Client, namespace string, ttl time.Duration) *TxJournal {
	return &TxJournal{
		client: client,
		key:    namespace + "journal",
		ttl:    ttl,
	}
}

var _ ports.TxJournal = (*TxJournal)(nil)

func (j *TxJournal) Record(ctx context.Context, tx domain.PendingTransaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}

	_, err = j.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, j.key, tx.ClientID, data)
		if j.ttl > 0 {
			pipe.Expire(ctx, j.key, j.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis journal record: %w", err)
	}
	return nil
}

// List returns journaled transactions, oldest submission first. Entries
// that no longer decode are skipped.
func (j *TxJournal) List(ctx context.Context) ([]domain.PendingTransaction, error) {
	raw, err := j.client.HGetAll(ctx, j.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis journal list: %w", err)
	}

	txs := make([]domain.PendingTransaction, 0, len(raw))
	for _, v := range raw {
		var tx domain.PendingTransaction
		if err := json.Unmarshal([]byte(v), &tx); err != nil {
			continue
		}
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(a, b int) bool {
		return txs[a].SubmittedAt.Before(txs[b].SubmittedAt)
	})
	return txs, nil
}

func (j *TxJournal) Remove(ctx context.Context, clientID string) error {
	if err := j.client.HDel(ctx, j.key, clientID).Err(); err != nil {
		return fmt.Errorf("redis journal remove: %w", err)
	}
	return nil
}
