package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"ledger-mirror/config"
	"ledger-mirror/internal/core/domain"
	"ledger-mirror/internal/core/ports"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// maxReceiptFailures is how many consecutive receipt lookups may fail
	// before WaitForReceipt gives up.
	maxReceiptFailures = 5
	// sequenceCacheBlocks bounds the per-block sequence derivation cache.
	sequenceCacheBlocks = 64
)

// Gateway implements ports.LedgerGateway over Ethereum JSON-RPC.
type Gateway struct {
	contract *Contract
	rpc      *Client
	wsURL    string
	poll     time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	blocks map[common.Hash]*blockTips
}

// blockTips is what sequence derivation needs to know about one block.
type blockTips struct {
	base       uint64 // entry count before the block
	logIndexes []uint // NewTip log positions within the block, ascending
}

// NewGateway creates a gateway. A nil contract yields a gateway whose every
// call fails with ports.ErrNotConfigured.
func NewGateway(contract *Contract, cfg config.LedgerConfig, log zerolog.Logger) *Gateway {
	g := &Gateway{
		contract: contract,
		wsURL:    cfg.WSURL,
		poll:     cfg.ReceiptPoll,
		log:      log,
		blocks:   make(map[common.Hash]*blockTips),
	}
	if cfg.RPCURL != "" {
		g.rpc = NewClient(cfg.RPCURL, cfg.RequestTimeout)
	}
	if g.poll <= 0 {
		g.poll = time.Second
	}
	return g
}

var _ ports.LedgerGateway = (*Gateway)(nil)

func (g *Gateway) configured() bool {
	return g.contract != nil && g.rpc != nil
}

// ReadAggregate reads total, count and owner at one block height so the
// three values are mutually consistent.
func (g *Gateway) ReadAggregate(ctx context.Context) (domain.LedgerSummary, error) {
	if !g.configured() {
		return domain.LedgerSummary{}, ports.ErrNotConfigured
	}

	var head hexutil.Uint64
	if err := g.rpc.Call(ctx, &head, "eth_blockNumber"); err != nil {
		return domain.LedgerSummary{}, err
	}
	block := hexutil.EncodeUint64(uint64(head))

	var (
		total *uint256.Int
		count *uint256.Int
		owner common.Address
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		data, err := g.ethCall(egCtx, block, fnTotalTipped)
		if err != nil {
			return err
		}
		total, err = g.contract.unpackUint(fnTotalTipped, data)
		return err
	})
	eg.Go(func() error {
		data, err := g.ethCall(egCtx, block, fnTipCount)
		if err != nil {
			return err
		}
		count, err = g.contract.unpackUint(fnTipCount, data)
		return err
	})
	eg.Go(func() error {
		data, err := g.ethCall(egCtx, block, fnOwner)
		if err != nil {
			return err
		}
		owner, err = g.contract.unpackAddress(fnOwner, data)
		return err
	})
	if err := eg.Wait(); err != nil {
		return domain.LedgerSummary{}, fmt.Errorf("reading aggregate: %w", err)
	}
	if !count.IsUint64() {
		return domain.LedgerSummary{}, fmt.Errorf("reading aggregate: entry count %s out of range", count.Dec())
	}

	return domain.LedgerSummary{
		TotalAmount: total,
		EntryCount:  count.Uint64(),
		Owner:       owner,
	}, nil
}

// ReadEntry reads the entry at index.
func (g *Gateway) ReadEntry(ctx context.Context, index uint64) (domain.LedgerEntry, error) {
	if !g.configured() {
		return domain.LedgerEntry{}, ports.ErrNotConfigured
	}

	data, err := g.ethCall(ctx, "latest", fnGetTip, new(big.Int).SetUint64(index))
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("reading entry %d: %w", index, err)
	}
	entry, err := g.contract.unpackTip(data)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("reading entry %d: %w", index, err)
	}
	entry.Sequence = index
	entry.Source = domain.EntrySourceSnapshot
	return entry, nil
}

// SubscribeAppendEvents streams NewTip logs over the websocket endpoint.
// Withdraw logs are logged and not forwarded.
func (g *Gateway) SubscribeAppendEvents(ctx context.Context, onEntry func(domain.LedgerEntry)) (ports.Subscription, error) {
	if !g.configured() || g.wsURL == "" {
		return nil, ports.ErrNotConfigured
	}

	filter := logFilter{
		Address: g.contract.Address,
		Topics:  [][]common.Hash{g.contract.eventTopics()},
	}
	sub, err := subscribeLogs(ctx, g.wsURL, filter, func(lg types.Log) error {
		return g.handleLog(ctx, lg, onEntry)
	}, g.log)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Broadcast submits a signed raw transaction.
func (g *Gateway) Broadcast(ctx context.Context, signed []byte) (common.Hash, error) {
	if !g.configured() {
		return common.Hash{}, ports.ErrNotConfigured
	}

	var hash common.Hash
	if err := g.rpc.Call(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(signed)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

type rpcReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	Status          hexutil.Uint64 `json:"status"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
}

// WaitForReceipt polls for the receipt of txHash until it appears, ctx is
// done, or lookups fail maxReceiptFailures times in a row.
func (g *Gateway) WaitForReceipt(ctx context.Context, txHash common.Hash) (ports.Receipt, error) {
	if !g.configured() {
		return ports.Receipt{}, ports.ErrNotConfigured
	}

	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	failures := 0
	for {
		var r *rpcReceipt
		err := g.rpc.Call(ctx, &r, "eth_getTransactionReceipt", txHash)
		switch {
		case err != nil && ctx.Err() != nil:
			return ports.Receipt{}, fmt.Errorf("waiting for receipt %s: %w", txHash.Hex(), ctx.Err())
		case err != nil:
			failures++
			if failures >= maxReceiptFailures {
				return ports.Receipt{}, fmt.Errorf("waiting for receipt %s: %w", txHash.Hex(), err)
			}
			g.log.Warn().Err(err).Str("tx_hash", txHash.Hex()).Int("failures", failures).Msg("Receipt lookup failed, retrying")
		case r != nil:
			status := ports.ReceiptStatusReverted
			if r.Status == 1 {
				status = ports.ReceiptStatusSuccess
			}
			return ports.Receipt{TxHash: txHash, Status: status, BlockHeight: uint64(r.BlockNumber)}, nil
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return ports.Receipt{}, fmt.Errorf("waiting for receipt %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Ping implements ports.HealthChecker.
func (g *Gateway) Ping(ctx context.Context) error {
	if !g.configured() {
		return ports.ErrNotConfigured
	}
	var head hexutil.Uint64
	return g.rpc.Call(ctx, &head, "eth_blockNumber")
}

func (g *Gateway) Name() string {
	return "ledger_rpc"
}

func (g *Gateway) ethCall(ctx context.Context, block string, method string, args ...interface{}) ([]byte, error) {
	data, err := g.contract.pack(method, args...)
	if err != nil {
		return nil, err
	}
	msg := map[string]interface{}{
		"to":   g.contract.Address,
		"data": hexutil.Bytes(data),
	}
	var out hexutil.Bytes
	if err := g.rpc.Call(ctx, &out, "eth_call", msg, block); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Gateway) handleLog(ctx context.Context, lg types.Log, onEntry func(domain.LedgerEntry)) error {
	if lg.Removed {
		g.log.Warn().Str("tx_hash", lg.TxHash.Hex()).Uint64("block", lg.BlockNumber).Msg("Log removed by reorg, skipping")
		return nil
	}
	if lg.Address != g.contract.Address {
		return nil
	}

	dec, err := g.contract.decodeLog(lg)
	if err != nil {
		// A malformed log is skipped; the gap it leaves triggers a resync.
		g.log.Error().Err(err).Str("tx_hash", lg.TxHash.Hex()).Uint("log_index", lg.Index).Msg("Undecodable ledger log")
		return nil
	}

	switch dec.Event {
	case evWithdraw:
		g.log.Info().
			Str("to", dec.To.Hex()).
			Str("amount", dec.Amount.Dec()).
			Str("tx_hash", lg.TxHash.Hex()).
			Msg("Withdraw observed")
		return nil
	case evNewTip:
		var seq uint64
		if dec.Sequence != nil {
			seq = *dec.Sequence
		} else {
			seq, err = g.deriveSequence(ctx, lg)
			if err != nil {
				return fmt.Errorf("deriving sequence for %s#%d: %w", lg.TxHash.Hex(), lg.Index, err)
			}
		}
		entry := dec.Entry
		entry.Sequence = seq
		entry.Source = domain.EntrySourceLive
		onEntry(entry)
	}
	return nil
}

var errLogNotInBlock = errors.New("log not found among block's append logs")

// deriveSequence computes an entry's sequence from the ledger's entry count
// before the log's block plus the log's position among the block's appends.
func (g *Gateway) deriveSequence(ctx context.Context, lg types.Log) (uint64, error) {
	g.mu.Lock()
	bt, ok := g.blocks[lg.BlockHash]
	g.mu.Unlock()

	if !ok {
		var err error
		bt, err = g.loadBlockTips(ctx, lg)
		if err != nil {
			return 0, err
		}
		g.mu.Lock()
		if len(g.blocks) >= sequenceCacheBlocks {
			g.blocks = make(map[common.Hash]*blockTips)
		}
		g.blocks[lg.BlockHash] = bt
		g.mu.Unlock()
	}

	pos, found := slices.BinarySearch(bt.logIndexes, lg.Index)
	if !found {
		return 0, errLogNotInBlock
	}
	return bt.base + uint64(pos), nil
}

func (g *Gateway) loadBlockTips(ctx context.Context, lg types.Log) (*blockTips, error) {
	bt := &blockTips{}
	if lg.BlockNumber > 0 {
		data, err := g.ethCall(ctx, hexutil.EncodeUint64(lg.BlockNumber-1), fnTipCount)
		if err != nil {
			return nil, err
		}
		count, err := g.contract.unpackUint(fnTipCount, data)
		if err != nil {
			return nil, err
		}
		bt.base = count.Uint64()
	}

	query := map[string]interface{}{
		"blockHash": lg.BlockHash,
		"address":   g.contract.Address,
		"topics":    [][]common.Hash{{g.contract.newTipTopic()}},
	}
	var logs []types.Log
	if err := g.rpc.Call(ctx, &logs, "eth_getLogs", query); err != nil {
		return nil, err
	}
	for _, l := range logs {
		if !l.Removed {
			bt.logIndexes = append(bt.logIndexes, l.Index)
		}
	}
	slices.Sort(bt.logIndexes)
	return bt, nil
}
