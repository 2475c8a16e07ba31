package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ledger-mirror/config"
	"ledger-mirror/internal/core/domain"
	"ledger-mirror/internal/core/ports"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, rpcURL, wsURL string) *Gateway {
	t.Helper()
	return NewGateway(loadTestContract(t), config.LedgerConfig{
		RPCURL:         rpcURL,
		WSURL:          wsURL,
		RequestTimeout: 2 * time.Second,
		ReceiptPoll:    5 * time.Millisecond,
	}, zerolog.Nop())
}

func TestGateway_NotConfigured(t *testing.T) {
	ctx := context.Background()
	g := NewGateway(nil, config.LedgerConfig{RPCURL: "http://127.0.0.1:1"}, zerolog.Nop())

	_, err := g.ReadAggregate(ctx)
	assert.ErrorIs(t, err, ports.ErrNotConfigured)
	_, err = g.ReadEntry(ctx, 0)
	assert.ErrorIs(t, err, ports.ErrNotConfigured)
	_, err = g.SubscribeAppendEvents(ctx, func(domain.LedgerEntry) {})
	assert.ErrorIs(t, err, ports.ErrNotConfigured)
	_, err = g.Broadcast(ctx, []byte{1})
	assert.ErrorIs(t, err, ports.ErrNotConfigured)
	_, err = g.WaitForReceipt(ctx, common.Hash{})
	assert.ErrorIs(t, err, ports.ErrNotConfigured)
	assert.ErrorIs(t, g.Ping(ctx), ports.ErrNotConfigured)

	g = NewGateway(loadTestContract(t), config.LedgerConfig{}, zerolog.Nop())
	_, err = g.ReadAggregate(ctx)
	assert.ErrorIs(t, err, ports.ErrNotConfigured)
}

func TestGateway_ReadAggregate(t *testing.T) {
	c := loadTestContract(t)
	node, srv := newFakeNode(t, c)

	node.handle("eth_blockNumber", func([]json.RawMessage) (interface{}, *RPCError) {
		return hexutil.Uint64(42), nil
	})
	var blocks sync.Map
	node.view(fnTotalTipped, func(_ []interface{}, block string) []interface{} {
		blocks.Store(fnTotalTipped, block)
		return []interface{}{big.NewInt(3000000000000000)}
	})
	node.view(fnTipCount, func(_ []interface{}, block string) []interface{} {
		blocks.Store(fnTipCount, block)
		return []interface{}{big.NewInt(2)}
	})
	node.view(fnOwner, func(_ []interface{}, block string) []interface{} {
		blocks.Store(fnOwner, block)
		return []interface{}{ownerAddr}
	})

	g := newTestGateway(t, srv.URL, "")
	summary, err := g.ReadAggregate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "3000000000000000", summary.TotalAmount.Dec())
	assert.Equal(t, uint64(2), summary.EntryCount)
	assert.Equal(t, ownerAddr, summary.Owner)

	for _, fn := range []string{fnTotalTipped, fnTipCount, fnOwner} {
		block, ok := blocks.Load(fn)
		require.True(t, ok)
		assert.Equal(t, "0x2a", block, "all aggregate reads pinned to one block")
	}
}

func TestGateway_ReadAggregate_CallFails(t *testing.T) {
	c := loadTestContract(t)
	node, srv := newFakeNode(t, c)
	node.handle("eth_blockNumber", func([]json.RawMessage) (interface{}, *RPCError) {
		return hexutil.Uint64(1), nil
	})
	node.view(fnTotalTipped, func([]interface{}, string) []interface{} { return []interface{}{big.NewInt(1)} })
	node.view(fnOwner, func([]interface{}, string) []interface{} { return []interface{}{ownerAddr} })
	// tipCount has no view registered and reverts.

	g := newTestGateway(t, srv.URL, "")
	_, err := g.ReadAggregate(context.Background())
	require.Error(t, err)

	var rpcErr *RPCError
	assert.ErrorAs(t, err, &rpcErr)
}

func TestGateway_ReadEntry(t *testing.T) {
	c := loadTestContract(t)
	node, srv := newFakeNode(t, c)
	node.view(fnGetTip, func(args []interface{}, block string) []interface{} {
		assert.Equal(t, "latest", block)
		assert.Equal(t, int64(1), args[0].(*big.Int).Int64())
		return []interface{}{tipTuple{From: senderBB, Amount: big.NewInt(2000000000000000), Timestamp: big.NewInt(1700000001), Message: "yo"}}
	})

	g := newTestGateway(t, srv.URL, "")
	e, err := g.ReadEntry(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e.Sequence)
	assert.Equal(t, domain.EntrySourceSnapshot, e.Source)
	assert.Equal(t, senderBB, e.Sender)
	assert.Equal(t, "yo", e.Text)
}

func TestGateway_Broadcast(t *testing.T) {
	c := loadTestContract(t)
	node, srv := newFakeNode(t, c)
	want := common.HexToHash("0x1")
	node.handle("eth_sendRawTransaction", func(params []json.RawMessage) (interface{}, *RPCError) {
		var raw string
		require.NoError(t, json.Unmarshal(params[0], &raw))
		assert.Equal(t, "0xf86c01", raw)
		return want, nil
	})

	g := newTestGateway(t, srv.URL, "")
	got, err := g.Broadcast(context.Background(), []byte{0xf8, 0x6c, 0x01})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGateway_Broadcast_Rejected(t *testing.T) {
	c := loadTestContract(t)
	node, srv := newFakeNode(t, c)
	node.handle("eth_sendRawTransaction", func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -32000, Message: "nonce too low"}
	})

	g := newTestGateway(t, srv.URL, "")
	_, err := g.Broadcast(context.Background(), []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce too low")
}

func TestGateway_WaitForReceipt(t *testing.T) {
	tests := []struct {
		name   string
		status uint64
		want   ports.ReceiptStatus
	}{
		{"success", 1, ports.ReceiptStatusSuccess},
		{"reverted", 0, ports.ReceiptStatusReverted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := loadTestContract(t)
			node, srv := newFakeNode(t, c)
			var polls int
			var mu sync.Mutex
			node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *RPCError) {
				mu.Lock()
				defer mu.Unlock()
				polls++
				if polls < 3 {
					return nil, nil
				}
				return map[string]interface{}{
					"transactionHash": common.HexToHash("0x1"),
					"status":          hexutil.Uint64(tt.status),
					"blockNumber":     hexutil.Uint64(7),
				}, nil
			})

			g := newTestGateway(t, srv.URL, "")
			r, err := g.WaitForReceipt(context.Background(), common.HexToHash("0x1"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Status)
			assert.Equal(t, uint64(7), r.BlockHeight)
			assert.Equal(t, 3, node.count("eth_getTransactionReceipt"))
		})
	}
}

func TestGateway_WaitForReceipt_Canceled(t *testing.T) {
	c := loadTestContract(t)
	node, srv := newFakeNode(t, c)
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, nil
	})

	g := newTestGateway(t, srv.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := g.WaitForReceipt(ctx, common.HexToHash("0x1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateway_WaitForReceipt_GivesUpAfterRepeatedFailures(t *testing.T) {
	c := loadTestContract(t)
	node, srv := newFakeNode(t, c)
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -32603, Message: "internal error"}
	})

	g := newTestGateway(t, srv.URL, "")
	_, err := g.WaitForReceipt(context.Background(), common.HexToHash("0x1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Equal(t, maxReceiptFailures, node.count("eth_getTransactionReceipt"))
}

// wsNode accepts one eth_subscribe and then pushes the queued logs.
func wsNode(t *testing.T, logs []types.Log, unsubscribed chan<- struct{}) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, conn.ReadJSON(&req))
		assert.Equal(t, "eth_subscribe", req.Method)
		require.NoError(t, conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0xsub"}))

		for _, lg := range logs {
			require.NoError(t, conn.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "eth_subscription",
				"params":  map[string]interface{}{"subscription": "0xsub", "result": lg},
			}))
		}

		for {
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Method == "eth_unsubscribe" && unsubscribed != nil {
				close(unsubscribed)
				unsubscribed = nil
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGateway_SubscribeAppendEvents_DerivesSequence(t *testing.T) {
	c := loadTestContract(t)
	node, srv := newFakeNode(t, c)

	// Block 10 holds two appends at log positions 1 and 3; four entries existed before it.
	first := newTipLog(t, c, senderAA, 1000, 1700000000, "gm", 10, 1)
	second := newTipLog(t, c, senderBB, 2000, 1700000000, "gn", 10, 3)
	removed := newTipLog(t, c, senderAA, 9, 1700000000, "reorged", 9, 0)
	removed.Removed = true
	withdrawal := withdrawLog(t, c, ownerAddr, 3000, 10, 4)

	node.view(fnTipCount, func(_ []interface{}, block string) []interface{} {
		assert.Equal(t, "0x9", block)
		return []interface{}{big.NewInt(4)}
	})
	node.handle("eth_getLogs", func([]json.RawMessage) (interface{}, *RPCError) {
		return []types.Log{second, first}, nil
	})

	ws := wsNode(t, []types.Log{removed, first, second, withdrawal}, nil)
	g := newTestGateway(t, srv.URL, "ws"+strings.TrimPrefix(ws.URL, "http"))

	var mu sync.Mutex
	var got []domain.LedgerEntry
	sub, err := g.SubscribeAppendEvents(context.Background(), func(e domain.LedgerEntry) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(4), got[0].Sequence)
	assert.Equal(t, "gm", got[0].Text)
	assert.Equal(t, uint64(5), got[1].Sequence)
	assert.Equal(t, domain.EntrySourceLive, got[1].Source)
	assert.Equal(t, 1, node.count("eth_getLogs"), "block info cached across its logs")
}

func TestGateway_SubscribeAppendEvents_UnsubscribeReleasesStream(t *testing.T) {
	c := loadTestContract(t)
	_, srv := newFakeNode(t, c)
	unsubscribed := make(chan struct{})
	ws := wsNode(t, nil, unsubscribed)
	g := newTestGateway(t, srv.URL, "ws"+strings.TrimPrefix(ws.URL, "http"))

	sub, err := g.SubscribeAppendEvents(context.Background(), func(domain.LedgerEntry) {})
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case <-unsubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("eth_unsubscribe not sent")
	}
	select {
	case err := <-sub.Err():
		t.Fatalf("closing on purpose must not report an error, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGateway_SubscribeAppendEvents_ReportsLoss(t *testing.T) {
	c := loadTestContract(t)
	_, srv := newFakeNode(t, c)

	upgrader := websocket.Upgrader{}
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		var req map[string]interface{}
		require.NoError(t, conn.ReadJSON(&req))
		require.NoError(t, conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req["id"], "result": "0xsub"}))
		conn.Close()
	}))
	defer ws.Close()

	g := newTestGateway(t, srv.URL, "ws"+strings.TrimPrefix(ws.URL, "http"))
	sub, err := g.SubscribeAppendEvents(context.Background(), func(domain.LedgerEntry) {})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case err := <-sub.Err():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription loss not reported")
	}
}

func TestGateway_SubscribeAppendEvents_SubscribeRejected(t *testing.T) {
	c := loadTestContract(t)
	_, srv := newFakeNode(t, c)

	upgrader := websocket.Upgrader{}
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		var req map[string]interface{}
		require.NoError(t, conn.ReadJSON(&req))
		_ = conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0", "id": req["id"],
			"error": map[string]interface{}{"code": -32601, "message": "notifications not supported"},
		})
	}))
	defer ws.Close()

	g := newTestGateway(t, srv.URL, "ws"+strings.TrimPrefix(ws.URL, "http"))
	_, err := g.SubscribeAppendEvents(context.Background(), func(domain.LedgerEntry) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications not supported")
}

func TestGateway_Ping(t *testing.T) {
	c := loadTestContract(t)
	node, srv := newFakeNode(t, c)
	node.handle("eth_blockNumber", func([]json.RawMessage) (interface{}, *RPCError) {
		return hexutil.Uint64(1), nil
	})

	g := newTestGateway(t, srv.URL, "")
	assert.NoError(t, g.Ping(context.Background()))
	assert.Equal(t, "ledger_rpc", g.Name())
}
