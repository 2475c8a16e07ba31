package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	ledgerAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	ownerAddr  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	senderAA   = common.HexToAddress("0xAA00000000000000000000000000000000000001")
	senderBB   = common.HexToAddress("0xBB00000000000000000000000000000000000002")
)

// tipTuple mirrors getTip's tuple output for packing.
type tipTuple struct {
	From      common.Address
	Amount    *big.Int
	Timestamp *big.Int
	Message   string
}

func loadTestContract(t *testing.T) *Contract {
	t.Helper()
	raw, err := os.ReadFile("testdata/TipWall.json")
	require.NoError(t, err)
	c, err := NewContract(ledgerAddr, raw)
	require.NoError(t, err)
	return c
}

type callHandler func(params []json.RawMessage) (interface{}, *RPCError)

// fakeNode is a minimal JSON-RPC endpoint dispatching on method name, and on
// the 4-byte selector for eth_call.
type fakeNode struct {
	t        *testing.T
	contract *Contract

	mu       sync.Mutex
	handlers map[string]callHandler
	views    map[string]func(args []interface{}, block string) []interface{}
	calls    map[string]int
}

func newFakeNode(t *testing.T, contract *Contract) (*fakeNode, *httptest.Server) {
	n := &fakeNode{
		t:        t,
		contract: contract,
		handlers: make(map[string]callHandler),
		views:    make(map[string]func([]interface{}, string) []interface{}),
		calls:    make(map[string]int),
	}
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return n, srv
}

func (n *fakeNode) handle(method string, h callHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

// view answers eth_call for a contract method with the given outputs.
func (n *fakeNode) view(method string, fn func(args []interface{}, block string) []interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.views[method] = fn
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	h := n.handlers[req.Method]
	n.mu.Unlock()

	var (
		result interface{}
		rpcErr *RPCError
	)
	switch {
	case req.Method == "eth_call" && h == nil:
		result, rpcErr = n.ethCall(req.Params)
	case h != nil:
		result, rpcErr = h(req.Params)
	default:
		rpcErr = &RPCError{Code: codeMethodNotFound, Message: "the method " + req.Method + " does not exist"}
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) ethCall(params []json.RawMessage) (interface{}, *RPCError) {
	var msg struct {
		To   common.Address `json:"to"`
		Data hexutil.Bytes  `json:"data"`
	}
	if err := json.Unmarshal(params[0], &msg); err != nil {
		return nil, &RPCError{Code: -32602, Message: err.Error()}
	}
	var block string
	if len(params) > 1 {
		_ = json.Unmarshal(params[1], &block)
	}

	method, err := n.contract.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, &RPCError{Code: -32000, Message: "execution reverted"}
	}
	n.mu.Lock()
	n.calls["eth_call:"+method.Name]++
	fn := n.views[method.Name]
	n.mu.Unlock()
	if fn == nil {
		return nil, &RPCError{Code: -32000, Message: "execution reverted"}
	}

	args, err := method.Inputs.Unpack(msg.Data[4:])
	require.NoError(n.t, err)
	out, err := method.Outputs.Pack(fn(args, block)...)
	require.NoError(n.t, err)
	return hexutil.Bytes(out), nil
}

// newTipLog builds a NewTip log as a node would deliver it.
func newTipLog(t *testing.T, c *Contract, from common.Address, amount, ts int64, message string, block uint64, index uint) types.Log {
	t.Helper()
	ev := c.abi.Events[evNewTip]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(amount), big.NewInt(ts), message)
	require.NoError(t, err)
	return types.Log{
		Address:     c.Address,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(from.Bytes())},
		Data:        data,
		BlockNumber: block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
		TxHash:      common.BigToHash(big.NewInt(int64(block*100 + uint64(index)))),
		Index:       index,
	}
}

func withdrawLog(t *testing.T, c *Contract, to common.Address, amount int64, block uint64, index uint) types.Log {
	t.Helper()
	ev := c.abi.Events[evWithdraw]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(amount))
	require.NoError(t, err)
	return types.Log{
		Address:     c.Address,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(to.Bytes())},
		Data:        data,
		BlockNumber: block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
		TxHash:      common.BigToHash(big.NewInt(int64(block*100 + uint64(index)))),
		Index:       index,
	}
}
