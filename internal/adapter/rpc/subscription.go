package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	subscribeTimeout = 10 * time.Second
	closeTimeout     = time.Second
)

type logFilter struct {
	Address common.Address  `json:"address"`
	Topics  [][]common.Hash `json:"topics"`
}

type subscriptionMessage struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// logSubscription is an eth_subscribe("logs") stream on its own websocket.
type logSubscription struct {
	conn *websocket.Conn
	id   string
	log  zerolog.Logger

	errc    chan error
	done    chan struct{}
	once    sync.Once
	writeMu sync.Mutex
}

// subscribeLogs dials url, subscribes to logs matching filter and hands each
// log to handle on a single reader goroutine. A handle error ends the stream
// and is delivered on Err. On any setup failure the connection is closed.
func subscribeLogs(ctx context.Context, url string, filter logFilter, handle func(types.Log) error, log zerolog.Logger) (*logSubscription, error) {
	dialer := websocket.Dialer{HandshakeTimeout: subscribeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	id, err := sendSubscribe(conn, filter)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &logSubscription{
		conn: conn,
		id:   id,
		log:  log,
		errc: make(chan error, 1),
		done: make(chan struct{}),
	}
	go s.readLoop(handle)
	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
		case <-s.done:
		}
	}()

	log.Debug().Str("subscription", id).Msg("Log subscription established")
	return s, nil
}

func sendSubscribe(conn *websocket.Conn, filter logFilter) (string, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []interface{}{"logs", filter},
	}
	if err := conn.SetWriteDeadline(time.Now().Add(subscribeTimeout)); err != nil {
		return "", err
	}
	if err := conn.WriteJSON(req); err != nil {
		return "", fmt.Errorf("eth_subscribe: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(subscribeTimeout)); err != nil {
		return "", err
	}
	var resp rpcResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return "", fmt.Errorf("eth_subscribe: reading response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("eth_subscribe: %w", resp.Error)
	}
	var id string
	if err := json.Unmarshal(resp.Result, &id); err != nil || id == "" {
		return "", fmt.Errorf("eth_subscribe: invalid subscription id %s", string(resp.Result))
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *logSubscription) readLoop(handle func(types.Log) error) {
	for {
		var msg subscriptionMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.fail(fmt.Errorf("log subscription: %w", err))
			return
		}
		if msg.Method != "eth_subscription" || msg.Params.Subscription != s.id {
			continue
		}

		var lg types.Log
		if err := json.Unmarshal(msg.Params.Result, &lg); err != nil {
			s.log.Error().Err(err).Msg("Malformed log notification")
			continue
		}
		if err := handle(lg); err != nil {
			s.fail(err)
			return
		}
	}
}

// fail reports err once, unless the stream was closed on purpose.
func (s *logSubscription) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.errc <- err:
	default:
	}
}

func (s *logSubscription) Err() <-chan error {
	return s.errc
}

// Unsubscribe closes the stream. Safe to call more than once.
func (s *logSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		deadline := time.Now().Add(closeTimeout)
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.WriteJSON(rpcRequest{
			JSONRPC: "2.0",
			ID:      2,
			Method:  "eth_unsubscribe",
			Params:  []interface{}{s.id},
		})
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()
	})
}
