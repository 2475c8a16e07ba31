package rpc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Call(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr string
	}{
		{"result", http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x2a"}`, "0x2a", ""},
		{"null result", http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":null}`, "untouched", ""},
		{"rpc error", http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"execution reverted"}}`, "", "execution reverted"},
		{"rpc error on 500", http.StatusInternalServerError, `{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"boom"}}`, "", "boom"},
		{"http error", http.StatusBadGateway, `bad gateway`, "", "unexpected http status 502"},
		{"garbage", http.StatusOK, `not json`, "", "decoding response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			out := "untouched"
			err := NewClient(srv.URL, time.Second).Call(context.Background(), &out, "eth_blockNumber")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Contains(t, err.Error(), "eth_blockNumber")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestIsUserRejected(t *testing.T) {
	assert.True(t, IsUserRejected(fmt.Errorf("sign: %w", &RPCError{Code: 4001, Message: "User rejected the request."})))
	assert.False(t, IsUserRejected(&RPCError{Code: -32000}))
	assert.False(t, IsUserRejected(fmt.Errorf("plain")))
}
