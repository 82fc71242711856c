package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/ledger"
	"github.com/colorfulnotion/tct/store"
	"github.com/colorfulnotion/tct/tct"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func setup(t *testing.T, opts ...Option) (*ledger.Ledger, *websocket.Conn) {
	ctx := context.Background()
	l, err := ledger.Open(ctx, ledger.Config{Hasher: digest.NewBlake2b()})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	var c tct.Commitment
	c.SetUint64(5)
	_, err = l.Insert(ctx, tct.Keep(c))
	require.NoError(t, err)

	s := New(ctx, l, opts...)
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	return l, conn
}

func call(t *testing.T, conn *websocket.Conn, id uint64, method string, params ...string) rawResponse {
	require.NoError(t, conn.WriteJSON(Request{ID: id, Method: method, Params: params}))
	var resp rawResponse
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, id, resp.ID)
	return resp
}

func TestQueries(t *testing.T) {
	l, conn := setup(t)

	resp := call(t, conn, 1, MethodRoot)
	require.Empty(t, resp.Error)
	var root digest.Hash
	require.NoError(t, json.Unmarshal(resp.Result, &root))
	assert.Equal(t, l.Root(), root)

	resp = call(t, conn, 2, MethodWitness, "5")
	require.Empty(t, resp.Error)
	var proof tct.Proof
	require.NoError(t, json.Unmarshal(resp.Result, &proof))
	assert.True(t, proof.Verify(digest.NewBlake2b(), root))

	resp = call(t, conn, 3, MethodPosition, "5")
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `"0/0/0"`, string(resp.Result))

	resp = call(t, conn, 4, MethodStats)
	var stats ledger.Stats
	require.NoError(t, json.Unmarshal(resp.Result, &stats))
	assert.Equal(t, l.Stats(), stats)

	assert.Equal(t, "not witnessed", call(t, conn, 5, MethodWitness, "6").Error)
	assert.NotEmpty(t, call(t, conn, 6, MethodPosition).Error)
	assert.NotEmpty(t, call(t, conn, 7, MethodWitness, "0xzz").Error)
	assert.Contains(t, call(t, conn, 8, "prune").Error, "unknown method")
	assert.Equal(t, "read-only server", call(t, conn, 9, MethodInsert, "1").Error)
}

func TestSubscribe(t *testing.T) {
	l, conn := setup(t)

	resp := call(t, conn, 1, MethodSubscribe)
	require.Empty(t, resp.Error)

	blockRoot, err := l.EndBlock(context.Background())
	require.NoError(t, err)

	var note Notification
	require.NoError(t, conn.ReadJSON(&note))
	assert.Equal(t, NotifyFinalized, note.Method)
	assert.Equal(t, store.KindEndBlock, note.Params.Kind)
	assert.Equal(t, blockRoot, note.Params.Root)
	assert.Equal(t, l.Root(), note.Params.TreeRoot)
}

func TestWrites(t *testing.T) {
	l, conn := setup(t, WithWrites())
	require.Empty(t, call(t, conn, 1, MethodSubscribe).Error)

	resp := call(t, conn, 2, MethodInsert, "6", "7")
	require.Empty(t, resp.Error)
	assert.JSONEq(t, "2", string(resp.Result))
	resp = call(t, conn, 3, MethodInsertForget, "8")
	require.Empty(t, resp.Error)

	resp = call(t, conn, 4, MethodForget, "6")
	require.Empty(t, resp.Error)
	assert.JSONEq(t, "true", string(resp.Result))

	// the notification and the response race each other
	require.NoError(t, conn.WriteJSON(Request{ID: 5, Method: MethodEndEpoch}))
	var (
		note Notification
		root digest.Hash
	)
	for i := 0; i < 2; i++ {
		var msg map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if _, ok := msg["method"]; ok {
			require.NoError(t, json.Unmarshal(msg["params"], &note.Params))
			continue
		}
		assert.JSONEq(t, "5", string(msg["id"]))
		require.NoError(t, json.Unmarshal(msg["result"], &root))
	}
	assert.Equal(t, store.KindEndEpoch, note.Params.Kind)
	assert.Equal(t, note.Params.Root, root)

	stats := l.Stats()
	assert.Equal(t, 2, stats.Witnessed)
	assert.Equal(t, tct.NewPosition(1, 0, 0), stats.Position)
}

func TestCloseDisconnectsClients(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.Open(ctx, ledger.Config{Hasher: digest.NewBlake2b()})
	require.NoError(t, err)
	defer l.Close()

	s := New(ctx, l)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	assert.Empty(t, call(t, conn, 1, MethodRoot).Error)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	// a session arriving after Close is refused and its pumps never start
	late := &client{server: s, send: make(chan []byte, 1)}
	assert.False(t, s.hub.add(late, &s.wg))
	s.wg.Wait()
}
