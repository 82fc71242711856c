// Package server answers root, witness and position queries over WebSocket and pushes every
// finalized block and epoch to subscribed clients.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/colorfulnotion/tct/ledger"
	"github.com/colorfulnotion/tct/log"
	"github.com/colorfulnotion/tct/tct"
	"github.com/gorilla/websocket"
)

const (
	MethodRoot      = "root"
	MethodWitness   = "witness"
	MethodPosition  = "position"
	MethodStats     = "stats"
	MethodSubscribe = "subscribe"

	// Mutations, served only with WithWrites.
	MethodInsert       = "insert"
	MethodInsertForget = "insert-forget"
	MethodForget       = "forget"
	MethodEndBlock     = "end-block"
	MethodEndEpoch     = "end-epoch"

	// NotifyFinalized is the method of pushed Finalized messages.
	NotifyFinalized = "finalized"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Request struct {
	ID     uint64   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params,omitempty"`
}

type Response struct {
	ID     uint64      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type Notification struct {
	Method string           `json:"method"`
	Params ledger.Finalized `json:"params"`
}

// Server is an http.Handler upgrading every request to a WebSocket session.
type Server struct {
	ledger   *ledger.Ledger
	hub      *hub
	wg       sync.WaitGroup
	writable bool
}

type Option func(*Server)

// WithWrites lets clients insert, forget and end blocks and epochs.
func WithWrites() Option {
	return func(s *Server) { s.writable = true }
}

// New starts serving l. Cancelling ctx or calling Close disconnects every client.
func New(ctx context.Context, l *ledger.Ledger, opts ...Option) *Server {
	s := &Server{ledger: l, hub: newHub(ctx)}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.hub.run(&s.wg)
	l.Watch(func(f ledger.Finalized) {
		data, err := json.Marshal(Notification{Method: NotifyFinalized, Params: f})
		if err != nil {
			log.Error(log.ServerMonitoring, "encode notification", "err", err)
			return
		}
		s.hub.publish(data)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(log.ServerMonitoring, "websocket upgrade failed", "err", err)
		return
	}
	c := &client{server: s, conn: conn, send: make(chan []byte, sendBuffer)}
	if !s.hub.add(c, &s.wg) {
		conn.Close()
		return
	}
	go c.writePump(&s.wg)
	go c.readPump(&s.wg)
}

// Close disconnects all clients and waits for their goroutines.
func (s *Server) Close() {
	s.hub.cancel()
	s.wg.Wait()
}

func (s *Server) handle(ctx context.Context, c *client, req Request) Response {
	resp := Response{ID: req.ID}
	commitments := func(n int) ([]tct.Commitment, bool) {
		if len(req.Params) == 0 || (n > 0 && len(req.Params) != n) {
			resp.Error = fmt.Sprintf("%s: wrong number of commitments", req.Method)
			return nil, false
		}
		out := make([]tct.Commitment, len(req.Params))
		for i, p := range req.Params {
			cm, err := tct.ParseCommitment(p)
			if err != nil {
				resp.Error = err.Error()
				return nil, false
			}
			out[i] = cm
		}
		return out, true
	}

	switch req.Method {
	case MethodInsert, MethodInsertForget, MethodForget, MethodEndBlock, MethodEndEpoch:
		if !s.writable {
			resp.Error = "read-only server"
			return resp
		}
		s.mutate(ctx, req, &resp, commitments)
	case MethodRoot:
		resp.Result = s.ledger.Root()
	case MethodStats:
		resp.Result = s.ledger.Stats()
	case MethodWitness:
		cs, ok := commitments(1)
		if !ok {
			break
		}
		proof, ok := s.ledger.Witness(ctx, cs[0])
		if !ok {
			resp.Error = "not witnessed"
			break
		}
		resp.Result = proof
	case MethodPosition:
		cs, ok := commitments(1)
		if !ok {
			break
		}
		pos, ok := s.ledger.PositionOf(cs[0])
		if !ok {
			resp.Error = "not witnessed"
			break
		}
		resp.Result = pos.String()
	case MethodSubscribe:
		s.hub.subscribe(c)
		resp.Result = true
	default:
		resp.Error = fmt.Sprintf("unknown method %q", req.Method)
	}
	return resp
}

func (s *Server) mutate(ctx context.Context, req Request, resp *Response, commitments func(int) ([]tct.Commitment, bool)) {
	var err error
	switch req.Method {
	case MethodInsert, MethodInsertForget:
		cs, ok := commitments(0)
		if !ok {
			return
		}
		items := make([]tct.Insert[tct.Commitment], len(cs))
		for i, cm := range cs {
			if req.Method == MethodInsert {
				items[i] = tct.Keep(cm)
			} else {
				items[i] = tct.Forget(cm)
			}
		}
		var n int
		n, err = s.ledger.Insert(ctx, items...)
		resp.Result = n
	case MethodForget:
		cs, ok := commitments(1)
		if !ok {
			return
		}
		resp.Result, err = s.ledger.Forget(ctx, cs[0])
	case MethodEndBlock:
		resp.Result, err = s.ledger.EndBlock(ctx)
	case MethodEndEpoch:
		resp.Result, err = s.ledger.EndEpoch(ctx)
	}
	if err != nil {
		resp.Error = err.Error()
	}
}
