package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/colorfulnotion/tct/log"
	"github.com/gorilla/websocket"
)

// hub tracks connected clients and fans notifications out to the subscribed ones.
type hub struct {
	mu        sync.Mutex
	clients   map[*client]bool // value: subscribed
	broadcast chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
}

func newHub(ctx context.Context) *hub {
	cctx, cancel := context.WithCancel(ctx)
	return &hub{
		clients:   make(map[*client]bool),
		broadcast: make(chan []byte, sendBuffer),
		ctx:       cctx,
		cancel:    cancel,
	}
}

func (h *hub) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c, subscribed := range h.clients {
				if !subscribed {
					continue
				}
				select {
				case c.send <- msg:
				default:
					// slow consumer
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// add registers c and counts its two pumps in wg. It fails once the hub is shutting down, so
// Close never waits on a WaitGroup that is still growing.
func (h *hub) add(c *client, wg *sync.WaitGroup) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.clients[c] = false
	wg.Add(2)
	return true
}

func (h *hub) subscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.clients[c] = true
	}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// reply queues data for c unless c has already been dropped.
func (h *hub) reply(c *client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *hub) publish(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	}
}

type client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
}

func (c *client) readPump(wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		c.server.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug(log.ServerMonitoring, "websocket closed", "err", err)
			}
			return
		}
		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			log.Warn(log.ServerMonitoring, "invalid request", "err", err)
			continue
		}
		resp := c.server.handle(c.server.hub.ctx, c, req)
		data, err := json.Marshal(resp)
		if err != nil {
			log.Error(log.ServerMonitoring, "encode response", "method", req.Method, "err", err)
			continue
		}
		c.server.hub.reply(c, data)
	}
}

func (c *client) writePump(wg *sync.WaitGroup) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
