// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/voicebattle/internal/auth"
	"github.com/jason-s-yu/voicebattle/internal/gateway"
	"github.com/jason-s-yu/voicebattle/internal/middleware"
	"github.com/jason-s-yu/voicebattle/internal/registry"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	pingInterval = 30 * time.Second
	pingTimeout  = 15 * time.Second
	writeTimeout = 5 * time.Second
)

// WSOptions tune the socket endpoint.
type WSOptions struct {
	OriginPatterns  []string
	EventsPerSecond float64
	EventBurst      int
	OutboundBuffer  int
}

// WSHandler authenticates the handshake and bridges one socket to the gateway.
type WSHandler struct {
	gw   *gateway.Gateway
	keys *auth.Keys
	opts WSOptions
	log  logrus.FieldLogger

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewWSHandler builds the /ws endpoint.
func NewWSHandler(gw *gateway.Gateway, keys *auth.Keys, opts WSOptions, logger logrus.FieldLogger) *WSHandler {
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = registry.DefaultOutboundBuffer
	}
	return &WSHandler{
		gw:       gw,
		keys:     keys,
		opts:     opts,
		log:      logger,
		shutdown: make(chan struct{}),
	}
}

// Shutdown closes every open socket with ServerShutdownError.
func (h *WSHandler) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}

func (h *WSHandler) limiter() *rate.Limiter {
	if h.opts.EventsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := h.opts.EventBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.opts.EventsPerSecond), burst)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.keys.AuthenticateRequest(r)
	if err != nil {
		h.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "error": err}).Warn("websocket handshake refused")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	display := h.gw.ResolveDisplay(r.Context(), userID)

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.log.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.CloseNow()

	if r.Header.Get("Sec-WebSocket-Protocol") != "" && c.Subprotocol() != Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the "+Subprotocol+" subprotocol")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := h.gw.NewConnection(userID, display, h.opts.OutboundBuffer)
	conn.Cancel = cancel

	middleware.LogWebSocketConnect(h.log, r.RemoteAddr, r.URL.Path)
	h.gw.Admit(ctx, conn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ctx, c, conn)
	}()

	err = h.readPump(ctx, c, conn)

	h.gw.Disconnect(context.Background(), conn)
	cancel()
	<-done
	middleware.LogWebSocketDisconnect(h.log, r.RemoteAddr, r.URL.Path, err)
}

// readPump feeds text frames to the gateway until the socket closes. A nil
// return means a clean close.
func (h *WSHandler) readPump(ctx context.Context, c *websocket.Conn, conn *registry.Connection) error {
	limiter := h.limiter()
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				status == SessionReplacedError || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if typ != websocket.MessageText {
			h.log.WithField("conn_id", conn.ID).Warnf("received non-text message type %d, ignoring", typ)
			continue
		}
		if !limiter.Allow() {
			h.gw.RateLimited(conn)
			continue
		}
		h.gw.HandleRaw(ctx, conn, msg)
	}
}

// writePump drains the connection's outbound queue onto the socket and keeps
// it alive with pings. A closed queue while the socket is still up means a
// newer connection took over; the pump sends the close frame itself and the
// read pump ends once the handshake completes.
func (h *WSHandler) writePump(ctx context.Context, c *websocket.Conn, conn *registry.Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			c.Close(ServerShutdownError, "server shutting down")
			return
		case ev, ok := <-conn.OutChan:
			if !ok {
				if ctx.Err() == nil {
					c.Close(SessionReplacedError, "connection replaced by a newer session")
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.WithField("conn_id", conn.ID).Warnf("failed to marshal outgoing %s: %v", ev.Type, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.WithField("conn_id", conn.ID).Warnf("failed to write to websocket: %v", err)
				conn.Cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.WithField("conn_id", conn.ID).Warnf("failed to ping: %v, assuming disconnect", err)
				conn.Cancel()
				return
			}
		}
	}
}
