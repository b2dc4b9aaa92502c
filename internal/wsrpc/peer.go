// Package wsrpc carries RPC envelopes over a websocket connection. Every
// inbound data frame is one envelope and every envelope gets exactly one
// response frame, in the order the envelopes were read.
package wsrpc

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/knadh/nilsignal/internal/signaling"
)

// Config represents the websocket transport config.
type Config struct {
	MaxMessageLen int64
	WriteTimeout  time.Duration
	MaxQueue      int
}

// Handler handles an RPC request.
type Handler interface {
	Handle(signaling.Request) signaling.Response
}

// Peer represents an individual websocket connection.
type Peer struct {
	ws  *websocket.Conn
	h   Handler
	cfg Config
	log *log.Logger

	// Channel for outbound responses.
	dataQ chan []byte
}

// NewPeer returns a new instance of Peer.
func NewPeer(ws *websocket.Conn, h Handler, cfg Config, l *log.Logger) *Peer {
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 100
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Peer{
		ws:    ws,
		h:     h,
		cfg:   cfg,
		log:   l,
		dataQ: make(chan []byte, cfg.MaxQueue),
	}
}

// Run starts the writer and blocks reading envelopes until the connection
// is dropped or there's an error.
func (p *Peer) Run() {
	done := make(chan struct{})
	go func() {
		p.RunWriter()
		close(done)
	}()
	p.RunListener()
	<-done
}

// RunListener is a blocking function that reads incoming envelopes from the
// peer's WS connection until it's dropped or there's an error.
func (p *Peer) RunListener() {
	defer close(p.dataQ)

	if p.cfg.MaxMessageLen > 0 {
		p.ws.SetReadLimit(p.cfg.MaxMessageLen)
	}
	for {
		_, m, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Printf("websocket read error: %s: %v", p.ws.RemoteAddr(), err)
			}
			return
		}
		p.processMessage(m)
	}
}

// RunWriter is a blocking function that writes responses in the peer's queue
// to the peer's WS connection.
func (p *Peer) RunWriter() {
	defer p.ws.Close()
	for message := range p.dataQ {
		if err := p.writeWSData(websocket.TextMessage, message); err != nil {
			// Unblock the listener and drain until it exits.
			p.ws.Close()
			for range p.dataQ {
			}
			return
		}
	}
	p.writeWSData(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// processMessage dispatches an envelope and queues its response.
func (p *Peer) processMessage(b []byte) {
	resp := p.h.Handle(signaling.Request{Method: http.MethodPost, Body: b})

	out, err := json.Marshal(resp)
	if err != nil {
		p.log.Printf("error marshalling websocket response: %v", err)
		return
	}
	p.dataQ <- out
}

// writeWSData writes the given payload to the peer's WS connection.
func (p *Peer) writeWSData(msgType int, payload []byte) error {
	p.ws.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	return p.ws.WriteMessage(msgType, payload)
}
