package main

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/knadh/nilsignal/internal/signaling"
	"github.com/knadh/nilsignal/internal/wsrpc"
)

type ctxKey int

const ctxApp ctxKey = iota

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	return true
}}

// initHTTPRoutes registers the HTTP routes.
func initHTTPRoutes(app *App) http.Handler {
	r := chi.NewRouter()

	// RPC. All transport methods are accepted here so that the RPC handler
	// rejects non-POST requests with its own response.
	r.HandleFunc("/", wrap(handleRPC, app))

	if app.cfg.EnableWebsocket {
		r.Get("/ws", wrap(handleWS, app))
	}
	return r
}

// handleRPC handles an RPC envelope posted as the request body.
func handleRPC(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value(ctxApp).(*App)

	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, app.cfg.MaxBodySize))
	if err != nil {
		// An unreadable or oversized body is an invalid envelope.
		app.logger.Printf("error reading request body: %s: %v", r.RemoteAddr, err)
		body = nil
	}

	writeResponse(w, app.signal.Handle(signaling.Request{
		Method: r.Method,
		Body:   body,
	}))
}

// handleWS upgrades the connection and serves RPC envelopes over it until
// the connection is closed.
func handleWS(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value(ctxApp).(*App)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logger.Printf("websocket upgrade failed: %s: %v", r.RemoteAddr, err)
		return
	}

	wsrpc.NewPeer(ws, app.signal, wsrpc.Config{
		MaxMessageLen: app.cfg.MaxBodySize,
		WriteTimeout:  app.cfg.WSTimeout,
		MaxQueue:      app.cfg.MaxWSQueue,
	}, app.logger).Run()
}

// writeResponse writes a response envelope to an HTTP response.
func writeResponse(w http.ResponseWriter, resp signaling.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	io.WriteString(w, resp.Body)
}

// wrap is a middleware that attaches the app context to handlers.
func wrap(next http.HandlerFunc, app *App) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ctxApp, app)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
