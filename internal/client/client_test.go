package client

import (
	"context"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/knadh/nilsignal/internal/signaling"
	"github.com/knadh/nilsignal/store/mem"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	st := mem.New(mem.Config{})
	t.Cleanup(st.Close)
	h := signaling.New(st, signaling.Opt{}, log.New(ioutil.Discard, "", 0))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := ioutil.ReadAll(r.Body)
		resp := h.Handle(signaling.Request{Method: r.Method, Body: b})
		w.Header().Set("Content-Type", resp.ContentType())
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Body))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.Client())
}

func TestClient(t *testing.T) {
	var (
		c   = newTestClient(t)
		ctx = context.Background()
	)

	id, err := c.CreateDataChannel(ctx)
	if err != nil || id == "" {
		t.Fatalf("error creating channel: %v", err)
	}

	if _, err := c.GetOffer(ctx, id); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := c.CreateOffer(ctx, id, "offer"); err != nil {
		t.Fatal(err)
	}
	if o, err := c.GetOffer(ctx, id); err != nil || o != "offer" {
		t.Fatalf("unexpected offer %q: %v", o, err)
	}

	if items, err := c.GetCandidates(ctx, id); err != nil || len(items) != 0 {
		t.Fatalf("expected no candidates, got %v: %v", items, err)
	}
	cand := map[string]interface{}{"candidate": "candidate:1 1 UDP 1 1.2.3.4 5 typ host", "sdpMid": "0"}
	if err := c.CreateCandidate(ctx, id, cand); err != nil {
		t.Fatal(err)
	}
	items, err := c.GetCandidates(ctx, id)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected 1 candidate, got %v: %v", items, err)
	}

	if err := c.CreateAnswer(ctx, id, "answer"); err != nil {
		t.Fatal(err)
	}
	err = c.CreateAnswer(ctx, id, "again")
	if e, ok := err.(*Error); !ok || e.Status != http.StatusBadRequest || e.Msg != "answer already exist" {
		t.Fatalf("expected answer conflict, got %v", err)
	}
	if a, err := c.GetAnswer(ctx, id); err != nil || a != "answer" {
		t.Fatalf("unexpected answer %q: %v", a, err)
	}

	if _, err := c.GetAnswer(ctx, "nope"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEcho(t *testing.T) {
	c := newTestClient(t)

	out, err := c.Echo(context.Background(), map[string]interface{}{"x": "y"})
	if err != nil {
		t.Fatal(err)
	}
	if out["method"] != "echo" || out["x"] != "y" {
		t.Fatalf("unexpected echo: %v", out)
	}
}
