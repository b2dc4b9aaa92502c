package main

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/nilsignal/internal/signaling"
	"github.com/knadh/nilsignal/store/mem"
)

var testLog = log.New(ioutil.Discard, "", 0)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := mem.New(mem.Config{})
	t.Cleanup(st.Close)

	app := &App{
		cfg: &Config{
			ChannelTTL:      time.Minute,
			MaxBodySize:     1024,
			EnableWebsocket: true,
			WSTimeout:       time.Second,
			MaxWSQueue:      10,
		},
		logger: testLog,
	}
	app.signal = signaling.New(st, signaling.Opt{ChannelTTL: app.cfg.ChannelTTL}, testLog)

	srv := httptest.NewServer(initHTTPRoutes(app))
	t.Cleanup(srv.Close)
	return srv
}

func doReq(t *testing.T, srv *httptest.Server, method, body string) (int, string, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+"/", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), string(b)
}

func TestHandleRPC(t *testing.T) {
	srv := newTestServer(t)

	code, ct, body := doReq(t, srv, http.MethodGet, `{"method":"echo"}`)
	if code != http.StatusBadRequest || ct != "text/plain" || body != "Only accept POST method" {
		t.Fatalf("unexpected GET response: %d %s %q", code, ct, body)
	}

	code, ct, body = doReq(t, srv, http.MethodPost, `{"method":"echo","x":1}`)
	if code != http.StatusOK || ct != "application/json" || body != `{"method":"echo","x":1}` {
		t.Fatalf("unexpected echo response: %d %s %q", code, ct, body)
	}

	code, _, body = doReq(t, srv, http.MethodPost, `{"method":"bogus"}`)
	if code != http.StatusBadRequest || body != "unknown method bogus" {
		t.Fatalf("unexpected bogus response: %d %q", code, body)
	}

	code, _, body = doReq(t, srv, http.MethodPost, `{"method":"create_data_channel"}`)
	if code != http.StatusOK {
		t.Fatalf("error creating channel: %d %q", code, body)
	}
	var ch struct {
		ChannelID string `json:"channel_id"`
	}
	if err := json.Unmarshal([]byte(body), &ch); err != nil {
		t.Fatal(err)
	}

	code, ct, body = doReq(t, srv, http.MethodPost, `{"method":"create_offer","channel_id":"`+ch.ChannelID+`","offer":"o"}`)
	if code != http.StatusOK || ct != "text/plain" || body != "" {
		t.Fatalf("unexpected offer response: %d %s %q", code, ct, body)
	}
	code, _, body = doReq(t, srv, http.MethodPost, `{"method":"get_offer","channel_id":"`+ch.ChannelID+`"}`)
	if code != http.StatusOK || body != `{"offer":"o"}` {
		t.Fatalf("unexpected get_offer response: %d %q", code, body)
	}
}

func TestHandleRPCBodyLimit(t *testing.T) {
	srv := newTestServer(t)

	big := `{"method":"echo","x":"` + strings.Repeat("a", 2048) + `"}`
	code, _, body := doReq(t, srv, http.MethodPost, big)
	if code != http.StatusBadRequest || body != "Not a valid rpc. HTTP post body must be a json object with method key" {
		t.Fatalf("unexpected oversized response: %d %q", code, body)
	}
}

func TestHandleWS(t *testing.T) {
	srv := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("error dialing: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"method":"echo","y":"z"}`)); err != nil {
		t.Fatal(err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp signaling.Response
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || resp.Body != `{"method":"echo","y":"z"}` {
		t.Fatalf("unexpected ws response: %+v", resp)
	}
}

func TestInitStore(t *testing.T) {
	k := koanf.New(".")
	k.Load(confmap.Provider(map[string]interface{}{
		"store.type":                    "memory",
		"store.memory.cleanup_interval": "1m",
	}, "."), nil)

	st, closeStore, err := initStore(k, testLog)
	if err != nil {
		t.Fatalf("error initializing memory store: %v", err)
	}
	defer closeStore()
	if _, ok := st.(*mem.InMemory); !ok {
		t.Fatalf("expected a memory store, got %T", st)
	}

	k = koanf.New(".")
	k.Load(confmap.Provider(map[string]interface{}{
		"store.type":    "fs",
		"store.fs.path": t.TempDir() + "/store.json",
	}, "."), nil)
	_, closeStore, err = initStore(k, testLog)
	if err != nil {
		t.Fatalf("error initializing fs store: %v", err)
	}
	if err := closeStore(); err != nil {
		t.Fatal(err)
	}

	k = koanf.New(".")
	k.Load(confmap.Provider(map[string]interface{}{"store.type": "dynamo"}, "."), nil)
	if _, _, err := initStore(k, testLog); err == nil {
		t.Fatal("expected an error for an unknown store type")
	}
}
