package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"onair-relay/internal/config"
	"onair-relay/internal/metrics"
	"onair-relay/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRelay is a relay host that hands each accepted websocket to the test.
type fakeRelay struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	fr := &fakeRelay{conns: make(chan *websocket.Conn, 1)}
	up := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc(config.DefaultRelayPath, func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fr.conns <- c
	})
	fr.srv = httptest.NewServer(mux)
	t.Cleanup(fr.srv.Close)
	return fr
}

func (fr *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(fr.srv.URL, "http") + config.DefaultRelayPath
}

// accept waits for the gateway side to connect.
func (fr *fakeRelay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fr.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for relay connection")
		return nil
	}
}

func sendGet(t *testing.T, c *websocket.Conn, id uint64, path, prefix string) {
	t.Helper()
	data, _ := json.Marshal(model.ForwardedRequest{Path: path, Prefix: prefix})
	if err := c.WriteJSON(frame{Type: frameEvent, ID: id, Event: EventGet, Data: data}); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func readAck(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := c.ReadJSON(&f); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if f.Type != frameAck {
		t.Fatalf("frame type = %q, want %q", f.Type, frameAck)
	}
	return f
}

// recordingHandler answers every path with its own name as body,
// and fails for paths starting with /fail.
type recordingHandler struct {
	mu    sync.Mutex
	paths []string
}

func (h *recordingHandler) HandleGet(_ context.Context, req *model.ForwardedRequest) (*model.RelayResponse, error) {
	h.mu.Lock()
	h.paths = append(h.paths, req.Path)
	h.mu.Unlock()

	if strings.HasPrefix(req.Path, "/fail") {
		return nil, errors.New("local handler exploded")
	}
	mt := "text/plain"
	return &model.RelayResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Encoding": "gzip"},
		Content:    []byte(req.Path + "|" + req.Prefix),
		MediaType:  &mt,
	}, nil
}

// serve connects a client to fr and runs Serve in the background.
func serve(t *testing.T, fr *fakeRelay, h GetHandler, m *metrics.Metrics) (*Client, *websocket.Conn, context.CancelFunc, <-chan error) {
	t.Helper()
	c := New(fr.url(), Options{HandshakeTimeout: 5 * time.Second}, discardLogger(), m)
	if h != nil {
		c.OnGet(h)
	}

	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	host := fr.accept(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx) }()
	t.Cleanup(cancel)

	return c, host, cancel, errc
}

func waitServe(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return")
		return nil
	}
}

func TestConnect_Unreachable(t *testing.T) {
	c := New("ws://127.0.0.1:1"+config.DefaultRelayPath, Options{HandshakeTimeout: time.Second}, discardLogger(), nil)

	_, err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect() expected error for unreachable host, got nil")
	}

	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("Connect() error = %T, want *ConnectionError", err)
	}
	if ce.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", ce.StatusCode)
	}
	if connected, _ := c.State(); connected {
		t.Error("State() connected = true after failed connect")
	}
}

func TestConnect_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New("ws"+strings.TrimPrefix(srv.URL, "http")+config.DefaultRelayPath, Options{}, discardLogger(), nil)

	_, err := c.Connect(context.Background())
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("Connect() error = %v, want *ConnectionError", err)
	}
	if ce.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want %d", ce.StatusCode, http.StatusForbidden)
	}
	if !strings.Contains(ce.Error(), "403") {
		t.Errorf("Error() = %q, want status in message", ce.Error())
	}
}

func TestSession_AnswersGetEvents(t *testing.T) {
	fr := newFakeRelay(t)
	h := &recordingHandler{}
	c, host, _, _ := serve(t, fr, h, nil)

	if connected, id := c.State(); !connected || id == "" {
		t.Errorf("State() = (%v, %q), want connected with a session id", connected, id)
	}

	sendGet(t, host, 42, "/", "/app")
	ack := readAck(t, host)

	if ack.ID != 42 {
		t.Errorf("ack.ID = %d, want 42", ack.ID)
	}
	if ack.Error != "" {
		t.Fatalf("ack.Error = %q, want empty", ack.Error)
	}

	var resp model.RelayResponse
	if err := json.Unmarshal(ack.Data, &resp); err != nil {
		t.Fatalf("unmarshal ack data: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if string(resp.Content) != "/|/app" {
		t.Errorf("Content = %q, want %q", resp.Content, "/|/app")
	}
	if resp.MediaType == nil || *resp.MediaType != "text/plain" {
		t.Errorf("MediaType = %v, want text/plain", resp.MediaType)
	}
}

func TestSession_HandlerErrorKeepsServing(t *testing.T) {
	fr := newFakeRelay(t)
	m := metrics.New()
	_, host, _, _ := serve(t, fr, &recordingHandler{}, m)

	sendGet(t, host, 1, "/fail", "")
	ack := readAck(t, host)
	if ack.ID != 1 || !strings.Contains(ack.Error, "exploded") {
		t.Errorf("ack = %+v, want error ack for id 1", ack)
	}
	if len(ack.Data) != 0 {
		t.Errorf("error ack carries data %s", ack.Data)
	}

	sendGet(t, host, 2, "/ok", "")
	ack = readAck(t, host)
	if ack.ID != 2 || ack.Error != "" {
		t.Errorf("ack = %+v, want success ack for id 2", ack)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	outcomes := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "onair_relay_events_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "outcome" {
					outcomes[lp.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	if outcomes[metrics.OutcomeOK] != 1 || outcomes[metrics.OutcomeError] != 1 {
		t.Errorf("outcomes = %v, want one ok and one error", outcomes)
	}
}

func TestSession_UnknownEvent(t *testing.T) {
	fr := newFakeRelay(t)
	_, host, _, _ := serve(t, fr, &recordingHandler{}, nil)

	if err := host.WriteJSON(frame{Type: frameEvent, ID: 9, Event: "post"}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	ack := readAck(t, host)
	if ack.ID != 9 || !strings.Contains(ack.Error, ErrUnknownEvent.Error()) {
		t.Errorf("ack = %+v, want unknown event error", ack)
	}
}

func TestSession_NoHandlerRegistered(t *testing.T) {
	fr := newFakeRelay(t)
	_, host, _, _ := serve(t, fr, nil, nil)

	sendGet(t, host, 3, "/", "")
	ack := readAck(t, host)
	if !strings.Contains(ack.Error, "no handler") {
		t.Errorf("ack.Error = %q, want no handler error", ack.Error)
	}
}

func TestSession_BadPayload(t *testing.T) {
	fr := newFakeRelay(t)
	_, host, _, _ := serve(t, fr, &recordingHandler{}, nil)

	if err := host.WriteJSON(frame{Type: frameEvent, ID: 5, Event: EventGet, Data: json.RawMessage(`[1,2]`)}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	ack := readAck(t, host)
	if !strings.Contains(ack.Error, ErrBadPayload.Error()) {
		t.Errorf("ack.Error = %q, want bad payload error", ack.Error)
	}
}

func TestSession_IgnoresMalformedAndNonEventFrames(t *testing.T) {
	fr := newFakeRelay(t)
	_, host, _, _ := serve(t, fr, &recordingHandler{}, nil)

	if err := host.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := host.WriteJSON(frame{Type: frameAck, ID: 100}); err != nil {
		t.Fatalf("write: %v", err)
	}
	sendGet(t, host, 7, "/after", "")

	ack := readAck(t, host)
	if ack.ID != 7 {
		t.Errorf("ack.ID = %d, want 7", ack.ID)
	}
}

func TestSession_AnswersInArrivalOrder(t *testing.T) {
	fr := newFakeRelay(t)
	h := &recordingHandler{}
	_, host, _, _ := serve(t, fr, h, nil)

	for i, p := range []string{"/a", "/b", "/c"} {
		sendGet(t, host, uint64(i+1), p, "")
	}
	for want := uint64(1); want <= 3; want++ {
		if ack := readAck(t, host); ack.ID != want {
			t.Errorf("ack.ID = %d, want %d", ack.ID, want)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if strings.Join(h.paths, ",") != "/a,/b,/c" {
		t.Errorf("handled paths = %v, want [/a /b /c]", h.paths)
	}
}

func TestServe_ContextCancel(t *testing.T) {
	fr := newFakeRelay(t)
	c, _, cancel, errc := serve(t, fr, &recordingHandler{}, nil)

	cancel()
	if err := waitServe(t, errc); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
	if connected, _ := c.State(); connected {
		t.Error("State() connected = true after Serve returned")
	}
}

func TestServe_NormalCloseByHost(t *testing.T) {
	fr := newFakeRelay(t)
	_, host, _, errc := serve(t, fr, &recordingHandler{}, nil)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := host.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write close: %v", err)
	}
	if err := waitServe(t, errc); err != nil {
		t.Errorf("Serve() error = %v, want nil on normal close", err)
	}
}

func TestServe_AbruptDisconnect(t *testing.T) {
	fr := newFakeRelay(t)
	_, host, _, errc := serve(t, fr, &recordingHandler{}, nil)

	_ = host.UnderlyingConn().Close()
	if err := waitServe(t, errc); err == nil {
		t.Error("Serve() error = nil, want read error after abrupt disconnect")
	}
}

func TestServe_KeepalivePing(t *testing.T) {
	fr := newFakeRelay(t)
	c := New(fr.url(), Options{PingInterval: 50 * time.Millisecond}, discardLogger(), nil)
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	host := fr.accept(t)

	pinged := make(chan struct{}, 1)
	host.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return host.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	// Control frames are only processed while reading.
	go func() {
		for {
			if _, _, err := host.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx) }()

	select {
	case <-pinged:
	case <-time.After(5 * time.Second):
		t.Fatal("no keepalive ping received")
	}
}

func TestServe_KeepaliveTimeout(t *testing.T) {
	fr := newFakeRelay(t)
	interval := 20 * time.Millisecond
	c := New(fr.url(), Options{PingInterval: interval}, discardLogger(), nil)
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	// The host never reads, so pings go unanswered.
	fr.accept(t)

	start := time.Now()
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(context.Background()) }()

	err = waitServe(t, errc)
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("Serve() error = %v, want read timeout", err)
	}
	if elapsed := time.Since(start); elapsed < 2*interval {
		t.Errorf("Serve() returned after %v, want at least %v", elapsed, 2*interval)
	}
	if connected, _ := c.State(); connected {
		t.Error("State() connected = true after keepalive timeout")
	}
}

func TestServe_OversizedFrame(t *testing.T) {
	fr := newFakeRelay(t)
	c := New(fr.url(), Options{MaxMessageBytes: 64}, discardLogger(), nil)
	c.OnGet(&recordingHandler{})
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	host := fr.accept(t)

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(context.Background()) }()

	sendGet(t, host, 1, "/"+strings.Repeat("a", 256), "")

	if err := waitServe(t, errc); !errors.Is(err, websocket.ErrReadLimit) {
		t.Errorf("Serve() error = %v, want websocket.ErrReadLimit", err)
	}
}
