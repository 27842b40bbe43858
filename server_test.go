package irkeyd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/irkeyd/irkeyd/internal/irsend"
	"github.com/irkeyd/irkeyd/internal/keymap"
)

type recordingTransmitter struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingTransmitter) Transmit(_ context.Context, scancode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, scancode)
	return nil
}

func (r *recordingTransmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var _ irsend.Transmitter = (*recordingTransmitter)(nil)

func newTestServer(t *testing.T) (*Server, string, *recordingTransmitter) {
	t.Helper()
	table, err := keymap.ParseJSON([]byte(`{"power": ["0x40bf00ff"], "vol_up": ["0x40bf40bf"]}`))
	if err != nil {
		t.Fatalf("parse keymap: %v", err)
	}
	tx := &recordingTransmitter{}
	srv, err := NewServer(Config{
		Listen:         "127.0.0.1:0",
		RepeatInterval: 25 * time.Millisecond,
		MaxHold:        time.Second,
	},
		WithKeymap(table),
		WithTransmitter(tx),
		WithLayout(json.RawMessage(`[["power","vol_up"]]`)),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	readyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.WaitUntilReady(readyCtx); err != nil {
		t.Fatalf("server not ready: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		if err := <-errCh; err != nil {
			t.Errorf("start: %v", err)
		}
	})
	return srv, "http://" + srv.ListenerAddr().String(), tx
}

func postAction(t *testing.T, baseURL, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(baseURL+"/action", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post action: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func TestServerClickOverHTTP(t *testing.T) {
	_, baseURL, tx := newTestServer(t)

	status, body := postAction(t, baseURL, `{"action":"click","key":"power","client_id":"c1"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["ok"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	if tx.count() != 1 {
		t.Fatalf("transmits = %d, want 1", tx.count())
	}
}

func TestServerHoldRepeatsUntilRelease(t *testing.T) {
	srv, baseURL, tx := newTestServer(t)

	status, body := postAction(t, baseURL, `{"action":"down","key":"vol_up","client_id":"c1"}`)
	if status != http.StatusOK || body["msg"] != "started" {
		t.Fatalf("down: status=%d body=%v", status, body)
	}
	if srv.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", srv.ActiveSessions())
	}

	deadline := time.Now().Add(2 * time.Second)
	for tx.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeats, got %d sends", tx.count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	status, body = postAction(t, baseURL, `{"action":"up","key":"vol_up","client_id":"c1"}`)
	if status != http.StatusOK || body["msg"] != "stopping" {
		t.Fatalf("up: status=%d body=%v", status, body)
	}
	deadline = time.Now().Add(2 * time.Second)
	for srv.ActiveSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session did not drain after release")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerServesKeyTableAndPage(t *testing.T) {
	_, baseURL, _ := newTestServer(t)

	resp, err := http.Get(baseURL + "/key.json")
	if err != nil {
		t.Fatalf("get key.json: %v", err)
	}
	defer resp.Body.Close()
	var table map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		t.Fatalf("decode key table: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("unexpected table: %v", table)
	}

	page, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	defer page.Body.Close()
	if page.StatusCode != http.StatusOK {
		t.Fatalf("index status = %d, want 200", page.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(page.Body); err != nil {
		t.Fatalf("read index: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("vol_up")) {
		t.Fatal("index page missing key names")
	}
}

func TestServerShutdownDrainsHeldSessions(t *testing.T) {
	table, err := keymap.ParseJSON([]byte(`{"power": ["0x1"]}`))
	if err != nil {
		t.Fatalf("parse keymap: %v", err)
	}
	tx := &recordingTransmitter{}
	srv, err := NewServer(Config{
		Listen:         "127.0.0.1:0",
		RepeatInterval: 25 * time.Millisecond,
		MaxHold:        time.Minute,
	}, WithKeymap(table), WithTransmitter(tx))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	readyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.WaitUntilReady(readyCtx); err != nil {
		t.Fatalf("server not ready: %v", err)
	}
	baseURL := "http://" + srv.ListenerAddr().String()

	if status, _ := postAction(t, baseURL, `{"action":"down","key":"power","client_id":"c1"}`); status != http.StatusOK {
		t.Fatalf("down status = %d", status)
	}
	if srv.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", srv.ActiveSessions())
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("start returned: %v", err)
	}
	if srv.ActiveSessions() != 0 {
		t.Fatalf("sessions survived shutdown: %d", srv.ActiveSessions())
	}
	// Idempotent.
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestServerHandlerWithoutStart(t *testing.T) {
	table, err := keymap.ParseJSON([]byte(`{"power": ["0x1"]}`))
	if err != nil {
		t.Fatalf("parse keymap: %v", err)
	}
	srv, err := NewServer(Config{}, WithKeymap(table), WithTransmitter(&recordingTransmitter{}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()
	if srv.Handler() == nil {
		t.Fatal("expected routed handler before Start")
	}
	if srv.ListenerAddr() != nil {
		t.Fatal("listener address must be nil before Start")
	}
}

func TestNewServerRejectsMissingKeyFile(t *testing.T) {
	_, err := NewServer(Config{KeyFile: "/nonexistent/irkeyd-key.json"})
	if err == nil {
		t.Fatal("expected error for missing key file")
	}
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	_, err := NewServer(Config{RepeatInterval: -time.Second})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if want := "repeat interval"; err != nil && !bytes.Contains([]byte(err.Error()), []byte(want)) {
		t.Fatalf("error %q missing %q", err, want)
	}
}

func TestServerMetricsListener(t *testing.T) {
	table, err := keymap.ParseJSON([]byte(`{"power": ["0x1"]}`))
	if err != nil {
		t.Fatalf("parse keymap: %v", err)
	}
	srv, err := NewServer(Config{
		Listen:        "127.0.0.1:0",
		MetricsListen: "127.0.0.1:0",
	}, WithKeymap(table), WithTransmitter(&recordingTransmitter{}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()
	if srv.telemetry.metricsLn == nil {
		t.Fatal("expected metrics listener")
	}
	metricsURL := fmt.Sprintf("http://%s/metrics", srv.telemetry.metricsLn.Addr())
	resp, err := http.Get(metricsURL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("irkeyd_active_sessions")) {
		t.Fatal("metrics output missing irkeyd_active_sessions")
	}
}
