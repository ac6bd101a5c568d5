package flow

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startWebSocketFlow(t *testing.T, src Source) *WebSocketFlow {
	t.Helper()
	f, err := NewWebSocketFlow("websocket", Options{Host: "127.0.0.1", Port: 0}, src, testLogger())
	if err != nil {
		t.Fatalf("NewWebSocketFlow: %v", err)
	}
	wf := f.(*WebSocketFlow)
	if err := wf.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { wf.Stop(2 * time.Second) })
	return wf
}

func dialWS(t *testing.T, f *WebSocketFlow) *websocket.Conn {
	t.Helper()
	url := "ws://" + f.Addr() + "/ws"
	var conn *websocket.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Cleanup(func() { conn.Close() })
			return conn
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", url, err)
	return nil
}

func TestWebSocketFlow_PublishReachesClient(t *testing.T) {
	f := startWebSocketFlow(t, newStubSource(t, "primary"))
	conn := dialWS(t, f)

	// Hub registration races the first publish, so retry until the
	// broadcast lands or the deadline expires.
	received := make(chan Event, 1)
	go func() {
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case received <- ev:
			default:
			}
		}
	}()

	deadline := time.After(3 * time.Second)
	for {
		f.Publish(map[string]any{"score": 92.5})
		select {
		case ev := <-received:
			if ev.Type != "update" {
				t.Fatalf("event type = %q, want update", ev.Type)
			}
			data, ok := ev.Data.(map[string]any)
			if !ok {
				t.Fatalf("event data has type %T", ev.Data)
			}
			if data["score"] != 92.5 {
				t.Fatalf("score = %v, want 92.5", data["score"])
			}
			return
		case <-deadline:
			t.Fatal("no event received before deadline")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestWebSocketFlow_StatusCountsClients(t *testing.T) {
	f := startWebSocketFlow(t, newStubSource(t, "primary"))
	dialWS(t, f)

	deadline := time.Now().Add(2 * time.Second)
	for {
		status := f.Status()
		if status["clients"] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("clients = %v, want 1", status["clients"])
		}
		time.Sleep(20 * time.Millisecond)
	}

	if f.Status()["channel"] != "websocket" {
		t.Errorf("channel = %v, want websocket", f.Status()["channel"])
	}
}

func TestWebSocketFlow_StopDisconnectsClients(t *testing.T) {
	f := startWebSocketFlow(t, newStubSource(t, "primary"))
	conn := dialWS(t, f)

	if err := f.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.IsRunning() {
		t.Error("flow still running after Stop")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg json.RawMessage
	for {
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
	}
}

func TestWebSocketFlow_UpgradeDuringShutdownIsReleased(t *testing.T) {
	f, err := NewWebSocketFlow("websocket", Options{}, newStubSource(t, "primary"), testLogger())
	if err != nil {
		t.Fatalf("NewWebSocketFlow: %v", err)
	}
	wf := f.(*WebSocketFlow)
	// Hub loop never runs and its done channel is closed, as after Stop.
	wf.hub.stop()

	srv := httptest.NewServer(http.HandlerFunc(wf.serveWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The handler must drop the connection instead of blocking on the
	// register channel forever.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected a connection accepted during shutdown to be closed")
	}
	if got := wf.hub.clientCount(); got != 0 {
		t.Errorf("client count = %d, want 0", got)
	}
}

func TestWebSocketFlow_PublishAfterStopIsSafe(t *testing.T) {
	f := startWebSocketFlow(t, newStubSource(t, "primary"))
	if err := f.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	f.Publish(map[string]any{"score": 1.0})
}
