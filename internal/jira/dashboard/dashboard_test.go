package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/steveyegge/jirasync/internal/jira/schema"
	jirasync "github.com/steveyegge/jirasync/internal/jira/sync"
)

func testLogger() *log.Logger { return log.New(io.Discard, "[test] ", log.LstdFlags) }

// startServer starts a server on a random port and stops it at cleanup.
func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

// dial connects a client and consumes the welcome message.
func dial(t *testing.T, ctx context.Context, url string) (*websocket.Conn, Message) {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, read(t, ctx, conn)
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || addr == ":0" {
		t.Fatalf("Server address = %q", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection(t *testing.T) {
	server := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, welcome := dial(t, ctx, "ws://"+server.GetAddr()+"/ws")
	if welcome.Type != MessageTypeStats {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStats, welcome.Type)
	}
	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}
}

func TestMultipleClients(t *testing.T) {
	server := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const numClients = 3
	for i := 0; i < numClients; i++ {
		dial(t, ctx, "ws://"+server.GetAddr()+"/ws")
	}

	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}
}

func TestMountedServer(t *testing.T) {
	server := NewServer(&Config{Port: -1, Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	httpSrv := httptest.NewServer(server)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := dial(t, ctx, "ws"+strings.TrimPrefix(httpSrv.URL, "http"))

	handler := NewHandler(server, testLogger())
	handler.OnEvent(jirasync.Event{Operation: jirasync.OpSync, Stage: schema.StageFetchingUsers, At: time.Now()})

	msg := read(t, ctx, conn)
	if msg.Type != MessageTypeStage {
		t.Fatalf("Expected message type %s, got %s", MessageTypeStage, msg.Type)
	}
	var data StageData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal stage data: %v", err)
	}
	if data.Stage != schema.StageFetchingUsers || data.Operation != jirasync.OpSync {
		t.Errorf("stage data = %+v", data)
	}
}

func TestHandlerSyncComplete(t *testing.T) {
	server := startServer(t)
	handler := NewHandler(server, testLogger())
	handler.UpdateStats(schema.Stats{Users: 2, Issues: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, welcome := dial(t, ctx, "ws://"+server.GetAddr()+"/ws")
	var replayed schema.Stats
	if err := json.Unmarshal(welcome.Data, &replayed); err != nil || replayed.Issues != 5 {
		t.Errorf("welcome stats = %s, %v", welcome.Data, err)
	}

	handler.OnEvent(jirasync.Event{
		Operation: jirasync.OpSync,
		Stage:     schema.StageComplete,
		At:        time.Now(),
		Result: &jirasync.Result{
			Operation:       jirasync.OpSync,
			Stage:           schema.StageComplete,
			IssuesProcessed: 3,
			IssuesCreated:   1,
			HistoryRecorded: 2,
		},
	})

	msg := read(t, ctx, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("Expected message type %s, got %s", MessageTypeSyncComplete, msg.Type)
	}
	var res jirasync.Result
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		t.Fatalf("Failed to unmarshal result: %v", err)
	}
	if res.IssuesProcessed != 3 {
		t.Errorf("Expected 3 issues processed, got %d", res.IssuesProcessed)
	}

	msg = read(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("Expected message type %s, got %s", MessageTypeStats, msg.Type)
	}
	want := schema.Stats{Users: 2, Issues: 6, IssueHistory: 2}
	if got := handler.GetStats(); got != want {
		t.Errorf("GetStats() = %+v, want %+v", got, want)
	}
	if handler.Runs() != 1 {
		t.Errorf("Runs() = %d, want 1", handler.Runs())
	}
}

func TestHandlerSyncFailed(t *testing.T) {
	server := startServer(t)
	handler := NewHandler(server, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _ := dial(t, ctx, "ws://"+server.GetAddr()+"/ws")

	handler.Observer()(jirasync.Event{
		Operation: jirasync.OpIssues,
		Stage:     schema.StageFailed,
		Result:    &jirasync.Result{Stage: schema.StageFailed},
		Err:       &schema.StageError{Stage: schema.StageFetchingIssues, Err: errors.New("boom")},
	})

	msg := read(t, ctx, conn)
	if msg.Type != MessageTypeSyncFailed {
		t.Fatalf("Expected message type %s, got %s", MessageTypeSyncFailed, msg.Type)
	}
	var data SyncFailedData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal failure data: %v", err)
	}
	if data.Stage != schema.StageFetchingIssues || !strings.Contains(data.Error, "boom") {
		t.Errorf("failure data = %+v", data)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if body.Status != "ok" || body.Clients != 0 {
		t.Errorf("health = %+v", body)
	}
}
