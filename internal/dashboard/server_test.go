package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/emberchat/ember-core/internal/breaker"
	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/syncer"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", log.LstdFlags)
}

func startServer(t *testing.T, config *Config) *Server {
	t.Helper()
	if config == nil {
		config = &Config{Logger: testLogger()}
	}
	config.Port = 0 // random available port
	server := NewServer(config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	time.Sleep(50 * time.Millisecond)
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestStopWaitsForClientReaders(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Stop must return only once every per-connection reader has exited,
	// with no goroutine left reading a closed connection.
	done := make(chan error, 1)
	go func() { done <- server.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Failed to stop server: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return with a connected client")
	}
	if count := server.ClientCount(); count != 0 {
		t.Errorf("Expected 0 clients after stop, got %d", count)
	}
}

func TestWebSocketWelcomeSnapshot(t *testing.T) {
	server := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeStatus {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStatus, msg.Type)
	}
}

func TestPublishSyncEvent(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Options{})
	breakers.Get("conversations") // register one circuit

	server := startServer(t, &Config{Breakers: breakers, Logger: testLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	// Skip the welcome snapshot.
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	server.PublishSyncEvent(syncer.Event{Type: entity.TypeConversation, Pushed: 2})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read sync event: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeSyncEvent {
		t.Fatalf("Expected %s, got %s", MessageTypeSyncEvent, msg.Type)
	}
	var ev syncer.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("Failed to unmarshal event payload: %v", err)
	}
	if ev.Type != entity.TypeConversation || ev.Pushed != 2 {
		t.Errorf("event = %+v", ev)
	}

	// Breaker states follow every sync event.
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read breakers message: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeBreakers {
		t.Errorf("Expected %s, got %s", MessageTypeBreakers, msg.Type)
	}
	var states map[string]string
	if err := json.Unmarshal(msg.Data, &states); err != nil {
		t.Fatalf("Failed to unmarshal breaker states: %v", err)
	}
	if states["conversations"] != "closed" {
		t.Errorf("breaker states = %v", states)
	}
}

func TestStatusEndpoint(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Options{})
	breakers.Get("messages")

	statusFn := func(ctx context.Context) (map[string]map[string]int, error) {
		return map[string]map[string]int{
			"conversations": {"pending-push": 3, "synced": 12},
		}, nil
	}

	server := startServer(t, &Config{Breakers: breakers, Status: statusFn, Logger: testLogger()})

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}

	var snap Status
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if snap.PendingByType["conversations"]["pending-push"] != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Breakers["messages"] != "closed" {
		t.Errorf("breakers = %v", snap.Breakers)
	}
	if snap.Clients != 0 {
		t.Errorf("clients = %d, want 0", snap.Clients)
	}
}

func TestStatusEndpoint_StoreError(t *testing.T) {
	statusFn := func(ctx context.Context) (map[string]map[string]int, error) {
		return nil, errors.New("database is locked")
	}
	server := startServer(t, &Config{Status: statusFn, Logger: testLogger()})

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status code = %d, want 500", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startServer(t, nil)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

func TestBroadcastToMultipleClients(t *testing.T) {
	server := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := []*websocket.Conn{dial(t, ctx, server), dial(t, ctx, server)}
	for _, conn := range conns {
		if _, _, err := conn.Read(ctx); err != nil {
			t.Fatalf("Failed to read welcome message: %v", err)
		}
	}
	if count := server.ClientCount(); count != 2 {
		t.Fatalf("Expected 2 clients, got %d", count)
	}

	server.Broadcast(Message{Type: MessageTypeSyncEvent, Data: json.RawMessage(`{}`)})

	for i, conn := range conns {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Client %d failed to read broadcast: %v", i, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Client %d failed to unmarshal: %v", i, err)
		}
		if msg.Type != MessageTypeSyncEvent {
			t.Errorf("Client %d got %s", i, msg.Type)
		}
	}
}
