package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/miniclick/calltrackd/internal/status"
	"github.com/miniclick/calltrackd/internal/store"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", log.New(os.Stderr, "[test] ", log.LstdFlags))

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	time.Sleep(100 * time.Millisecond)
	return server
}

func testSnapshot(newCalls int64) status.Snapshot {
	return status.Snapshot{
		TakenAt: time.Now().UnixMilli(),
		Pending: store.PendingCounts{NewCalls: newCalls},
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer("127.0.0.1:0", log.New(os.Stderr, "[test] ", log.LstdFlags))

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if addr := server.GetAddr(); addr == "" {
		t.Fatal("Server address is empty")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection_ReplaysLastStatus(t *testing.T) {
	server := startTestServer(t)
	server.PublishStatus(testSnapshot(7))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	// A late-joining client gets the retained snapshot first.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read replayed status: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeStatus {
		t.Errorf("Expected message type %s, got %s", MessageTypeStatus, msg.Type)
	}

	var snap status.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("Failed to unmarshal snapshot: %v", err)
	}
	if snap.Pending.NewCalls != 7 {
		t.Errorf("Replayed NewCalls = %d, want 7", snap.Pending.NewCalls)
	}
}

func TestBroadcast_ReachesAllClients(t *testing.T) {
	server := startTestServer(t)
	server.PublishStatus(testSnapshot(1))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	numClients := 3
	clients := make([]*websocket.Conn, numClients)
	for i := 0; i < numClients; i++ {
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		clients[i] = conn

		// Drain the replayed snapshot.
		if _, _, err := conn.Read(ctx); err != nil {
			t.Fatalf("Failed to read replay for client %d: %v", i, err)
		}
	}

	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}

	server.PublishEvent(MessageTypeIngest, IngestData{Scanned: 10, Inserted: 4})

	for i, conn := range clients {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Client %d failed to read broadcast: %v", i, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Client %d got invalid message: %v", i, err)
		}
		if msg.Type != MessageTypeIngest {
			t.Errorf("Client %d got type %s, want %s", i, msg.Type, MessageTypeIngest)
		}
		var payload IngestData
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("Client %d got invalid payload: %v", i, err)
		}
		if payload.Inserted != 4 {
			t.Errorf("Client %d got Inserted = %d, want 4", i, payload.Inserted)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	server := startTestServer(t)

	// Before any snapshot the endpoint reports unavailable.
	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status code = %d before first snapshot, want 503", resp.StatusCode)
	}

	server.PublishStatus(testSnapshot(3))
	time.Sleep(50 * time.Millisecond)

	resp, err = http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}

	var snap status.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snap.Pending.NewCalls != 3 {
		t.Errorf("NewCalls = %d, want 3", snap.Pending.NewCalls)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startTestServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}
