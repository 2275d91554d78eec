package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/pocketlist/pocketlist/internal/item"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{
		Port:   0, // Use random available port
		Logger: log.New(io.Discard, "[test] ", log.LstdFlags),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	time.Sleep(100 * time.Millisecond)
	return server
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

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
	server := testServer(t)

	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWelcomeMessage(t *testing.T) {
	server := testServer(t)
	conn := dial(t, server)

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeStats {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStats, msg.Type)
	}
}

func TestBroadcastItemsUpdate(t *testing.T) {
	server := testServer(t)
	conn := dial(t, server)

	readMessage(t, conn) // welcome

	items := []item.Item{
		{ID: "b", Title: "newest", CreatedAt: 30, ImageURL: "https://blobs.example.com/x.jpg"},
		{ID: "a", Title: "oldest", CreatedAt: 10},
	}
	server.Broadcast(ItemsMessage(items))

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeItemsUpdate {
		t.Fatalf("message type = %s, want %s", msg.Type, MessageTypeItemsUpdate)
	}

	var data ItemsUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.Count != 2 {
		t.Errorf("count = %d, want 2", data.Count)
	}
	if data.Items[0].ID != "b" || data.Items[0].ImageURL == "" {
		t.Errorf("first item = %+v, want b with image", data.Items[0])
	}
}

func TestBroadcastUploadProgress(t *testing.T) {
	server := testServer(t)
	conn := dial(t, server)

	readMessage(t, conn) // welcome

	server.Broadcast(UploadMessage(true, 0.5))

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeUploadProgress {
		t.Fatalf("message type = %s, want %s", msg.Type, MessageTypeUploadProgress)
	}

	var data UploadProgressData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if !data.Uploading || data.Progress != 0.5 {
		t.Errorf("upload data = %+v, want uploading at 0.5", data)
	}
}

func TestMultipleClientsReceiveBroadcast(t *testing.T) {
	server := testServer(t)
	conn1 := dial(t, server)
	conn2 := dial(t, server)

	readMessage(t, conn1) // welcome
	readMessage(t, conn2)

	if count := server.ClientCount(); count != 2 {
		t.Fatalf("Expected 2 clients, got %d", count)
	}

	server.Broadcast(NoticeMessage("sync lost: connection reset"))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readMessage(t, conn)
		if msg.Type != MessageTypeNotice {
			t.Errorf("message type = %s, want %s", msg.Type, MessageTypeNotice)
		}
		var data NoticeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			t.Fatalf("Failed to unmarshal data: %v", err)
		}
		if data.Notice != "sync lost: connection reset" {
			t.Errorf("notice = %q", data.Notice)
		}
	}
}
