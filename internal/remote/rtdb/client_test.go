package rtdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pocketlist/pocketlist/internal/remote"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestWritePatchDelete(t *testing.T) {
	type call struct {
		method string
		path   string
		query  string
		body   string
	}
	var calls []call

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, call{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			body:   string(body),
		})
		fmt.Fprint(w, "{}")
	}))
	defer server.Close()

	client := New(server.URL, "secret", testLogger())
	ctx := context.Background()

	if err := client.Write(ctx, "users/u1/items/a", map[string]any{"id": "a"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := client.Patch(ctx, "users/u1/items/a", map[string]any{"title": "t"}); err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if err := client.Delete(ctx, "users/u1/items/a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}

	for i, wantMethod := range []string{http.MethodPut, http.MethodPatch, http.MethodDelete} {
		if calls[i].method != wantMethod {
			t.Errorf("call %d method = %s, want %s", i, calls[i].method, wantMethod)
		}
		if calls[i].path != "/users/u1/items/a.json" {
			t.Errorf("call %d path = %s", i, calls[i].path)
		}
		if calls[i].query != "auth=secret" {
			t.Errorf("call %d query = %s", i, calls[i].query)
		}
	}

	var patched map[string]any
	if err := json.Unmarshal([]byte(calls[1].body), &patched); err != nil {
		t.Fatalf("patch body not JSON: %v", err)
	}
	if len(patched) != 1 || patched["title"] != "t" {
		t.Errorf("patch body = %v, want only title", patched)
	}
}

func TestWriteReportsBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Permission denied"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New(server.URL, "", testLogger())
	err := client.Write(context.Background(), "users/u1/items/a", map[string]any{"id": "a"})
	if err == nil {
		t.Fatalf("Write succeeded against a 401 backend")
	}
}

// sseHandler serves a scripted event stream.
func sseHandler(t *testing.T, events []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing event-stream accept header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("response writer is not a flusher")
		}
		for _, ev := range events {
			fmt.Fprint(w, ev)
			flusher.Flush()
		}
		// Hold the stream open until the client disconnects.
		<-r.Context().Done()
	}
}

func waitSnapshot(t *testing.T, sub remote.Subscription) remote.Snapshot {
	t.Helper()

	select {
	case snap, ok := <-sub.Snapshots():
		if !ok {
			t.Fatalf("snapshot channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return nil
	}
}

func TestSubscribeMaterializesSnapshots(t *testing.T) {
	events := []string{
		"event: put\ndata: {\"path\":\"/\",\"data\":{\"a\":{\"id\":\"a\",\"title\":\"one\",\"createdAt\":10}}}\n\n",
		"event: keep-alive\ndata: null\n\n",
		"event: put\ndata: {\"path\":\"/b\",\"data\":{\"id\":\"b\",\"title\":\"two\",\"createdAt\":20}}\n\n",
		"event: patch\ndata: {\"path\":\"/a\",\"data\":{\"title\":\"renamed\"}}\n\n",
		"event: put\ndata: {\"path\":\"/b\",\"data\":null}\n\n",
	}
	server := httptest.NewServer(sseHandler(t, events))
	defer server.Close()

	client := New(server.URL, "", testLogger())
	sub, err := client.Subscribe(context.Background(), "users/u1/items", "createdAt")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	// Initial full put.
	snap := waitSnapshot(t, sub)
	if len(snap) != 1 || snap["a"]["title"] != "one" {
		t.Fatalf("initial snapshot = %v", snap)
	}

	// Child added.
	snap = waitSnapshot(t, sub)
	if len(snap) != 2 || snap["b"]["title"] != "two" {
		t.Fatalf("snapshot after child put = %v", snap)
	}

	// Field patched; untouched fields survive.
	snap = waitSnapshot(t, sub)
	if snap["a"]["title"] != "renamed" {
		t.Errorf("patched title = %v", snap["a"]["title"])
	}
	if snap["a"]["id"] != "a" {
		t.Errorf("patch clobbered id: %v", snap["a"])
	}

	// Child deleted via null put.
	snap = waitSnapshot(t, sub)
	if len(snap) != 1 {
		t.Errorf("snapshot after delete = %v", snap)
	}
}

func TestSubscribeSendsOrderByQuoted(t *testing.T) {
	var gotOrderBy string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrderBy = r.URL.Query().Get("orderBy")
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	client := New(server.URL, "", testLogger())
	sub, err := client.Subscribe(context.Background(), "users/u1/items", "createdAt")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sub.Close()

	if gotOrderBy != `"createdAt"` {
		t.Errorf("orderBy = %s, want quoted createdAt", gotOrderBy)
	}
}

func TestSubscribeSurfacesCancelEvent(t *testing.T) {
	events := []string{
		"event: cancel\ndata: null\n\n",
	}
	server := httptest.NewServer(sseHandler(t, events))
	defer server.Close()

	client := New(server.URL, "", testLogger())
	sub, err := client.Subscribe(context.Background(), "users/u1/items", "createdAt")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	select {
	case err := <-sub.Errs():
		if err == nil {
			t.Errorf("nil error from cancelled stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream error")
	}
}

func TestSubscribeRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer server.Close()

	client := New(server.URL, "", testLogger())
	if _, err := client.Subscribe(context.Background(), "users/u1/items", "createdAt"); err == nil {
		t.Fatalf("Subscribe succeeded against a 403 backend")
	}
}
