package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestRenderHTML(t *testing.T) {
	out, err := RenderHTML([]byte("# Title\n\nSome *math* below.\n"))
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	html := string(out)
	if !strings.Contains(html, "<h1") || !strings.Contains(html, "<em>math</em>") {
		t.Errorf("unexpected HTML: %q", html)
	}
}

func TestRenderHTMLKeepsEmbeddedImages(t *testing.T) {
	md := []byte(`before <img alt="x" src="svgs/abc.svg" align="middle" width="66pt" height="33pt"/> after`)
	out, err := RenderHTML(md)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(string(out), `src="svgs/abc.svg"`) {
		t.Errorf("raw img markup must pass through: %q", out)
	}
}

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "README.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestPageServesRenderedDocument(t *testing.T) {
	s := NewServer("127.0.0.1:0", writeDoc(t, "# Hello\n"))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	page := string(body)
	if !strings.Contains(page, "<h1") {
		t.Errorf("page missing rendered content: %q", page)
	}
	if !strings.Contains(page, "WebSocket") {
		t.Errorf("page missing the reload script: %q", page)
	}
}

func TestPageMissingDocument(t *testing.T) {
	s := NewServer("127.0.0.1:0", filepath.Join(t.TempDir(), "absent.md"))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestReloadBroadcast(t *testing.T) {
	s := NewServer("127.0.0.1:0", writeDoc(t, "# Hello\n"))
	go s.hub.run()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Give the hub a moment to register the client.
	time.Sleep(50 * time.Millisecond)
	s.NotifyReload()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(message) != reloadMessage {
		t.Errorf("message = %q, want %q", message, reloadMessage)
	}
}

func TestWatchDetectsChanges(t *testing.T) {
	doc := writeDoc(t, "# v1\n")
	s := NewServer("127.0.0.1:0", doc)
	s.Interval = 20 * time.Millisecond
	go s.hub.run()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	stop := make(chan struct{})
	defer close(stop)
	go s.watch(stop)
	// Let the watcher record its baseline mtime before the file changes.
	time.Sleep(50 * time.Millisecond)

	// Rewrite the document with a future mtime so the poll sees a change.
	if err := os.WriteFile(doc, []byte("# v2\n"), 0o644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(doc, future, future); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(message) != reloadMessage {
		t.Errorf("message = %q, want %q", message, reloadMessage)
	}
}
