package logging

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// hijackableRecorder is a recorder whose connection can be taken over.
type hijackableRecorder struct {
	*httptest.ResponseRecorder
	conn net.Conn
}

func (r *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(bufio.NewReader(r.conn), bufio.NewWriter(r.conn))
	return r.conn, rw, nil
}

func TestMiddlewareLogsRequests(t *testing.T) {
	out := captureLogOutput(func() {
		h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/doc", nil))
	})
	if !strings.Contains(out, `"path":"/doc"`) {
		t.Errorf("path not logged:\n%s", out)
	}
	if !strings.Contains(out, `"status":404`) {
		t.Errorf("status not logged:\n%s", out)
	}
}

func TestMiddlewarePreservesHijacking(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	hijacked := false
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("wrapped writer must support hijacking")
			return
		}
		if _, _, err := hj.Hijack(); err != nil {
			t.Errorf("hijack failed: %v", err)
			return
		}
		hijacked = true
	}))

	rec := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder(), conn: server}
	out := captureLogOutput(func() {
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	})

	if !hijacked {
		t.Fatal("handler could not take over the connection")
	}
	if !strings.Contains(out, `"status":101`) {
		t.Errorf("hijacked request should log the upgrade status:\n%s", out)
	}
}

func TestMiddlewareHijackUnsupported(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := w.(http.Hijacker).Hijack(); err == nil {
			t.Error("expected an error when the underlying writer cannot hijack")
		}
	}))
	captureLogOutput(func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ws", nil))
	})
}
