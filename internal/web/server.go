package web

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/readmetex/internal/logging"
)

// reloadMessage tells connected browsers to refresh the preview.
const reloadMessage = "reload"

const pageTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
%s
<script>
new WebSocket("ws://" + location.host + "/ws").onmessage = function (e) {
	if (e.data.indexOf("reload") >= 0) location.reload();
};
</script>
</body>
</html>
`

// upgrader accepts local preview connections only; the server binds to
// loopback, so origin checking stays permissive.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected preview browser.
type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

// hub tracks connected preview clients and broadcasts reload messages.
type hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			logging.Debug("preview client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			logging.Debug("preview client disconnected", "clients", len(h.clients))

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Server is the live preview: it serves the rendered document and pushes
// reload messages when the source file changes on disk.
type Server struct {
	Addr     string
	Source   string // rewritten markdown document to preview
	Interval time.Duration

	hub *hub
}

// NewServer builds a preview server for one document.
func NewServer(addr, source string) *Server {
	return &Server{
		Addr:     addr,
		Source:   source,
		Interval: 500 * time.Millisecond,
		hub:      newHub(),
	}
}

// Handler returns the preview routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handlePage)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return logging.Middleware(mux)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	source, err := os.ReadFile(s.Source)
	if err != nil {
		http.Error(w, "cannot read document: "+err.Error(), http.StatusInternalServerError)
		return
	}
	body, err := RenderHTML(source)
	if err != nil {
		http.Error(w, "cannot render document: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, pageTemplate, s.Source, body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("websocket upgrade failed", "error", err)
		return
	}
	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, 16)}
	s.hub.register <- c
	go c.writePump()
	go c.readPump()
}

// NotifyReload broadcasts a reload to every connected client.
func (s *Server) NotifyReload() {
	select {
	case s.hub.broadcast <- []byte(reloadMessage):
	default:
		logging.Warn("reload channel full, dropping message")
	}
}

// watch polls the source file and broadcasts when its mtime changes.
func (s *Server) watch(stop <-chan struct{}) {
	var last time.Time
	if info, err := os.Stat(s.Source); err == nil {
		last = info.ModTime()
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			info, err := os.Stat(s.Source)
			if err != nil {
				continue
			}
			if info.ModTime() != last {
				last = info.ModTime()
				logging.Info("document changed, reloading preview", "source", s.Source)
				s.NotifyReload()
			}
		}
	}
}

// ListenAndServe runs the preview until the process exits.
func (s *Server) ListenAndServe() error {
	go s.hub.run()
	go s.watch(make(chan struct{}))
	logging.Info("preview listening", "addr", s.Addr, "source", s.Source)
	return http.ListenAndServe(s.Addr, s.Handler())
}
