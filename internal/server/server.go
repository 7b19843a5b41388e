package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/miskoemotorsports/pitdash/internal/publish"
)

// SnapshotSource is what the render loop polls. *publish.Publisher
// satisfies it.
type SnapshotSource interface {
	Current() *publish.Snapshot
}

// Server is the render loop: it samples the publisher on its own ticker
// and pushes frames to WebSocket clients. It never writes channel state.
type Server struct {
	cfg   *Config
	src   SnapshotSource
	webFS fs.FS
	now   func() time.Time

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Snapshot           *publish.Snapshot `json:"snapshot,omitempty"`
	SecondsSinceUpdate float64           `json:"secondsSinceUpdate"` // -1 before the first record
	Stale              bool              `json:"stale"`
	Display            *DisplayConfig    `json:"display,omitempty"`
	TrackMap           *TrackMapConfig   `json:"trackMap,omitempty"`
	WindowLength       int               `json:"windowLength,omitempty"`
	Stamp              int64             `json:"stamp"` // Unix ms
}

// New creates a new Server.
func New(cfg *Config, src SnapshotSource, webFS fs.FS) *Server {
	return &Server{
		cfg:     cfg,
		src:     src,
		webFS:   webFS,
		now:     time.Now,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/trackmap", s.handleTrackMap)
	return mux
}

// Run starts the HTTP server and the render loop.
func (s *Server) Run(ctx context.Context) error {
	go s.renderLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// renderLoop broadcasts the latest snapshot at display.render_hz,
// independent of how fast records arrive.
func (s *Server) renderLoop(ctx context.Context) {
	display, _ := s.cfg.DisplaySettings()
	hz := display.RenderHz
	if hz <= 0 {
		hz = 4
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(s.dataFrame())
		}
	}
}

// dataFrame wraps the current snapshot with staleness information.
func (s *Server) dataFrame() Frame {
	now := s.now()
	snap := s.src.Current()
	display, _ := s.cfg.DisplaySettings()
	staleAfter := time.Duration(display.StaleAfterMs) * time.Millisecond

	f := Frame{Snapshot: snap, SecondsSinceUpdate: -1, Stale: true, Stamp: now.UnixMilli()}
	if snap != nil {
		if age := snap.Age(now); age >= 0 {
			f.SecondsSinceUpdate = age.Seconds()
		}
		f.Stale = snap.Stale(now, staleAfter)
	}
	return f
}

func (s *Server) configFrame() Frame {
	display, track := s.cfg.DisplaySettings()
	return Frame{
		Display:            &display,
		TrackMap:           &track,
		WindowLength:       s.cfg.WindowLength(),
		SecondsSinceUpdate: -1,
		Stamp:              s.now().UnixMilli(),
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send initial config, then whatever we have right now
	for _, f := range []Frame{s.configFrame(), s.dataFrame()} {
		if data, err := json.Marshal(f); err == nil {
			client.send <- data
		}
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive; the renderer never sends anything we act on)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	data, err := json.Marshal(s.dataFrame())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			code := 400
			if errors.Is(err, ErrRestartRequired) {
				code = http.StatusConflict
			}
			http.Error(w, err.Error(), code)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Broadcast updated display settings
		s.broadcast(s.configFrame())

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

// handleTrackMap serves the configured map image as-is.
func (s *Server) handleTrackMap(w http.ResponseWriter, r *http.Request) {
	_, track := s.cfg.DisplaySettings()
	if track.Image == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, track.Image)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[server] marshal frame: %v", err)
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
