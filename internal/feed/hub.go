// Package feed broadcasts persisted discoveries to websocket subscribers.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/ingestion"
	"squeeze-discovery/internal/logging"
	"squeeze-discovery/internal/observability"
)

// Options configures a Hub.
type Options struct {
	// SendBuffer is the per-subscriber queue; a full queue drops the subscriber.
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
	Logger       *zap.Logger
}

// DefaultOptions returns default hub options.
func DefaultOptions() Options {
	return Options{
		SendBuffer:   32,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// Message is one feed frame.
type Message struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Ticker     string            `json:"ticker"`
	Day        string            `json:"day"`
	Score      float64           `json:"score"`
	Price      *float64          `json:"price,omitempty"`
	Confidence domain.Confidence `json:"confidence"`
	Action     string            `json:"action"`
	Source     domain.Source     `json:"source"`
	Synthetic  bool              `json:"synthetic"`
	Catalyst   *string           `json:"catalyst,omitempty"`
	Reasons    []string          `json:"reasons,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// MessageFor renders a record as a feed frame.
func MessageFor(rec *domain.DiscoveryRecord) Message {
	return Message{
		Type:       "discovery",
		ID:         rec.ID,
		Ticker:     rec.Ticker,
		Day:        rec.Day.Format("2006-01-02"),
		Score:      rec.Score,
		Price:      rec.Price,
		Confidence: rec.Confidence,
		Action:     rec.Action,
		Source:     rec.Source,
		Synthetic:  rec.Synthetic,
		Catalyst:   rec.Catalyst,
		Reasons:    rec.Reasons,
		UpdatedAt:  rec.UpdatedAt,
	}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.send)
	})
}

// Hub fans out discovery messages. It is safe for concurrent use.
type Hub struct {
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

var _ ingestion.Publisher = (*Hub)(nil)

// NewHub creates a new Hub.
func NewHub(opts Options) *Hub {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	return &Hub{
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Publish broadcasts a persisted record.
func (h *Hub) Publish(rec *domain.DiscoveryRecord) {
	if rec == nil {
		return
	}
	msg, err := json.Marshal(MessageFor(rec))
	if err != nil {
		h.logger.Error("marshal feed message", zap.String("ticker", rec.Ticker), zap.Error(err))
		return
	}
	h.Broadcast(msg)
}

// Broadcast queues msg for every subscriber. Subscribers whose queue is
// full are dropped.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		select {
		case s.send <- msg:
		default:
			h.removeLocked(s)
			observability.RecordFeedDropped()
			h.logger.Warn("dropping slow feed subscriber", zap.String("remote", s.conn.RemoteAddr().String()))
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("feed upgrade failed", zap.Error(err))
		return
	}

	s := &subscriber{conn: conn, send: make(chan []byte, h.opts.SendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.subs[s] = struct{}{}
	observability.SetFeedSubscribers(len(h.subs))
	h.mu.Unlock()

	h.logger.Debug("feed subscriber connected", zap.String("remote", conn.RemoteAddr().String()))
	go h.writeLoop(s)
	go h.readLoop(s)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		h.removeLocked(s)
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	s.close()
	observability.SetFeedSubscribers(len(h.subs))
}

// readLoop discards client frames and detects disconnects.
func (h *Hub) readLoop(s *subscriber) {
	defer h.remove(s)

	_ = s.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(s)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s)
				return
			}
		}
	}
}
