package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/woodtime/pkg/api"
)

//go:generate moq -out notifier_mock.go . Notifier

// Notifier publishes change notifications to connected clients
type Notifier interface {
	Publish(n api.ChangeNotification)
}

// Параметры соединений /graphql/stream
const (
	streamBufferSize = 64
	streamPingPeriod = 30 * time.Second
	streamWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// клиент не браузер, токен проверяется AuthMiddleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHub fans change notifications out to websocket subscribers.
// A subscriber that falls behind loses notifications: it only needs the
// latest one per collection to wake its puller.
type StreamHub struct {
	logger    *slog.Logger
	subs      map[uint64]chan api.ChangeNotification
	done      chan struct{}
	nextID    uint64
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewStreamHub creates a new streaming hub
func NewStreamHub(logger *slog.Logger) *StreamHub {
	return &StreamHub{
		logger: logger,
		subs:   make(map[uint64]chan api.ChangeNotification),
		done:   make(chan struct{}),
	}
}

// Close disconnects every subscriber. http.Server.Shutdown does not wait
// for hijacked connections, so it has to be called on shutdown.
func (h *StreamHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *StreamHub) subscribe() (uint64, <-chan api.ChangeNotification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan api.ChangeNotification, streamBufferSize)
	h.subs[h.nextID] = ch
	return h.nextID, ch
}

func (h *StreamHub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Publish sends n to every subscriber without blocking
func (h *StreamHub) Publish(n api.ChangeNotification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.logger.Warn("Stream subscriber is slow, notification dropped",
				"subscriber", id,
				"collection", n.Collection)
		}
	}
}

// Count returns the number of connected subscribers
func (h *StreamHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP обрабатывает GET /graphql/stream
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	userID, _ := GetUserID(r.Context())
	id, ch := h.subscribe()
	defer h.unsubscribe(id)

	h.logger.Debug("Stream subscriber connected", "subscriber", id, "user_id", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// читаем только чтобы заметить закрытие соединения клиентом
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("Stream subscriber disconnected", "subscriber", id)
			return
		case <-h.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
			return
		case n := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(n); err != nil {
				h.logger.Debug("Stream write failed", "subscriber", id, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
