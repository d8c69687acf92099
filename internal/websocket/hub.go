package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"connector/internal/models"
	"connector/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// message - сериализованное событие с ключом аккаунта для фильтрации
type message struct {
	accountID string
	data      []byte
}

// Hub управляет WebSocket соединениями и рассылает им события воркера.
//
// Клиент может подписаться на один аккаунт (?account=<id>), иначе получает все события.
// Медленные клиенты отключаются, переполнение очереди рассылки не блокирует воркер.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	checker *OriginChecker
	logger  *utils.Logger

	count   atomic.Int32
	dropped atomic.Int64
}

// NewHub создает Hub. allowedOrigins пуст или "*" - разрешены все Origin
func NewHub(allowedOrigins []string, logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		checker:    NewOriginChecker(allowedOrigins),
		logger:     logger.WithComponent("ws_hub"),
	}
}

// Run - главный цикл Hub. Завершается по Stop
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.count.Store(0)
			return

		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int32(len(h.clients)))
			h.logger.Debug("client connected", utils.Int("clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.count.Store(int32(len(h.clients)))
			h.logger.Debug("client disconnected", utils.Int("clients", len(h.clients)))

		case msg := <-h.broadcast:
			removed := 0
			for client := range h.clients {
				if !client.wants(msg.accountID) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Клиент не успевает читать
					delete(h.clients, client)
					close(client.send)
					removed++
				}
			}
			if removed > 0 {
				h.count.Store(int32(len(h.clients)))
				h.logger.Warn("removed slow clients",
					utils.Int("removed", removed),
					utils.Int("clients", len(h.clients)))
			}
		}
	}
}

// Stop останавливает Run и закрывает соединения клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish рассылает событие подключенным клиентам.
// Не блокируется: при переполнении событие отбрасывается
func (h *Hub) Publish(ctx context.Context, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.BroadcastRaw(ev.Key, data)
	return nil
}

// BroadcastRaw рассылает уже сериализованное сообщение
func (h *Hub) BroadcastRaw(accountID string, data []byte) {
	select {
	case h.broadcast <- message{accountID: accountID, data: data}:
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// DroppedMessages - число сообщений, отброшенных из-за переполнения
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
