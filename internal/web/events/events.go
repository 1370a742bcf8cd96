package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/lighter/internal/records"
)

// EventType represents the type of a streamed event
type EventType string

const (
	EventConnected      EventType = "connected"
	EventRecordInserted EventType = "record_inserted"
	EventRecordDeleted  EventType = "record_deleted"
	EventHeartbeat      EventType = "heartbeat"
)

const (
	defaultHeartbeat  = 30 * time.Second
	clientBufferSize  = 32
	broadcastCapacity = 100
)

// Event represents an event sent to clients
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Message is an encoded event ready to be written to a client
type Message struct {
	Type EventType
	Data []byte
}

// Client represents a connected stream client
type Client struct {
	ID       string
	Messages chan Message
}

// Broker manages client connections and event broadcasting
type Broker struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	stopOnce   sync.Once
	heartbeat  time.Duration
	mu         sync.RWMutex
}

// NewBroker creates a new broker and starts its dispatch loop
func NewBroker() *Broker {
	return newBroker(defaultHeartbeat)
}

func newBroker(heartbeat time.Duration) *Broker {
	b := &Broker{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, broadcastCapacity),
		done:       make(chan struct{}),
		heartbeat:  heartbeat,
	}
	go b.run()
	return b
}

var _ records.Publisher = (*Broker)(nil)

// run handles client registration and event broadcasting
func (b *Broker) run() {
	heartbeatTicker := time.NewTicker(b.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-b.done:
			b.mu.Lock()
			for _, client := range b.clients {
				close(client.Messages)
			}
			b.clients = make(map[string]*Client)
			b.mu.Unlock()
			log.Debug().Msg("Event broker stopped")
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client.ID] = client
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int("total_clients", total).Msg("Event client connected")

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client.ID]; ok {
				delete(b.clients, client.ID)
				close(client.Messages)
			}
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int("total_clients", total).Msg("Event client disconnected")

		case event := <-b.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal event")
				continue
			}
			msg := Message{Type: event.Type, Data: data}

			b.mu.RLock()
			for _, client := range b.clients {
				select {
				case client.Messages <- msg:
				default:
					log.Warn().Str("client_id", client.ID).Msg("Event client buffer full, dropping message")
				}
			}
			b.mu.RUnlock()

		case <-heartbeatTicker.C:
			b.Broadcast(Event{Type: EventHeartbeat, Data: map[string]any{"time": time.Now().Unix()}})
		}
	}
}

// Subscribe registers a new client. It returns nil if the broker is stopped.
func (b *Broker) Subscribe(id string) *Client {
	client := &Client{
		ID:       id,
		Messages: make(chan Message, clientBufferSize),
	}
	select {
	case b.register <- client:
		return client
	case <-b.done:
		return nil
	}
}

// Unsubscribe removes a client; safe to call while the broker shuts down
func (b *Broker) Unsubscribe(client *Client) {
	if client == nil {
		return
	}
	select {
	case b.unregister <- client:
	case <-b.done:
	}
}

// Broadcast sends an event to all connected clients
func (b *Broker) Broadcast(event Event) {
	select {
	case b.broadcast <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("Event broadcast channel full, dropping event")
	}
}

// PublishRecordChange broadcasts an insert or delete
func (b *Broker) PublishRecordChange(change records.Change) {
	eventType := EventRecordInserted
	if change.Op == records.OpDeleted {
		eventType = EventRecordDeleted
	}
	b.Broadcast(Event{Type: eventType, Data: change.Records})
}

// Stop gracefully shuts down the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// Done is closed when the broker stops
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// connectedMessage is the first message every client receives
func connectedMessage(clientID string) Message {
	data, _ := json.Marshal(Event{
		Type: EventConnected,
		Data: map[string]any{
			"client_id": clientID,
			"time":      time.Now().Unix(),
		},
	})
	return Message{Type: EventConnected, Data: data}
}

// formatSSEMessage formats an SSE message with event type and data
func formatSSEMessage(msg Message) []byte {
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", msg.Type, msg.Data)
}
