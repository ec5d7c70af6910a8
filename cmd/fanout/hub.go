package main

import (
	"log"
	"sync"
)

// Hub maintains active WebSocket connections and broadcasts messages
type Hub struct {
	// Map: workflow instance ID → []*Client
	connections map[string][]*Client
	mutex       sync.RWMutex

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting messages
	broadcast chan *Message
}

// Message represents a message to be broadcast to everyone watching one run.
type Message struct {
	InstanceID string
	Data       []byte
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	log.Println("Hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToInstance(message)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.instanceID] = append(h.connections[client.instanceID], client)
	log.Printf("Client registered: instance_id=%s, total_for_run=%d",
		client.instanceID, len(h.connections[client.instanceID]))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.instanceID]
	for i, c := range clients {
		if c == client {
			// Remove client from slice
			h.connections[client.instanceID] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			// If no more clients for this run, remove the map entry
			if len(h.connections[client.instanceID]) == 0 {
				delete(h.connections, client.instanceID)
			}

			log.Printf("Client unregistered: instance_id=%s, remaining_for_run=%d",
				client.instanceID, len(h.connections[client.instanceID]))
			break
		}
	}
}

// broadcastToInstance sends a message to all connections watching one run
func (h *Hub) broadcastToInstance(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[message.InstanceID]
	if len(clients) == 0 {
		// No clients connected for this run, skip
		return
	}

	log.Printf("Broadcasting to instance_id=%s, client_count=%d",
		message.InstanceID, len(clients))

	for _, client := range clients {
		select {
		case client.send <- message.Data:
			// Message sent successfully
		default:
			// Client's send buffer is full, close the connection
			log.Printf("Client send buffer full, closing connection: instance_id=%s", client.instanceID)
			close(client.send)
		}
	}
}

// GetConnectionCount returns the total number of active connections
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// GetRunCount returns the number of distinct workflow runs being watched
func (h *Hub) GetRunCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
