package services

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"stocklens_backend/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Constants for service configuration
const (
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = 30 * time.Second
	ClientSendBuffer      = 256
	ClientReadLimit       = 4096
)

// AuthFunc maps a bearer credential to a user identity.
type AuthFunc func(token string) (userID string, err error)

// PriceSource supplies the snapshots pushed on every broadcast tick.
type PriceSource interface {
	GetMultiplePriceUpdates(ctx context.Context, symbols []string) []models.PriceSnapshot
}

// Client represents one live WebSocket connection and its subscriptions.
type Client struct {
	ID           string
	UserID       string
	conn         *websocket.Conn
	send         chan []byte
	subscribed   map[string]bool
	lastActivity time.Time
	closed       bool
	mu           sync.Mutex
}

func newClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:           uuid.NewString(),
		UserID:       userID,
		conn:         conn,
		send:         make(chan []byte, ClientSendBuffer),
		subscribed:   make(map[string]bool),
		lastActivity: time.Now(),
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}

// subscriptions returns a copy of the client's symbol set.
func (c *Client) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	symbols := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		symbols = append(symbols, s)
	}
	return symbols
}

// trySend queues a frame without blocking. It returns false when the client
// is closed or its buffer is full, which marks the client dead.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// markClosed closes the send channel exactly once.
func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// HubStats is a read-only snapshot of the connection registry.
type HubStats struct {
	Clients            int `json:"clients"`
	DistinctSymbols    int `json:"distinct_symbols"`
	TotalSubscriptions int `json:"total_subscriptions"`
}

// RealtimePriceService fans price updates out to subscribed WebSocket clients
// on a fixed broadcast interval. Each client only ever receives symbols from
// its own subscription set.
type RealtimePriceService struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader

	fetcher      PriceSource
	authenticate AuthFunc

	broadcastInterval time.Duration
	idleTimeout       time.Duration
	maxClients        int

	running  bool
	stopOnce sync.Once
}

// NewRealtimePriceService creates the broadcast hub. Start must be called to
// begin the registry loop and the periodic broadcast.
func NewRealtimePriceService(fetcher PriceSource, authenticate AuthFunc,
	broadcastInterval, idleTimeout time.Duration, maxClients int) *RealtimePriceService {
	if broadcastInterval <= 0 {
		broadcastInterval = 5 * time.Second
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	if maxClients <= 0 {
		maxClients = 100
	}

	return &RealtimePriceService{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		fetcher:           fetcher,
		authenticate:      authenticate,
		broadcastInterval: broadcastInterval,
		idleTimeout:       idleTimeout,
		maxClients:        maxClients,
	}
}

// Start launches the registry loop and the broadcast ticker.
func (s *RealtimePriceService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run()
	go s.broadcastLoop()
	log.Printf("Realtime price service started (interval: %v)", s.broadcastInterval)
}

// Shutdown stops the loops and closes every client connection.
func (s *RealtimePriceService) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
	})

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.clients = make(map[*Client]bool)
	s.mu.Unlock()

	for _, client := range clients {
		client.markClosed()
		if client.conn != nil {
			client.conn.Close()
		}
	}

	log.Println("Realtime price service shutdown complete")
}

// run owns connect/disconnect events for the client registry.
func (s *RealtimePriceService) run() {
	for {
		select {
		case <-s.shutdown:
			return

		case client := <-s.register:
			s.addClient(client)

		case client := <-s.unregister:
			s.removeClient(client)
		}
	}
}

func (s *RealtimePriceService) addClient(client *Client) {
	s.mu.Lock()
	s.clients[client] = true
	count := len(s.clients)
	s.mu.Unlock()
	log.Printf("WebSocket client %s connected (user %s). Total clients: %d", client.ID, client.UserID, count)
}

func (s *RealtimePriceService) removeClient(client *Client) {
	s.mu.Lock()
	_, ok := s.clients[client]
	if ok {
		delete(s.clients, client)
	}
	count := len(s.clients)
	s.mu.Unlock()

	if ok {
		client.markClosed()
		if client.conn != nil {
			client.conn.Close()
		}
		log.Printf("WebSocket client %s disconnected. Total clients: %d", client.ID, count)
	}
}

// broadcastLoop drives the periodic fan-out.
func (s *RealtimePriceService) broadcastLoop() {
	ticker := time.NewTicker(s.broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.broadcastTick(context.Background())
		}
	}
}

// broadcastTick fetches one batch for the union of all subscriptions and sends
// each client exactly the intersection with its own set. All clients in a tick
// see data from the same batch call.
func (s *RealtimePriceService) broadcastTick(ctx context.Context) {
	s.mu.RLock()
	subsByClient := make(map[*Client][]string, len(s.clients))
	unionSet := make(map[string]bool)
	for client := range s.clients {
		symbols := client.subscriptions()
		if len(symbols) == 0 {
			continue
		}
		subsByClient[client] = symbols
		for _, sym := range symbols {
			unionSet[sym] = true
		}
	}
	s.mu.RUnlock()

	if len(unionSet) == 0 {
		return
	}

	union := make([]string, 0, len(unionSet))
	for sym := range unionSet {
		union = append(union, sym)
	}
	sort.Strings(union)

	updates := s.fetcher.GetMultiplePriceUpdates(ctx, union)
	if len(updates) == 0 {
		return
	}

	bySymbol := make(map[string]models.PriceSnapshot, len(updates))
	for _, u := range updates {
		bySymbol[u.Symbol] = u
	}

	now := time.Now().Format(time.RFC3339)
	var dead []*Client
	for client, symbols := range subsByClient {
		own := make([]models.PriceSnapshot, 0, len(symbols))
		for _, sym := range symbols {
			if snapshot, ok := bySymbol[sym]; ok {
				own = append(own, snapshot)
			}
		}
		if len(own) == 0 {
			continue
		}

		sort.Slice(own, func(i, j int) bool { return own[i].Symbol < own[j].Symbol })
		data, err := json.Marshal(models.ServerEvent{
			Type: models.EventPriceUpdate,
			Data: models.PriceUpdatePayload{Updates: own, Timestamp: now},
			Time: now,
		})
		if err != nil {
			log.Printf("Error marshaling price update: %v", err)
			continue
		}

		if !client.trySend(data) {
			dead = append(dead, client)
		}
	}

	// A full buffer means the client is not draining; drop it without
	// disturbing delivery to the others.
	for _, client := range dead {
		s.removeClient(client)
	}
}

// CleanupInactiveClients disconnects clients idle past the threshold and
// returns the number removed.
func (s *RealtimePriceService) CleanupInactiveClients() int {
	now := time.Now()

	s.mu.RLock()
	var idle []*Client
	for client := range s.clients {
		if client.idleSince(now) > s.idleTimeout {
			idle = append(idle, client)
		}
	}
	s.mu.RUnlock()

	for _, client := range idle {
		log.Printf("Reaping idle WebSocket client %s (idle %v)", client.ID, client.idleSince(now).Truncate(time.Second))
		s.removeClient(client)
	}
	return len(idle)
}

// Stats returns connection and subscription counts without mutating state.
func (s *RealtimePriceService) Stats() HubStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	distinct := make(map[string]bool)
	total := 0
	for client := range s.clients {
		for _, sym := range client.subscriptions() {
			distinct[sym] = true
			total++
		}
	}

	return HubStats{
		Clients:            len(s.clients),
		DistinctSymbols:    len(distinct),
		TotalSubscriptions: total,
	}
}

// HandleWebSocket upgrades the connection, authenticates the credential and
// starts the client pumps. An unauthenticated connection receives a single
// error event and is closed.
func (s *RealtimePriceService) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	atCapacity := len(s.clients) >= s.maxClients
	s.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	userID, err := s.authenticate(bearerToken(r))
	if err != nil {
		log.Printf("WebSocket authentication failed: %v", err)
		writeEvent(conn, models.ServerEvent{
			Type:    models.EventError,
			Message: "authentication failed",
			Time:    time.Now().Format(time.RFC3339),
		})
		conn.Close()
		return
	}

	client := newClient(userID, conn)
	select {
	case s.register <- client:
	case <-s.shutdown:
		// Registry loop is gone; refuse the connection instead of blocking.
		client.markClosed()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(s)

	s.sendEvent(client, models.ServerEvent{
		Type:    models.EventConnected,
		Data:    map[string]string{"client_id": client.ID},
		Message: "connected",
		Time:    time.Now().Format(time.RFC3339),
	})
}

// bearerToken extracts the credential from the Authorization header or, for
// browser WebSocket clients that cannot set headers, the token query param.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token := strings.TrimPrefix(header, "Bearer "); token != header {
		return token
	}
	return r.URL.Query().Get("token")
}

func writeEvent(conn *websocket.Conn, event models.ServerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
	conn.WriteMessage(websocket.TextMessage, data)
}

func (s *RealtimePriceService) sendEvent(client *Client, event models.ServerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if !client.trySend(data) {
		s.removeClient(client)
	}
}

// writePump writes queued frames to the connection and keeps it alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump processes subscribe/unsubscribe/ping frames. Malformed frames get
// an error event; the connection stays open.
func (c *Client) readPump(s *RealtimePriceService) {
	defer func() {
		select {
		case s.unregister <- c:
		case <-s.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(ClientReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		c.touch()

		var cmd models.ClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			s.sendEvent(c, errorEvent("malformed request"))
			continue
		}

		switch cmd.Action {
		case models.ActionSubscribe:
			added := c.subscribe(cmd.Symbols)
			s.sendEvent(c, ackEvent(models.EventSubscribed, added))
		case models.ActionUnsubscribe:
			removed := c.unsubscribe(cmd.Symbols)
			s.sendEvent(c, ackEvent(models.EventUnsubscribed, removed))
		case models.ActionPing:
			s.sendEvent(c, models.ServerEvent{
				Type: models.EventPong,
				Time: time.Now().Format(time.RFC3339),
			})
		default:
			s.sendEvent(c, errorEvent("unknown action: "+cmd.Action))
		}
	}
}

// subscribe adds case-normalized symbols to the client's set.
func (c *Client) subscribe(symbols []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		c.subscribed[sym] = true
		added = append(added, sym)
	}
	return added
}

func (c *Client) unsubscribe(symbols []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if c.subscribed[sym] {
			delete(c.subscribed, sym)
			removed = append(removed, sym)
		}
	}
	return removed
}

func ackEvent(eventType string, symbols []string) models.ServerEvent {
	return models.ServerEvent{
		Type: eventType,
		Data: map[string][]string{"symbols": symbols},
		Time: time.Now().Format(time.RFC3339),
	}
}

func errorEvent(message string) models.ServerEvent {
	return models.ServerEvent{
		Type:    models.EventError,
		Message: message,
		Time:    time.Now().Format(time.RFC3339),
	}
}
