// internal/websocket/hub.go
package websocket

import (
	"context"
	"fmt"
	"sync"

	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/subscription"
	"royalty-service/internal/domain/user"
	"royalty-service/internal/domain/view"
	wstypes "royalty-service/internal/domain/websocket"
	"royalty-service/internal/metrics"
	"royalty-service/internal/pkg/jwt"

	"go.uber.org/zap"
)

// TokenVerifier is satisfied by *jwt.Verifier.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

type Hub struct {
	// Registered clients by identity ID
	clients map[int64]map[*Client]bool
	mu      sync.RWMutex

	// Registration/unregistration
	register   chan *Client
	unregister chan *Client

	// Broadcasting
	broadcast chan *BroadcastMessage
	done      chan struct{}

	// Handler registry for modular message handling
	handlerRegistry *HandlerRegistry

	verifier TokenVerifier
	logger   *zap.Logger
}

// BroadcastMessage goes to IdentityIDs on Channel, or to every client on
// Channel when IdentityIDs is nil.
type BroadcastMessage struct {
	IdentityIDs []int64
	Channel     wstypes.ChannelType
	Message     *wstypes.WSMessage
}

func NewHub(verifier TokenVerifier, logger *zap.Logger) *Hub {
	return &Hub{
		clients:         make(map[int64]map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		broadcast:       make(chan *BroadcastMessage, 256),
		done:            make(chan struct{}),
		handlerRegistry: NewHandlerRegistry(),
		verifier:        verifier,
		logger:          logger,
	}
}

// AuthenticateClient validates the JWT token
func (h *Hub) AuthenticateClient(token string) (*ClientAuth, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims, err := h.verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &ClientAuth{
		IdentityID: claims.IdentityID,
		SessionID:  claims.ID,
		Roles:      claims.Roles,
	}, nil
}

// RegisterHandler registers a message handler
func (h *Hub) RegisterHandler(handler MessageHandler) {
	h.handlerRegistry.Register(handler)
}

// HandleClientMessage delegates msg to a registered handler. It reports
// false when no handler claims the event type.
func (h *Hub) HandleClientMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) (bool, error) {
	handler, exists := h.handlerRegistry.GetHandler(msg.Type)
	if !exists {
		return false, nil
	}
	return true, handler.HandleMessage(ctx, client, msg)
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.BroadcastMessage(msg)
		}
	}
}

// Register hands a connected client to the hub. It returns false once the
// hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.identityID] == nil {
		h.clients[client.identityID] = make(map[*Client]bool)
	}
	h.clients[client.identityID][client] = true
	metrics.WebSocketConnections.Inc()

	h.logger.Info("websocket client connected",
		zap.Int64("identity_id", client.identityID),
		zap.String("session_id", client.sessionID),
		zap.Int("total", h.totalClients()),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"identity_id": client.identityID,
		"session_id":  client.sessionID,
		"roles":       client.roles,
		"channels":    []wstypes.ChannelType{wstypes.ChannelAccount},
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.identityID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			client.Close()
			metrics.WebSocketConnections.Dec()

			if len(clients) == 0 {
				delete(h.clients, client.identityID)
			}

			h.logger.Info("websocket client disconnected",
				zap.Int64("identity_id", client.identityID),
				zap.String("session_id", client.sessionID),
				zap.Int("total", h.totalClients()),
			)
		}
	}
}

func (h *Hub) BroadcastMessage(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if msg.IdentityIDs == nil {
		for _, clients := range h.clients {
			for client := range clients {
				if client.IsSubscribed(msg.Channel) {
					client.SendMessage(msg.Message)
				}
			}
		}
		return
	}

	for _, identityID := range msg.IdentityIDs {
		if clients, ok := h.clients[identityID]; ok {
			for client := range clients {
				if client.IsSubscribed(msg.Channel) {
					client.SendMessage(msg.Message)
				}
			}
		}
	}
}

// publish never blocks the caller; events are dropped when the queue is full.
func (h *Hub) publish(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue full, event dropped",
			zap.String("type", string(msg.Message.Type)),
		)
	}
}

func (h *Hub) GetConnectedClients(identityID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[identityID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

// IsUserConnected checks if a user has any active connections
func (h *Hub) IsUserConnected(identityID int64) bool {
	return h.GetConnectedClients(identityID) > 0
}

// NotifyEntitlementChanged tells the owner about a committed subscription
// change and mirrors it on the ledger channel.
func (h *Hub) NotifyEntitlementChanged(userID int64, tier user.Tier, sub *subscription.Subscription, reason string) {
	data := &wstypes.EntitlementData{
		UserID:         userID,
		Tier:           string(tier),
		SubscriptionID: sub.ID,
		Status:         string(sub.Status),
		PlanType:       string(sub.PlanType),
		Reason:         reason,
	}
	if !sub.EndDate.IsZero() {
		end := sub.EndDate
		data.EndDate = &end
	}

	msg := wstypes.NewMessage(wstypes.EventTypeEntitlementChanged, data)
	h.publish(&BroadcastMessage{IdentityIDs: []int64{userID}, Channel: wstypes.ChannelAccount, Message: msg})
	h.publish(&BroadcastMessage{Channel: wstypes.ChannelLedger, Message: msg})
}

func (h *Hub) NotifyPaymentUpdated(p *payment.Payment) {
	msg := wstypes.NewMessage(wstypes.EventTypePaymentUpdated, &wstypes.PaymentData{
		PaymentID:      p.ID,
		UserID:         p.UserID,
		Provider:       string(p.Provider),
		ProviderRef:    p.ProviderRef,
		Status:         string(p.Status),
		Amount:         p.Amount,
		Currency:       p.Currency,
		SubscriptionID: p.SubscriptionID,
	})
	h.publish(&BroadcastMessage{IdentityIDs: []int64{p.UserID}, Channel: wstypes.ChannelAccount, Message: msg})
	h.publish(&BroadcastMessage{Channel: wstypes.ChannelLedger, Message: msg})
}

func (h *Hub) NotifySweepCompleted(result *subscription.SweepResult) {
	msg := wstypes.NewMessage(wstypes.EventTypeSweepCompleted, &wstypes.SweepData{ExpiredCount: result.ExpiredCount})
	h.publish(&BroadcastMessage{Channel: wstypes.ChannelLedger, Message: msg})
}

func (h *Hub) NotifyViewsSettled(s *view.Settlement) {
	msg := wstypes.NewMessage(wstypes.EventTypeViewsSettled, &wstypes.SettlementData{
		Cutoff:         s.Cutoff,
		SettledViews:   s.SettledViews,
		QualifiedViews: s.QualifiedViews,
		Revenue:        s.Revenue,
	})
	h.publish(&BroadcastMessage{Channel: wstypes.ChannelLedger, Message: msg})
}

// totalClients must be called with mu held.
func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, clients := range h.clients {
		for client := range clients {
			client.Close()
			metrics.WebSocketConnections.Dec()
		}
		delete(h.clients, id)
	}
}
