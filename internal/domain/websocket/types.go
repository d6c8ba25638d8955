// internal/domain/websocket/types.go
package websocket

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// EventType represents different real-time event types
type EventType string

const (
	// Connection events
	EventTypePing         EventType = "ping"
	EventTypePong         EventType = "pong"
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"

	// Ledger events (server -> client)
	EventTypeEntitlementChanged EventType = "entitlement:changed"
	EventTypePaymentUpdated     EventType = "payment:updated"
	EventTypeSweepCompleted     EventType = "ledger:sweep_completed"
	EventTypeViewsSettled       EventType = "ledger:views_settled"

	// Channel management (client -> server)
	EventTypeSubscribe   EventType = "subscribe"
	EventTypeUnsubscribe EventType = "unsubscribe"

	// Account queries (client -> server, answered with the same type)
	EventTypeEntitlementGet EventType = "entitlement:get"
	EventTypeFeatureCheck   EventType = "feature:check"
)

// WSMessage is the universal message format
type WSMessage struct {
	Type      EventType              `json:"type"`
	Data      interface{}            `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id,omitempty"`
}

type ChannelType string

const (
	// ChannelAccount carries events about the connected user's own account.
	ChannelAccount ChannelType = "account"
	// ChannelLedger carries platform-wide payment and sweep events; admins only.
	ChannelLedger ChannelType = "ledger"
)

type SubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

type UnsubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type EntitlementData struct {
	UserID         int64      `json:"user_id"`
	Tier           string     `json:"tier"`
	SubscriptionID int64      `json:"subscription_id"`
	Status         string     `json:"status"`
	PlanType       string     `json:"plan_type"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	Reason         string     `json:"reason"`
}

type PaymentData struct {
	PaymentID      int64           `json:"payment_id"`
	UserID         int64           `json:"user_id"`
	Provider       string          `json:"provider"`
	ProviderRef    string          `json:"provider_ref"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	SubscriptionID *int64          `json:"subscription_id,omitempty"`
}

type SweepData struct {
	ExpiredCount int `json:"expired_count"`
}

type SettlementData struct {
	Cutoff         time.Time       `json:"cutoff"`
	SettledViews   int64           `json:"settled_views"`
	QualifiedViews int64           `json:"qualified_views"`
	Revenue        decimal.Decimal `json:"revenue"`
}

type FeatureCheckRequest struct {
	Feature string `json:"feature"`
	Streams int    `json:"streams,omitempty"`
}

// Helper to create messages
func NewMessage(eventType EventType, data interface{}) *WSMessage {
	return &WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		ID:        ulid.Make().String(),
	}
}

func (m *WSMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ParseMessage(data []byte) (*WSMessage, error) {
	var msg WSMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}
