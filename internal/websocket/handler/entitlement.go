// internal/websocket/handler/entitlement.go
package handler

import (
	"context"
	"fmt"

	"royalty-service/internal/domain/subscription"
	wstypes "royalty-service/internal/domain/websocket"
	ws "royalty-service/internal/websocket"
)

// Entitlements is satisfied by the subscription service.
type Entitlements interface {
	GetEntitlements(ctx context.Context, userID int64) (*subscription.Entitlements, error)
	CheckFeatureAccess(ctx context.Context, userID int64, feature string, streams int) (*subscription.FeatureAccessResponse, error)
}

// EntitlementHandler answers account queries from connected players, so
// they can gate playback quality without a REST round trip.
type EntitlementHandler struct {
	entitlements Entitlements
}

func NewEntitlementHandler(entitlements Entitlements) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements}
}

// SupportedEvents returns events this handler supports
func (h *EntitlementHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{
		wstypes.EventTypeEntitlementGet,
		wstypes.EventTypeFeatureCheck,
	}
}

func (h *EntitlementHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	switch msg.Type {
	case wstypes.EventTypeEntitlementGet:
		return h.handleGet(ctx, client)
	case wstypes.EventTypeFeatureCheck:
		return h.handleFeatureCheck(ctx, client, msg)
	default:
		return fmt.Errorf("unsupported event type: %s", msg.Type)
	}
}

func (h *EntitlementHandler) handleGet(ctx context.Context, client *ws.Client) error {
	ent, err := h.entitlements.GetEntitlements(ctx, client.GetIdentityID())
	if err != nil {
		return err
	}
	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeEntitlementGet, ent))
	return nil
}

func (h *EntitlementHandler) handleFeatureCheck(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	var req wstypes.FeatureCheckRequest
	if err := ws.DecodeData(msg.Data, &req); err != nil {
		return fmt.Errorf("invalid feature check: %w", err)
	}

	access, err := h.entitlements.CheckFeatureAccess(ctx, client.GetIdentityID(), req.Feature, req.Streams)
	if err != nil {
		return err
	}
	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeFeatureCheck, access))
	return nil
}
