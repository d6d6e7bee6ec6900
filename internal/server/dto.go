package server

import (
	"quoteline/internal/config"
	"quoteline/internal/domain"
	"quoteline/internal/engine"
)

// Request payloads

type AddQuoteRequest struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

type EditQuoteRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type ShortcutRequest struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category,omitempty"`
}

type RefreshRequest struct {
	Channel string `json:"channel,omitempty"`
}

type SetChannelRequest struct {
	Channel string `json:"channel"`
}

// Response payloads

type CommissionResponse struct {
	Kind      string `json:"kind"`
	Count     int    `json:"count"`
	UnitPrice int    `json:"unit_price"`
	Stage     string `json:"stage"`
	Subtotal  int    `json:"subtotal"`
}

type QuoteResponse struct {
	ID                 int                  `json:"id"`
	Status             string               `json:"status"`
	CustomerName       string               `json:"customer_name"`
	Contact            string               `json:"contact"`
	ContactInfo        string               `json:"contact_info"`
	PaymentMethod      string               `json:"payment_method"`
	PaymentReceived    bool                 `json:"payment_received"`
	EstimateStartDate  string               `json:"estimated_start_date"`
	Items              []CommissionResponse `json:"items"`
	Total              int                  `json:"total"`
	Unpriced           bool                 `json:"unpriced"`
	Comment            string               `json:"comment,omitempty"`
	ExternalMessageRef string               `json:"external_message_ref,omitempty"`
	CreatedAt          int64                `json:"created_at"`
	LastUpdate         int64                `json:"last_update"`
	Rendered           bool                 `json:"rendered"`
}

type WorkspaceResponse struct {
	ID      string         `json:"id"`
	Summary engine.Summary `json:"summary"`
}

type ConfigResponse struct {
	WorkspaceID  string            `json:"workspace_id"`
	Categories   []config.Category `json:"categories"`
	AwaitSeconds int               `json:"await_seconds"`
}

type EventResponse struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id"`
	QuoteID     string `json:"quote_id,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

func quoteResponse(q domain.Quote, rendered bool) QuoteResponse {
	items := make([]CommissionResponse, 0, len(q.Items))
	for _, item := range q.Items {
		items = append(items, CommissionResponse{
			Kind:      item.Kind,
			Count:     item.Count,
			UnitPrice: item.UnitPrice,
			Stage:     item.Stage.String(),
			Subtotal:  item.Subtotal(),
		})
	}
	return QuoteResponse{
		ID:                 q.ID,
		Status:             q.Status.String(),
		CustomerName:       q.Customer.Name,
		Contact:            q.Customer.Contact,
		ContactInfo:        q.Customer.ContactInfo,
		PaymentMethod:      q.Customer.PaymentMethod.String(),
		PaymentReceived:    q.PaymentReceived,
		EstimateStartDate:  q.EstimateStartDate,
		Items:              items,
		Total:              q.Total(),
		Unpriced:           q.Unpriced(),
		Comment:            q.Comment,
		ExternalMessageRef: q.ExternalMessageRef,
		CreatedAt:          q.CreatedAt,
		LastUpdate:         q.LastUpdate,
		Rendered:           rendered,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:          evt.ID,
		TS:          evt.TS,
		Type:        evt.Type,
		WorkspaceID: evt.WorkspaceID,
		QuoteID:     evt.QuoteID,
		ActorID:     evt.ActorID,
		Payload:     evt.Payload,
	}
}
