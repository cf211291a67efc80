package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/carbonexchange/internal/access"
	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/events"
	"github.com/efreitasn/carbonexchange/internal/store"
)

// Valid webhook event types.
var validWebhookEvents = func() map[string]bool {
	m := make(map[string]bool, len(events.Names))
	for _, n := range events.Names {
		m[n] = true
	}
	return m
}()

const maxWebhookURLLength = 2048

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	AccountID string
	URL       string
	Events    []string
}

// WebhookService handles webhook CRUD and event delivery.
type WebhookService struct {
	store  *store.WebhookStore
	access access.Checker
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewWebhookService creates a new WebhookService. A nil client gets a
// five second timeout.
func NewWebhookService(
	webhookStore *store.WebhookStore,
	checker access.Checker,
	client *http.Client,
	logger *slog.Logger,
) *WebhookService {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		store:  webhookStore,
		access: checker,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Upsert validates the request and creates or updates one subscription
// per event. Returns the resulting webhooks and whether any new
// subscription was created.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if req.AccountID == "" {
		return nil, false, &domain.ValidationError{Message: "account is required"}
	}
	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > maxWebhookURLLength {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || parsed.Host == "" {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https"}
	}
	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must not be empty"}
	}

	seen := make(map[string]bool, len(req.Events))
	names := make([]string, 0, len(req.Events))
	for _, e := range req.Events {
		if !validWebhookEvents[e] {
			return nil, false, &domain.ValidationError{Message: "unknown event type: " + e}
		}
		if !seen[e] {
			seen[e] = true
			names = append(names, e)
		}
	}

	now := s.now().UTC()
	created := false
	webhooks := make([]*domain.Webhook, 0, len(names))
	for _, e := range names {
		wh := &domain.Webhook{
			WebhookID: uuid.New().String(),
			AccountID: req.AccountID,
			Event:     e,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if s.store.Upsert(wh) {
			created = true
		} else {
			wh = s.store.GetByAccountEvent(req.AccountID, e)
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, created, nil
}

// List returns all subscriptions of an account.
func (s *WebhookService) List(account string) []*domain.Webhook {
	return s.store.ListByAccount(account)
}

// Delete removes a subscription. Only its owner or an operator may
// delete it.
func (s *WebhookService) Delete(caller, webhookID string) error {
	wh, err := s.store.Get(webhookID)
	if err != nil {
		return err
	}
	if caller != wh.AccountID {
		if err := s.access.Require(caller, access.RoleOperator, "delete webhook "+webhookID); err != nil {
			return err
		}
	}
	return s.store.Delete(webhookID)
}

// webhookPayload is the JSON body of every delivery.
type webhookPayload struct {
	Event     string       `json:"event"`
	Timestamp string       `json:"timestamp"`
	Data      events.Event `json:"data"`
}

// Notify is an events.Subscriber. Account-scoped events go to the
// subscriptions of the accounts they concern; market-wide events go to
// every subscriber of the event.
func (s *WebhookService) Notify(e events.Event) {
	name := e.Name()
	var targets []*domain.Webhook
	if scoped, ok := e.(events.AccountScoped); ok {
		seen := make(map[string]bool)
		for _, account := range scoped.Accounts() {
			if account == "" || seen[account] {
				continue
			}
			seen[account] = true
			if wh := s.store.GetByAccountEvent(account, name); wh != nil {
				targets = append(targets, wh)
			}
		}
	} else {
		targets = s.store.ListByEvent(name)
	}
	if len(targets) == 0 {
		return
	}

	payload := webhookPayload{
		Event:     name,
		Timestamp: s.now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Data:      e,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode webhook payload", slog.String("event", name), slog.Any("error", err))
		return
	}
	for _, wh := range targets {
		go s.deliver(wh, name, body)
	}
}

// deliver sends the webhook payload via HTTP POST, bounded by the client
// timeout. Failures are logged and not retried.
func (s *WebhookService) deliver(wh *domain.Webhook, eventType string, body []byte) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return
	}
	deliveryID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", deliveryID)
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", eventType)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			slog.String("webhook_id", wh.WebhookID),
			slog.String("delivery_id", deliveryID),
			slog.Any("error", err),
		)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("webhook rejected",
			slog.String("webhook_id", wh.WebhookID),
			slog.String("delivery_id", deliveryID),
			slog.Int("status", resp.StatusCode),
		)
	}
}
