package store

import (
	"sync"

	"github.com/efreitasn/carbonexchange/internal/domain"
)

// WebhookStore is a thread-safe in-memory store for webhooks.
// Primary index: webhook_id → webhook.
// Secondary index: account_id → event → webhook.
type WebhookStore struct {
	mu        sync.RWMutex
	webhooks  map[string]*domain.Webhook
	byAccount map[string]map[string]*domain.Webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks:  make(map[string]*domain.Webhook),
		byAccount: make(map[string]map[string]*domain.Webhook),
	}
}

// Upsert inserts or updates a subscription keyed by (account, event). An
// existing subscription keeps its ID and only its URL changes. Returns
// true if a new subscription was created.
func (s *WebhookStore) Upsert(w *domain.Webhook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byAccount[w.AccountID][w.Event]; ok {
		if existing.URL != w.URL {
			// Stored webhooks are never mutated in place; readers may hold them.
			updated := *existing
			updated.URL = w.URL
			updated.UpdatedAt = w.UpdatedAt
			s.webhooks[updated.WebhookID] = &updated
			s.byAccount[w.AccountID][w.Event] = &updated
		}
		return false
	}

	s.webhooks[w.WebhookID] = w
	if s.byAccount[w.AccountID] == nil {
		s.byAccount[w.AccountID] = make(map[string]*domain.Webhook)
	}
	s.byAccount[w.AccountID][w.Event] = w
	return true
}

// Get retrieves a webhook by ID. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return w, nil
}

// ListByAccount returns all webhooks for an account.
func (s *WebhookStore) ListByAccount(account string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.byAccount[account]
	result := make([]*domain.Webhook, 0, len(evs))
	for _, w := range evs {
		result = append(result, w)
	}
	return result
}

// ListByEvent returns every subscription to event across accounts.
func (s *WebhookStore) ListByEvent(event string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Webhook
	for _, evs := range s.byAccount {
		if w, ok := evs[event]; ok {
			result = append(result, w)
		}
	}
	return result
}

// GetByAccountEvent returns the webhook for an account+event pair,
// or nil if no subscription exists.
func (s *WebhookStore) GetByAccountEvent(account, event string) *domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byAccount[account][event]
}

// Delete removes a webhook by ID from both indexes. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	delete(s.webhooks, id)
	if evs, ok := s.byAccount[w.AccountID]; ok {
		delete(evs, w.Event)
		if len(evs) == 0 {
			delete(s.byAccount, w.AccountID)
		}
	}
	return nil
}
