package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/config"
	"entitlement-api/pkg/logging"

	"github.com/google/uuid"
)

// WebhookNotifier pushes entitlement changes to the app backend.
// Delivery is best-effort and always runs off the request path; a dead
// callback never blocks or fails an entitlement operation.
type WebhookNotifier struct {
	httpClient  *http.Client
	callbackURL string
	secret      string
}

// NewWebhookNotifier creates a webhook notifier from configuration
func NewWebhookNotifier() *WebhookNotifier {
	cfg := config.AppConfig
	return &WebhookNotifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		callbackURL: cfg.WebhookCallbackURL,
		secret:      cfg.WebhookSecret,
	}
}

// entitlementEvent is the payload sent to the app backend
type entitlementEvent struct {
	EventID       string `json:"event_id"`
	Event         string `json:"event"`
	UserID        string `json:"user_id"`
	Kind          string `json:"kind,omitempty"`
	PlanKey       string `json:"plan_key,omitempty"`
	Active        bool   `json:"is_active"`
	CoinsAdded    int64  `json:"coins_added,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// NotifyEntitlementChange reports a newly applied entitlement
func (wn *WebhookNotifier) NotifyEntitlementChange(userID string, effect *Effect, transactionID string) {
	if wn.callbackURL == "" {
		return
	}

	event := entitlementEvent{
		EventID:       uuid.NewString(),
		Event:         "entitlement.applied",
		UserID:        userID,
		Kind:          effect.Kind,
		PlanKey:       effect.PlanKey,
		Active:        effect.SubscriptionActive,
		CoinsAdded:    effect.CoinsAdded,
		TransactionID: transactionID,
		Timestamp:     time.Now().Format(time.RFC3339),
	}
	if effect.ExpiresAt != nil {
		event.ExpiresAt = effect.ExpiresAt.Format(time.RFC3339)
	}

	wn.sendWithRetry(event)
}

// NotifyCancellation reports an explicit subscription cancellation
func (wn *WebhookNotifier) NotifyCancellation(userID, planKey string) {
	if wn.callbackURL == "" {
		return
	}

	wn.sendWithRetry(entitlementEvent{
		EventID:   uuid.NewString(),
		Event:     "subscription.cancelled",
		UserID:    userID,
		PlanKey:   planKey,
		Active:    false,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// sendWithRetry delivers with backoff: 1s, 5s, 30s between attempts
func (wn *WebhookNotifier) sendWithRetry(event entitlementEvent) {
	retryDelays := []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}

	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		err := wn.send(event)
		if err == nil {
			logging.Infof("Webhook %s delivered for user %s (attempt %d)", event.Event, event.UserID, attempt+1)
			return
		}

		logging.Errorf("Webhook %s delivery failed for user %s (attempt %d): %v", event.Event, event.UserID, attempt+1, err)
		if attempt < len(retryDelays) {
			time.Sleep(retryDelays[attempt])
		}
	}

	logging.Errorf("Webhook %s for user %s abandoned after %d attempts", event.Event, event.UserID, len(retryDelays)+1)
}

func (wn *WebhookNotifier) send(event entitlementEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, wn.callbackURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Entitlement-Webhook/1.0")
	if wn.secret != "" {
		req.Header.Set("X-Entitlement-Signature", wn.sign(payload))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func (wn *WebhookNotifier) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(wn.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
