package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/config"
	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// ReceiptMailer sends a purchase receipt via the Brevo API when a new
// transaction credits an entitlement. Strictly best-effort.
type ReceiptMailer struct {
	httpClient *http.Client
	apiKey     string
	fromEmail  string
	fromName   string
}

// NewReceiptMailer creates a receipt mailer from configuration
func NewReceiptMailer() *ReceiptMailer {
	cfg := config.AppConfig
	return &ReceiptMailer{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		apiKey:    cfg.BrevoAPIKey,
		fromEmail: cfg.BrevoFromEmail,
		fromName:  cfg.BrevoFromName,
	}
}

type emailRequest struct {
	Sender      emailAddress   `json:"sender"`
	To          []emailAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	TextContent string         `json:"textContent"`
}

type emailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// SendPurchaseReceipt emails a short confirmation of the applied effect
func (m *ReceiptMailer) SendPurchaseReceipt(to string, effect *Effect, record *PurchaseRecord) {
	if m.apiKey == "" || m.fromEmail == "" || to == "" {
		return
	}

	var subject, line string
	switch effect.Kind {
	case models.KindSubscription:
		subject = "Your subscription is confirmed"
		line = fmt.Sprintf("Your %s subscription is now set up.", effect.PlanKey)
		if effect.ExpiresAt != nil {
			line += fmt.Sprintf(" It runs until %s.", effect.ExpiresAt.Format("January 2, 2006"))
		}
	case models.KindCoins:
		subject = "Your coins have been credited"
		line = fmt.Sprintf("%d coins were added to your account. Your balance is now %d.", effect.CoinsAdded, effect.CoinsBalance)
	default:
		return
	}

	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #f8f9fa; padding: 30px; border-radius: 10px;">
				<h1 style="color: #333;">%s</h1>
				<p style="color: #666; font-size: 16px;">%s</p>
				<p style="color: #999; font-size: 12px;">Reference: %s</p>
			</div>
		</body>
		</html>
	`, subject, line, record.TransactionID)

	textContent := fmt.Sprintf("%s\n\n%s\n\nReference: %s\n", subject, line, record.TransactionID)

	err := m.send(emailRequest{
		Sender:      emailAddress{Name: m.fromName, Email: m.fromEmail},
		To:          []emailAddress{{Email: to}},
		Subject:     subject,
		HTMLContent: htmlContent,
		TextContent: textContent,
	})
	if err != nil {
		logging.Errorf("Receipt email for transaction %s failed: %v", record.TransactionID, err)
	}
}

func (m *ReceiptMailer) send(req emailRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, "https://api.brevo.com/v3/smtp/email", bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", m.apiKey)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("brevo API error: status %d", resp.StatusCode)
	}
	return nil
}
