package services

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"entitlement-api/internal/apperr"
	"entitlement-api/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// AppStoreClient verifies transactions against the App Store Server API.
// Each call carries a short-lived ES256 request token; tokens are never
// persisted, they are regenerated per request.
type AppStoreClient struct {
	httpClient *http.Client

	issuerID   string
	keyID      string
	privateKey []byte
	bundleID   string
	baseURL    string
	tokenTTL   time.Duration
}

// NewAppStoreClient creates an App Store client from configuration
func NewAppStoreClient() *AppStoreClient {
	cfg := config.AppConfig
	return &AppStoreClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		issuerID:   cfg.AppleIssuerID,
		keyID:      cfg.AppleKeyID,
		privateKey: []byte(cfg.ApplePrivateKey),
		bundleID:   cfg.AppleBundleID,
		baseURL:    strings.TrimRight(cfg.AppleAPIBaseURL, "/"),
		tokenTTL:   time.Duration(cfg.AppleTokenTTLMin) * time.Minute,
	}
}

// transactionInfoResponse wraps GET /inApps/v1/transactions/{id}
type transactionInfoResponse struct {
	SignedTransactionInfo string `json:"signedTransactionInfo"`
}

// subscriptionStatusResponse wraps GET /inApps/v1/subscriptions/{originalId}
type subscriptionStatusResponse struct {
	Data []struct {
		LastTransactions []struct {
			Status                int    `json:"status"`
			SignedTransactionInfo string `json:"signedTransactionInfo"`
			SignedRenewalInfo     string `json:"signedRenewalInfo"`
		} `json:"lastTransactions"`
	} `json:"data"`
}

type appStoreErrorResponse struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// appleTransactionPayload is the decoded middle segment of a signed
// transaction. Apple uses camelCase for field names.
type appleTransactionPayload struct {
	TransactionID         string          `json:"transactionId"`
	OriginalTransactionID string          `json:"originalTransactionId"`
	ProductID             string          `json:"productId"`
	PurchaseDate          appleTimestamp  `json:"purchaseDate"`
	ExpiresDate           *appleTimestamp `json:"expiresDate"`
}

type appleRenewalPayload struct {
	OriginalTransactionID string `json:"originalTransactionId"`
	AutoRenewStatus       int    `json:"autoRenewStatus"`
}

// VerifyTransaction looks up one transaction and normalizes its payload
func (c *AppStoreClient) VerifyTransaction(ctx context.Context, transactionID string) (*PurchaseRecord, error) {
	body, err := c.get(ctx, "/inApps/v1/transactions/"+transactionID)
	if err != nil {
		return nil, err
	}

	var info transactionInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &apperr.DecodeError{Message: "failed to parse transaction response", Err: err}
	}

	payload, raw, err := decodeSignedPayload(info.SignedTransactionInfo)
	if err != nil {
		return nil, err
	}

	return payload.toRecord(raw), nil
}

// SubscriptionStatuses returns all transaction/renewal-info pairs the store
// reports for a renewal chain.
func (c *AppStoreClient) SubscriptionStatuses(ctx context.Context, originalTransactionID string) ([]RenewalCandidate, error) {
	body, err := c.get(ctx, "/inApps/v1/subscriptions/"+originalTransactionID)
	if err != nil {
		return nil, err
	}

	var status subscriptionStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &apperr.DecodeError{Message: "failed to parse subscription status response", Err: err}
	}

	var candidates []RenewalCandidate
	for _, group := range status.Data {
		for _, last := range group.LastTransactions {
			payload, raw, err := decodeSignedPayload(last.SignedTransactionInfo)
			if err != nil {
				return nil, err
			}

			autoRenew := false
			if last.SignedRenewalInfo != "" {
				renewal, err := decodeRenewalPayload(last.SignedRenewalInfo)
				if err != nil {
					return nil, err
				}
				autoRenew = renewal.AutoRenewStatus == 1
			}

			candidates = append(candidates, RenewalCandidate{
				PurchaseRecord: *payload.toRecord(raw),
				AutoRenew:      autoRenew,
			})
		}
	}

	return candidates, nil
}

func (c *AppStoreClient) get(ctx context.Context, path string) ([]byte, error) {
	token, err := c.requestToken()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperr.ProviderError{Provider: ProviderApple, StatusCode: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.ProviderError{Provider: ProviderApple, StatusCode: http.StatusBadGateway, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(body))
		var storeErr appStoreErrorResponse
		if err := json.Unmarshal(body, &storeErr); err == nil && storeErr.ErrorMessage != "" {
			message = fmt.Sprintf("%d: %s", storeErr.ErrorCode, storeErr.ErrorMessage)
		}
		return nil, &apperr.ProviderError{Provider: ProviderApple, StatusCode: resp.StatusCode, Message: message}
	}

	return body, nil
}

// requestToken builds the signed, time-boxed authorization token expected by
// the App Store Server API.
func (c *AppStoreClient) requestToken() (string, error) {
	if len(c.privateKey) == 0 {
		return "", fmt.Errorf("apple private key is not configured")
	}

	block, _ := pem.Decode(c.privateKey)
	if block == nil {
		return "", fmt.Errorf("failed to decode apple private key PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// App Store Connect keys are PKCS8; accept raw EC as well
		key, err = x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("failed to parse apple private key: %w", err)
		}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.issuerID,
		"iat": now.Unix(),
		"exp": now.Add(c.tokenTTL).Unix(),
		"aud": "appstoreconnect-v1",
		"bid": c.bundleID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.keyID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign apple request token: %w", err)
	}
	return signed, nil
}

// decodeSignedPayload trust-decodes the middle base64url segment of a JWS.
// No cryptographic verification is performed at this layer; the payload was
// fetched over an authenticated channel from the store itself.
func decodeSignedPayload(signed string) (*appleTransactionPayload, string, error) {
	raw, err := jwsPayload(signed)
	if err != nil {
		return nil, "", err
	}

	var payload appleTransactionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, "", &apperr.DecodeError{Message: "failed to parse signed transaction payload", Err: err}
	}
	if payload.TransactionID == "" || payload.ProductID == "" {
		return nil, "", &apperr.DecodeError{Message: "signed transaction payload is missing transactionId or productId"}
	}
	return &payload, string(raw), nil
}

func decodeRenewalPayload(signed string) (*appleRenewalPayload, error) {
	raw, err := jwsPayload(signed)
	if err != nil {
		return nil, err
	}

	var payload appleRenewalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &apperr.DecodeError{Message: "failed to parse signed renewal payload", Err: err}
	}
	return &payload, nil
}

func jwsPayload(signed string) ([]byte, error) {
	parts := strings.Split(signed, ".")
	if len(parts) != 3 {
		return nil, &apperr.DecodeError{Message: fmt.Sprintf("signed payload has %d segments, want 3", len(parts))}
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, &apperr.DecodeError{Message: "failed to decode signed payload segment", Err: err}
	}
	return raw, nil
}

func (p *appleTransactionPayload) toRecord(raw string) *PurchaseRecord {
	record := &PurchaseRecord{
		TransactionID:         p.TransactionID,
		OriginalTransactionID: p.OriginalTransactionID,
		StoreProductID:        p.ProductID,
		PurchasedAt:           p.PurchaseDate.Time,
		Raw:                   raw,
	}
	if p.ExpiresDate != nil && !p.ExpiresDate.IsZero() {
		expires := p.ExpiresDate.Time
		record.ExpiresAt = &expires
	}
	return record
}

// appleTimestamp normalizes the store's date formats: epoch-millisecond
// numbers, epoch-millisecond strings, or ISO strings.
type appleTimestamp struct {
	time.Time
}

func (t *appleTimestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return &apperr.DecodeError{Message: "invalid date value", Err: err}
		}
		if millis, err := strconv.ParseInt(str, 10, 64); err == nil {
			t.Time = time.UnixMilli(millis).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return &apperr.DecodeError{Message: fmt.Sprintf("unrecognized date format %q", str)}
		}
		t.Time = parsed.UTC()
		return nil
	}

	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return &apperr.DecodeError{Message: "invalid date value", Err: err}
	}
	millis, err := number.Int64()
	if err != nil {
		// Apple occasionally sends fractional milliseconds
		f, ferr := number.Float64()
		if ferr != nil {
			return &apperr.DecodeError{Message: fmt.Sprintf("unrecognized date value %s", number)}
		}
		millis = int64(f)
	}
	t.Time = time.UnixMilli(millis).UTC()
	return nil
}
