package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/libris-app/libris/internal/libris/models"
	"github.com/shopspring/decimal"
)

// Gateway creates checkout sessions against an external payment
// provider relay. The relay owns the real provider protocol; this
// client only exchanges JSON with it.
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, session *models.PaymentSession) (string, error)
}

// HTTPGateway talks to one provider relay over HTTP.
type HTTPGateway struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewStripeGateway creates a client for the Stripe relay.
func NewStripeGateway(baseURL string) *HTTPGateway {
	return newHTTPGateway(models.ProviderStripe, baseURL)
}

// NewIyzicoGateway creates a client for the Iyzico relay.
func NewIyzicoGateway(baseURL string) *HTTPGateway {
	return newHTTPGateway(models.ProviderIyzico, baseURL)
}

func newHTTPGateway(name, baseURL string) *HTTPGateway {
	return &HTTPGateway{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (g *HTTPGateway) Name() string {
	return g.name
}

type checkoutRequest struct {
	SessionID string          `json:"session_id"`
	LoanID    int64           `json:"loan_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckout registers the payment with the provider relay and
// returns the URL the user is redirected to.
func (g *HTTPGateway) CreateCheckout(ctx context.Context, session *models.PaymentSession) (string, error) {
	if g.baseURL == "" {
		return "", fmt.Errorf("%s gateway not configured", g.name)
	}

	payload, err := json.Marshal(checkoutRequest{
		SessionID: session.ID,
		LoanID:    session.LoanID,
		Amount:    session.Amount,
		Currency:  "USD",
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/checkout", g.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%s gateway returned status %d", g.name, resp.StatusCode)
	}

	var checkout checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&checkout); err != nil {
		return "", err
	}
	if checkout.CheckoutURL == "" {
		return "", fmt.Errorf("%s gateway returned no checkout URL", g.name)
	}

	return checkout.CheckoutURL, nil
}
