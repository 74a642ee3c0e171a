package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/libris-app/libris/internal/libris/logger"
)

// Mailer delivers outbound mail. Delivery is best-effort everywhere it
// is used: a failed send is logged and never fails the operation that
// triggered it.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// RelayMailer posts mail to an HTTP relay service.
type RelayMailer struct {
	baseURL    string
	from       string
	httpClient *http.Client
}

// NewRelayMailer creates a mailer against the relay at baseURL.
func NewRelayMailer(baseURL, from string) *RelayMailer {
	return &RelayMailer{
		baseURL: baseURL,
		from:    from,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type mailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (m *RelayMailer) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(mailRequest{
		From:    m.from,
		To:      to,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/send", m.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}
	return nil
}

// LogMailer is the fallback when no relay is configured; it records
// what would have been sent.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, _ string) error {
	logger.Info().Str("to", to).Str("subject", subject).Msg("mail relay not configured, dropping mail")
	return nil
}

// NewMailer picks the relay mailer when a relay URL is configured.
func NewMailer(baseURL, from string) Mailer {
	if baseURL == "" {
		return LogMailer{}
	}
	return NewRelayMailer(baseURL, from)
}
