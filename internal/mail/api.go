// api.go -- HTTP email API client.
//
// POSTs one JSON document per email to {base_url}/emails, authenticated with
// an X-Auth-Token header. Any non-2xx answer is ErrSendFailed.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIConfig holds all configuration for APIMailer.
type APIConfig struct {
	BaseURL    string
	AuthToken  string
	ProjectID  string
	Sender     string
	SenderName string
	Timeout    time.Duration
}

// APIMailer sends email through an HTTP transactional email API.
type APIMailer struct {
	cfg        APIConfig
	httpClient *http.Client
}

// NewAPIMailer returns an APIMailer whose HTTP client gives up after cfg.Timeout.
func NewAPIMailer(cfg APIConfig) *APIMailer {
	return &APIMailer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type apiAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type apiSendRequest struct {
	From      apiAddress   `json:"from"`
	To        []apiAddress `json:"to"`
	Subject   string       `json:"subject"`
	Text      string       `json:"text"`
	HTML      string       `json:"html"`
	ProjectID string       `json:"project_id"`
}

// Send delivers one email. Timeouts and network errors are returned wrapped;
// provider rejections wrap ErrSendFailed with the status and a body excerpt.
func (m *APIMailer) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	payload, err := json.Marshal(apiSendRequest{
		From:      apiAddress{Email: m.cfg.Sender, Name: m.cfg.SenderName},
		To:        []apiAddress{{Email: recipient}},
		Subject:   subject,
		Text:      textBody,
		HTML:      htmlBody,
		ProjectID: m.cfg.ProjectID,
	})
	if err != nil {
		return fmt.Errorf("email api: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("email api: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", m.cfg.AuthToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email api: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, bytes.TrimSpace(excerpt))
	}
	// Drain so the connection can be reused
	io.Copy(io.Discard, resp.Body)
	return nil
}
