// mail.go
//
// MockMailer implements mail.Mailer for tests across packages.
package testutil

import (
	"context"
	"sync"
	"time"
)

// SentEmail is one recorded MockMailer.Send call.
type SentEmail struct {
	Recipient string
	Subject   string
	HTML      string
	Text      string
}

// MockMailer records every Send call. Safe for concurrent use.
// SendErr is returned from every call when set. Delay simulates a slow provider
// and honours ctx, so a short deadline turns into ctx.Err().
type MockMailer struct {
	SendErr error
	Delay   time.Duration

	mu   sync.Mutex
	sent []SentEmail
}

func (m *MockMailer) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			m.record(recipient, subject, htmlBody, textBody)
			return ctx.Err()
		}
	}
	m.record(recipient, subject, htmlBody, textBody)
	return m.SendErr
}

func (m *MockMailer) record(recipient, subject, htmlBody, textBody string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentEmail{Recipient: recipient, Subject: subject, HTML: htmlBody, Text: textBody})
}

// Sent returns a copy of all recorded calls, in call order.
func (m *MockMailer) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmail(nil), m.sent...)
}

// SentTo counts calls addressed to recipient.
func (m *MockMailer) SentTo(recipient string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Recipient == recipient {
			n++
		}
	}
	return n
}
