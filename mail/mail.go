// Package mail renders and delivers the auth emails. Sender is the
// transport contract; ResendClient speaks the Resend HTTP API and
// LogSender is a no-delivery stand-in for development.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultResendURL = "https://api.resend.com/emails"

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ResendClient posts messages to the Resend API.
type ResendClient struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
}

type ResendOption func(*ResendClient)

func WithBaseURL(url string) ResendOption {
	return func(c *ResendClient) { c.baseURL = url }
}

func WithHTTPClient(client *http.Client) ResendOption {
	return func(c *ResendClient) { c.client = client }
}

// NewResendClient fails fast when the key or sender address is missing
// rather than failing on the first delivery.
func NewResendClient(apiKey, from string, opts ...ResendOption) (*ResendClient, error) {
	if apiKey == "" {
		return nil, errors.New("mail: resend api key is required")
	}
	if from == "" {
		return nil, errors.New("mail: sender address is required")
	}
	c := &ResendClient{
		apiKey:  apiKey,
		from:    from,
		baseURL: defaultResendURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *ResendClient) Send(ctx context.Context, to, subject, htmlBody string) error {
	payload, err := json.Marshal(map[string]any{
		"from":    c.from,
		"to":      []string{to},
		"subject": subject,
		"html":    htmlBody,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail: resend returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

// LogSender logs instead of delivering. Useful for local development
// where no mail provider is configured.
type LogSender struct {
	Log zerolog.Logger
}

func (l LogSender) Send(_ context.Context, to, subject, _ string) error {
	l.Log.Info().Str("to", to).Str("subject", subject).Msg("mail delivery skipped (log sender)")
	return nil
}

// Service renders the two auth messages over any Sender. It implements
// the orchestrator's Mailer contract.
type Service struct {
	sender Sender
}

func NewService(sender Sender) *Service {
	return &Service{sender: sender}
}

func (s *Service) SendVerificationCode(ctx context.Context, email, code string) error {
	body := fmt.Sprintf(
		"<p>Your verification code is: <b>%s</b></p><p>Enter this code in the app to verify your email. This code will expire in 10 minutes.</p>",
		html.EscapeString(code),
	)
	return s.sender.Send(ctx, email, "Verify your email", body)
}

func (s *Service) SendPasswordResetCode(ctx context.Context, email, code string) error {
	body := fmt.Sprintf(
		"<p>Your password reset code is: <b>%s</b></p><p>Enter this code in the app to reset your password. This code will expire in 10 minutes.</p><p>If you did not request a password reset, please ignore this email.</p>",
		html.EscapeString(code),
	)
	return s.sender.Send(ctx, email, "Password Reset Request", body)
}
