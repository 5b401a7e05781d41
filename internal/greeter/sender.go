package greeter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// errRejected marks a request the provider answered but refused. It fails
// the recipient without counting against the circuit breaker.
var errRejected = errors.New("mail provider rejected request")

type mailRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

type mailResponse struct {
	Status string `json:"status"`
}

// MailSender posts greetings to the mail provider behind a circuit breaker.
type MailSender struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[bool]
}

type SenderOption func(*MailSender)

func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *MailSender) { s.client = c }
}

// WithBreaker replaces the default breaker, e.g. to share one across senders.
func WithBreaker(b *gobreaker.CircuitBreaker[bool]) SenderOption {
	return func(s *MailSender) { s.breaker = b }
}

func NewMailSender(url string, timeout time.Duration, opts ...SenderOption) *MailSender {
	s := &MailSender{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: NewBreaker("mail-provider"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewBreaker opens after more than five consecutive transport or server errors.
func NewBreaker(name string) *gobreaker.CircuitBreaker[bool] {
	return gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errRejected)
		},
	})
}

// Send reports whether the provider answered with status "sent".
func (s *MailSender) Send(ctx context.Context, email, message string) (bool, error) {
	return s.breaker.Execute(func() (bool, error) {
		return s.post(ctx, email, message)
	})
}

func (s *MailSender) post(ctx context.Context, email, message string) (bool, error) {
	body, err := json.Marshal(mailRequest{Email: email, Message: message})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("post to mail provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("mail provider returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	}

	var out mailResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: undecodable response: %v", errRejected, err)
	}
	return out.Status == "sent", nil
}
