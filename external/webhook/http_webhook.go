package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/webhook"
	"github.com/go-resty/resty/v2"
)

const (
	webhookTimeout    = 10 * time.Second
	webhookRetryCount = 2
)

type HTTPSender struct {
	webhookURL string
	client     *resty.Client
}

func NewHTTPSender(webhookURL string) *HTTPSender {
	client := resty.New().
		SetTimeout(webhookTimeout).
		SetRetryCount(webhookRetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	return &HTTPSender{webhookURL: webhookURL, client: client}
}

func (s *HTTPSender) SendOutcome(ctx context.Context, payload webhook.OutcomePayload) error {
	return s.post(ctx, payload.Event, payload)
}

func (s *HTTPSender) SendCycleExhausted(ctx context.Context, payload webhook.ExhaustionPayload) error {
	return s.post(ctx, payload.Event, payload)
}

func (s *HTTPSender) post(ctx context.Context, event webhook.Event, payload any) error {
	if s.webhookURL == "" {
		return nil
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Webhook-Event", string(event)).
		SetBody(payload).
		Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("failed to post %s webhook: %w", event, err)
	}
	if !isHTTPSuccessStatus(resp.StatusCode()) {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
