package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"custodial-wallet-pool/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// notifierRetryIntervals spaces out redelivery of a completion event.
var notifierRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	5 * time.Minute,
}

// SignatureHeader carries the HMAC-SHA256 of the request body, hex encoded.
const SignatureHeader = "X-Pool-Signature"

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookNotifier delivers terminal payment outcomes to the configured
// endpoint. Bodies are HMAC-signed; deliveries run behind a circuit breaker
// so a dead receiver does not soak up retry goroutines. Stop abandons
// pending redeliveries so deliveries never outlive a graceful shutdown.
type WebhookNotifier struct {
	url        string
	secret     string
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWebhookNotifier(url, secret string, sigSvc ports.SignatureService, httpClient HTTPClient, log zerolog.Logger) *WebhookNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookNotifier{
		url:        url,
		secret:     secret,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		ctx:        ctx,
		cancel:     cancel,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "completion-webhook",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("webhook breaker state change")
			},
		}),
		log: log,
	}
}

// Notify satisfies ports.CompletionFunc as a method value. Delivery is
// asynchronous: the watcher that reached the terminal state must not block
// on a slow receiver.
func (n *WebhookNotifier) Notify(outcome ports.PaymentOutcome) {
	if n.url == "" {
		n.log.Debug().Str("session_id", outcome.SessionID).Msg("webhook: no endpoint configured, skipping")
		return
	}

	body, err := json.Marshal(outcome)
	if err != nil {
		n.log.Error().Err(err).Str("session_id", outcome.SessionID).Msg("webhook: marshal failed")
		return
	}

	n.wg.Add(1)
	go n.deliverWithRetries(body, outcome.SessionID)
}

// Stop cancels in-flight deliveries and waits for their goroutines to exit.
func (n *WebhookNotifier) Stop() {
	n.cancel()
	n.wg.Wait()
}

func (n *WebhookNotifier) deliverWithRetries(body []byte, sessionID string) {
	defer n.wg.Done()

	signature := n.sigSvc.Sign(n.secret, string(body))

	for attempt := 0; attempt <= len(notifierRetryIntervals); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(notifierRetryIntervals[attempt-1]):
			case <-n.ctx.Done():
				n.log.Info().Str("session_id", sessionID).Msg("webhook: shutting down, redelivery abandoned")
				return
			}
		}

		_, err := n.breaker.Execute(func() (interface{}, error) {
			return nil, n.deliver(body, signature)
		})
		if err == nil {
			n.log.Info().Str("session_id", sessionID).Int("attempt", attempt+1).Msg("webhook: delivered")
			return
		}
		n.log.Warn().Err(err).Str("session_id", sessionID).Int("attempt", attempt+1).Msg("webhook: delivery failed")
	}

	n.log.Error().Str("session_id", sessionID).Msg("webhook: all retry attempts exhausted")
}

func (n *WebhookNotifier) deliver(body []byte, signature string) error {
	req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}
