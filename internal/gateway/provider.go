package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrDeclined marks a business decline by the payment provider. It is not
// transient: retrying the same charge will not make the card any less broke.
var ErrDeclined = errors.New("payment declined")

// ChargeRequest is the body posted to a payment provider.
type ChargeRequest struct {
	PaymentID   string `json:"payment_id"`
	BookingID   string `json:"booking_id"`
	AmountCents int64  `json:"amount_cents"`
}

type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Charge(ctx context.Context, req ChargeRequest) error
}

// HTTPProvider charges through a remote HTTP payment processor, shielded by a
// per-provider circuit breaker.
type HTTPProvider struct {
	name       string
	baseURL    string
	chargePath string
	client     *http.Client
	br         *MicroBreaker
}

func NewHTTPProvider(name, baseURL, chargePath string, timeoutMs, failThreshold, openForMs int) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPProvider{
		name:       name,
		baseURL:    baseURL,
		chargePath: chargePath,
		client:     &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:         NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

func (p *HTTPProvider) Charge(ctx context.Context, req ChargeRequest) error {
	err := p.post(ctx, req)
	if err == nil || errors.Is(err, ErrDeclined) {
		// A decline is a healthy provider giving a definitive answer.
		p.br.OnSuccess()
		return err
	}

	p.br.OnFailure()
	return err
}

func (p *HTTPProvider) post(ctx context.Context, body ChargeRequest) error {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.chargePath, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()

	switch {
	case res.StatusCode/100 == 2:
		return nil
	case res.StatusCode == http.StatusPaymentRequired || res.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("provider=%s: %w", p.name, ErrDeclined)
	default:
		return fmt.Errorf("provider=%s status=%d", p.name, res.StatusCode)
	}
}
