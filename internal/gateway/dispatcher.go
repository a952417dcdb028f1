package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrNoHealthy = fmt.Errorf("no healthy providers")
	ErrNoAcquire = fmt.Errorf("provider not acquired")
)

// Dispatcher round-robins charges over the healthy providers, retrying
// transient failures up to maxAttempts. A decline short-circuits: it is a
// definitive answer, not an outage.
type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}

	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, req ChargeRequest) error {
	p, err := d.selectProvider()
	if err != nil {
		return err
	}

	if !p.Acquire() {
		return ErrNoAcquire
	}

	return p.Charge(ctx, req)
}

// Charge attempts the request against the provider pool.
func (d *Dispatcher) Charge(ctx context.Context, req ChargeRequest) error {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		err := d.tryOnce(ctx, req)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrDeclined) {
			return err
		}
		last = err
	}

	if last == nil {
		last = fmt.Errorf("charge failed")
	}

	return last
}
