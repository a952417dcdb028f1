package consumer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmehdipour/booking-saga/internal/event"
	"github.com/jmehdipour/booking-saga/internal/metrics"
	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmehdipour/booking-saga/internal/util"
	amqp "github.com/rabbitmq/amqp091-go"
)

// retryHeader carries the delivery attempt count across redeliveries. The
// runner republishes to its own queue through the default exchange instead of
// nack-requeueing, so the counter survives and hot requeue loops cannot form.
const retryHeader = "x-retry-count"

// HandlerFunc processes one decoded event. Contract:
//   - return nil to acknowledge, including the "already applied" duplicate
//     case where handlers short-circuit idempotently and report success;
//   - business-rule failures emit a failure event inside the handler and
//     return nil, so downstream compensation gets its signal;
//   - only transient infrastructure errors are returned, and those are
//     retried per the event's policy.
type HandlerFunc func(ctx context.Context, env event.Envelope) error

// Policy is the per-event-type retry budget. Compensating handlers get large
// budgets; informational ones may log-and-continue when exhausted instead of
// dead-lettering.
type Policy struct {
	MaxAttempts    int
	LogAndContinue bool
}

// Broker is the slice of broker.Client the runner needs.
type Broker interface {
	Consume(ctx context.Context, exchange, queue string, routingKeys []string) (<-chan amqp.Delivery, error)
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
}

// DeadLetterStore persists messages that exhausted their budget.
type DeadLetterStore interface {
	Insert(ctx context.Context, rec model.DeadLetterRecord) error
}

// Dedup is an optional fast-path duplicate filter (Redis-backed in
// production). The authoritative idempotency check stays in domain state; a
// dedup miss only means the handler runs and short-circuits there.
type Dedup interface {
	Seen(ctx context.Context, group, eventID string) (bool, error)
	Mark(ctx context.Context, group, eventID string) error
}

// Runner consumes one service's queue and dispatches on event name.
type Runner struct {
	Broker      Broker
	DeadLetters DeadLetterStore
	Dedup       Dedup // optional

	Queue    string
	Bindings []string
	Exchange string

	Handlers      map[string]HandlerFunc
	Policies      map[string]Policy
	DefaultPolicy Policy

	HandleTimeout time.Duration
}

// NewRunner builds a runner with sane defaults.
func NewRunner(broker Broker, dlq DeadLetterStore, queue string, bindings []string) *Runner {
	return &Runner{
		Broker:        broker,
		DeadLetters:   dlq,
		Queue:         queue,
		Bindings:      bindings,
		Exchange:      event.Exchange,
		Handlers:      map[string]HandlerFunc{},
		Policies:      map[string]Policy{},
		DefaultPolicy: Policy{MaxAttempts: 3},
		HandleTimeout: 30 * time.Second,
	}
}

// Handle registers a handler and its retry policy for an event name.
func (r *Runner) Handle(eventName string, policy Policy, fn HandlerFunc) {
	r.Handlers[eventName] = fn
	if policy.MaxAttempts > 0 || policy.LogAndContinue {
		r.Policies[eventName] = policy
	}
}

// Run blocks until ctx is cancelled. A dropped AMQP channel closes the
// delivery stream; the runner re-subscribes with a short pause rather than
// exiting.
func (r *Runner) Run(ctx context.Context) error {
	if r.HandleTimeout <= 0 {
		r.HandleTimeout = 30 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		deliveries, err := r.Broker.Consume(ctx, r.Exchange, r.Queue, r.Bindings)
		if err != nil {
			log.Printf("[consumer:%s] subscribe err: %v", r.Queue, err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		r.pump(ctx, deliveries)
	}
}

// pump drains one delivery stream; it returns when ctx is cancelled or the
// stream closes underneath us.
func (r *Runner) pump(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Printf("[consumer:%s] delivery stream closed, resubscribing", r.Queue)
				return
			}
			r.handle(ctx, d)
		}
	}
}

func (r *Runner) handle(ctx context.Context, d amqp.Delivery) {
	env, err := event.Decode(d.Body)
	if err != nil {
		// Malformed payloads never become processable; park them immediately.
		r.deadLetter(ctx, envelopeStub(d.Body), d, 1, fmt.Sprintf("malformed envelope: %v", err))
		_ = d.Ack(false)
		return
	}

	fn, ok := r.Handlers[env.EventName]
	if !ok {
		log.Printf("[consumer:%s] no handler for %s, dropping", r.Queue, env.EventName)
		metrics.ConsumedTotal.WithLabelValues(r.Queue, env.EventName, "dropped").Inc()
		_ = d.Ack(false)
		return
	}

	if r.Dedup != nil {
		if seen, derr := r.Dedup.Seen(ctx, r.Queue, env.EventID); derr == nil && seen {
			metrics.ConsumedTotal.WithLabelValues(r.Queue, env.EventName, "duplicate").Inc()
			_ = d.Ack(false)
			return
		}
	}

	attempt := retryCount(d.Headers) + 1

	hctx, cancel := context.WithTimeout(ctx, r.HandleTimeout)
	err = fn(hctx, env)
	cancel()

	if err == nil {
		if r.Dedup != nil {
			if derr := r.Dedup.Mark(ctx, r.Queue, env.EventID); derr != nil {
				log.Printf("[consumer:%s] dedup mark err: %v", r.Queue, derr)
			}
		}
		metrics.ConsumedTotal.WithLabelValues(r.Queue, env.EventName, "ok").Inc()
		_ = d.Ack(false)
		return
	}

	policy := r.policyFor(env.EventName)
	if attempt >= policy.MaxAttempts {
		if policy.LogAndContinue {
			// Benign inconsistency by policy: a missed informational update
			// leaks no resources, so we drop rather than dead-letter.
			log.Printf("[consumer:%s] giving up on %s id=%s after %d attempts (log-and-continue): %v",
				r.Queue, env.EventName, env.EventID, attempt, err)
			metrics.ConsumedTotal.WithLabelValues(r.Queue, env.EventName, "dropped").Inc()
			_ = d.Ack(false)
			return
		}

		r.deadLetter(ctx, env, d, attempt, err.Error())
		_ = d.Ack(false)
		return
	}

	if rerr := r.republish(ctx, d, attempt); rerr != nil {
		log.Printf("[consumer:%s] republish err for %s: %v", r.Queue, env.EventID, rerr)
		// Requeue as-is so the message is not lost; the attempt counter does
		// not advance on this path.
		_ = d.Nack(false, true)
		return
	}

	metrics.ConsumedTotal.WithLabelValues(r.Queue, env.EventName, "retry").Inc()
	_ = d.Ack(false)
}

// republish sends the message back to this runner's own queue via the default
// exchange with the attempt counter bumped.
func (r *Runner) republish(ctx context.Context, d amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int64(attempt)

	return r.Broker.Publish(ctx, "", r.Queue, d.Body, headers)
}

func (r *Runner) deadLetter(ctx context.Context, env event.Envelope, d amqp.Delivery, attempts int, errMsg string) {
	firstAttempt := env.Timestamp
	if firstAttempt.IsZero() {
		firstAttempt = time.Now().UTC()
	}

	rec := model.DeadLetterRecord{
		ID:             util.NewULID(),
		SourceQueue:    r.Queue,
		EventType:      env.EventName,
		Payload:        d.Body,
		ErrorMessage:   truncate(errMsg, 500),
		AttemptCount:   attempts,
		FirstAttemptAt: firstAttempt,
	}
	if err := r.DeadLetters.Insert(ctx, rec); err != nil {
		log.Printf("[consumer:%s] dead-letter insert err for %s: %v", r.Queue, env.EventID, err)
		return
	}

	log.Printf("[consumer:%s] dead-lettered %s id=%s after %d attempts, manual attention required",
		r.Queue, env.EventName, env.EventID, attempts)
	metrics.ConsumedTotal.WithLabelValues(r.Queue, env.EventName, "dead_lettered").Inc()
	metrics.DeadLettersTotal.WithLabelValues(r.Queue).Inc()
}

func (r *Runner) policyFor(eventName string) Policy {
	if p, ok := r.Policies[eventName]; ok {
		return p
	}
	if r.DefaultPolicy.MaxAttempts > 0 {
		return r.DefaultPolicy
	}
	return Policy{MaxAttempts: 3}
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[retryHeader].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	}
	return 0
}

func envelopeStub(body []byte) event.Envelope {
	return event.Envelope{EventName: "unknown", Timestamp: time.Now().UTC(), Data: body}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
