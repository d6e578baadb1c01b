package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/shipping"
)

// Payments applies provider payment outcomes.
type Payments interface {
	ConfirmPayment(ctx context.Context, orderNumber, source, reference string) (*orders.Result, error)
	FailPayment(ctx context.Context, orderNumber, source, reason string) (*orders.Result, error)
}

// Tracking pulls carrier tracking for an order.
type Tracking interface {
	SyncTracking(ctx context.Context, orderNumber, actor string) (*shipping.TrackingResult, error)
}

// Outcome describes what Ingest did with a first-seen event.
type Outcome string

const (
	OutcomeProcessed  Outcome = "processed"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeFailed     Outcome = "failed"
	OutcomeMalformed  Outcome = "malformed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeBadSigning Outcome = "signature_invalid"
)

// Inbound is one webhook delivery as received.
type Inbound struct {
	Source    string
	EventID   string
	Signature string
	Payload   []byte
}

type Service struct {
	store    *Store
	secrets  map[string]string
	payments Payments
	tracking Tracking
	audit    audit.Recorder
	counter  aws.Counter
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// NewService wires the ledger. secrets maps a source name to its signing secret;
// sources without a secret are refused.
func NewService(store *Store, secrets map[string]string, p Payments, t Tracking, rec audit.Recorder, counter aws.Counter, logger *slog.Logger) *Service {
	if counter == nil {
		counter = aws.NopCounter{}
	}
	return &Service{
		store:    store,
		secrets:  secrets,
		payments: p,
		tracking: t,
		audit:    rec,
		counter:  counter,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Ingest stores a delivery before any side effect and dispatches it once.
// Dispatch failures are kept on the row and are not returned; the provider
// only needs an acknowledgement.
func (s *Service) Ingest(ctx context.Context, in Inbound) (*Event, Outcome, error) {
	const op = "ledger.Ingest"
	if in.EventID == "" {
		return nil, "", apperr.Validation(op, "missing event id")
	}
	secret, ok := s.secrets[in.Source]
	if !ok {
		s.count(ctx, in.Source, OutcomeBadSigning)
		return nil, OutcomeBadSigning, apperr.SignatureInvalid(op, "unknown webhook source %q", in.Source)
	}

	e := &Event{
		Source:         in.Source,
		EventID:        in.EventID,
		Payload:        string(in.Payload),
		SignatureValid: Verify(secret, in.Payload, in.Signature),
		ReceivedAt:     s.nowFunc().UTC(),
	}
	msg, parseErr := Parse(in.Payload)
	if parseErr == nil {
		e.EventType = msg.Type()
		e.OrderNumber = msg.Order()
	}

	if err := s.store.Insert(ctx, e); err != nil {
		if errors.Is(err, ErrEventExists) {
			if err := s.store.RecordRedelivery(ctx, e.EventKey); err != nil {
				s.logger.WarnContext(ctx, "failed to count redelivery", "event_key", e.EventKey, "error", err)
			}
			s.count(ctx, in.Source, OutcomeDuplicate)
			return nil, OutcomeDuplicate, apperr.DuplicateEvent(op, e.EventKey)
		}
		return nil, "", apperr.Internal(op, err)
	}

	if !e.SignatureValid {
		s.record(ctx, audit.ActionWebhookReceived, e, OutcomeBadSigning)
		s.count(ctx, in.Source, OutcomeBadSigning)
		return e, OutcomeBadSigning, apperr.SignatureInvalid(op, "signature mismatch for %s", e.EventKey)
	}

	if parseErr != nil {
		s.logger.WarnContext(ctx, "malformed webhook payload", "event_key", e.EventKey, "error", parseErr)
		s.fail(ctx, e, parseErr)
		s.record(ctx, audit.ActionWebhookReceived, e, OutcomeMalformed)
		s.count(ctx, in.Source, OutcomeMalformed)
		return e, OutcomeMalformed, nil
	}

	outcome := s.process(ctx, e, msg)
	s.record(ctx, audit.ActionWebhookReceived, e, outcome)
	s.count(ctx, in.Source, outcome)
	return e, outcome, nil
}

// Retry re-dispatches a stored event that previously failed. The signature
// is not checked again.
func (s *Service) Retry(ctx context.Context, source, eventID, actor string) (*Event, error) {
	const op = "ledger.Retry"
	key := Key(source, eventID)
	e, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if e == nil {
		return nil, apperr.NotFound(op, "webhook event %s not found", key)
	}
	if !e.SignatureValid {
		return nil, apperr.InvalidState(op, "event %s has an invalid signature", key)
	}
	if e.IsSuccess {
		return nil, apperr.InvalidState(op, "event %s already processed", key)
	}

	msg, err := Parse([]byte(e.Payload))
	if err != nil {
		s.fail(ctx, e, err)
		return e, apperr.Validation(op, "stored payload is malformed: %v", err)
	}

	outcome := OutcomeProcessed
	dispatchErr := s.dispatch(ctx, e, msg)
	if dispatchErr != nil {
		outcome = OutcomeFailed
		s.fail(ctx, e, dispatchErr)
	} else {
		s.succeed(ctx, e)
	}

	entry := s.entry(audit.ActionWebhookRetried, e, outcome)
	entry.Actor = actor
	s.audit.Record(ctx, entry)
	s.counter.Incr(ctx, "WebhookRetried", map[string]string{"source": source, "outcome": string(outcome)})

	return e, dispatchErr
}

// Stats summarizes stored events over the trailing windowDays.
func (s *Service) Stats(ctx context.Context, source string, windowDays int) (*Stats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	since := s.nowFunc().Add(-time.Duration(windowDays) * 24 * time.Hour)
	events, err := s.store.ListSince(ctx, source, since)
	if err != nil {
		return nil, apperr.Internal("ledger.Stats", err)
	}

	st := &Stats{Source: source, WindowDays: windowDays, ByType: map[string]int{}}
	for _, e := range events {
		st.Total++
		switch {
		case !e.SignatureValid:
			st.InvalidSignature++
		case e.IsSuccess:
			st.Succeeded++
		default:
			st.Failed++
		}
		if e.DeliveryCount > 1 {
			st.Redeliveries += e.DeliveryCount - 1
		}
		t := e.EventType
		if t == "" {
			t = "unknown"
		}
		st.ByType[t]++
	}
	return st, nil
}

func (s *Service) process(ctx context.Context, e *Event, msg Message) Outcome {
	if _, ok := msg.(Unknown); ok {
		s.logger.InfoContext(ctx, "webhook type has no handler", "event_key", e.EventKey, "event_type", e.EventType)
		s.succeed(ctx, e)
		return OutcomeIgnored
	}
	if err := s.dispatch(ctx, e, msg); err != nil {
		s.logger.WarnContext(ctx, "webhook dispatch failed", "event_key", e.EventKey, "event_type", e.EventType, "error", err)
		s.fail(ctx, e, err)
		return OutcomeFailed
	}
	s.succeed(ctx, e)
	return OutcomeProcessed
}

func (s *Service) dispatch(ctx context.Context, e *Event, msg Message) error {
	switch m := msg.(type) {
	case PaymentConfirmed:
		res, err := s.payments.ConfirmPayment(ctx, m.OrderNumber, e.Source, m.Reference)
		if err != nil {
			return err
		}
		s.recordPayment(ctx, audit.ActionPaymentConfirmed, e, res, "payment confirmed by "+e.Source)
	case PaymentFailed:
		res, err := s.payments.FailPayment(ctx, m.OrderNumber, e.Source, m.Reason)
		if err != nil {
			return err
		}
		s.recordPayment(ctx, audit.ActionPaymentFailed, e, res, "payment failed at "+e.Source)
	case TrackingUpdated:
		if _, err := s.tracking.SyncTracking(ctx, m.OrderNumber, audit.SystemActor); err != nil {
			return err
		}
	case Unknown:
	}
	return nil
}

func (s *Service) recordPayment(ctx context.Context, action audit.Action, e *Event, res *orders.Result, desc string) {
	if !res.Applied {
		return
	}
	meta := res.Metadata()
	meta["source"] = e.Source
	meta["event_id"] = e.EventID
	s.audit.Record(ctx, audit.Entry{
		Actor:       audit.SystemActor,
		Action:      action,
		Category:    audit.CategoryPayment,
		OrderNumber: e.OrderNumber,
		Description: fmt.Sprintf("%s for order %s", desc, e.OrderNumber),
		Metadata:    meta,
	})
}

func (s *Service) succeed(ctx context.Context, e *Event) {
	now := s.nowFunc().UTC()
	if err := s.store.MarkProcessed(ctx, e.EventKey, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark webhook processed", "event_key", e.EventKey, "error", err)
		return
	}
	e.IsSuccess = true
	e.ErrorMessage = ""
	e.ProcessedAt = &now
}

func (s *Service) fail(ctx context.Context, e *Event, cause error) {
	now := s.nowFunc().UTC()
	if err := s.store.MarkFailed(ctx, e.EventKey, cause.Error(), now); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark webhook failed", "event_key", e.EventKey, "error", err)
		return
	}
	e.IsSuccess = false
	e.ErrorMessage = cause.Error()
	e.RetryCount++
	e.ProcessedAt = &now
}

func (s *Service) entry(action audit.Action, e *Event, outcome Outcome) audit.Entry {
	meta := map[string]string{
		"source":   e.Source,
		"event_id": e.EventID,
		"outcome":  string(outcome),
	}
	if e.EventType != "" {
		meta["event_type"] = e.EventType
	}
	if e.ErrorMessage != "" {
		meta["error"] = e.ErrorMessage
	}
	return audit.Entry{
		Actor:       audit.SystemActor,
		Action:      action,
		Category:    audit.CategoryWebhook,
		OrderNumber: e.OrderNumber,
		Description: fmt.Sprintf("webhook %s from %s: %s", e.EventID, e.Source, outcome),
		Metadata:    meta,
	}
}

func (s *Service) record(ctx context.Context, action audit.Action, e *Event, outcome Outcome) {
	s.audit.Record(ctx, s.entry(action, e, outcome))
}

func (s *Service) count(ctx context.Context, source string, outcome Outcome) {
	s.counter.Incr(ctx, "WebhookReceived", map[string]string{"source": source, "outcome": string(outcome)})
}
