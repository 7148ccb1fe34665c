package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/mediapipe/pkg/logger"
	"github.com/dmitrymomot/mediapipe/pkg/mailer"
)

// Outcome reports what processing one event did. Redeliveries return an
// outcome with NoOp=true and no actions.
type Outcome struct {
	EventID  string    `json:"event_id"`
	Kind     EventKind `json:"kind"`
	NoOp     bool      `json:"no_op"`
	Actions  []string  `json:"actions,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
	Alerts   []Alert   `json:"alerts,omitempty"`
}

// Processor executes delivery-webhook events idempotently. Before any
// domain work it checks the event's processed flag and short-circuits on
// redelivery. Per-kind routing goes to pure functions returning actions
// and warnings; expected business conditions (a routine soft bounce) are
// warnings, not errors. Only infrastructure failures escape, so the queue
// retries exactly the events that need it.
type Processor struct {
	store      EventStore
	audit      AuditStore
	alerter    mailer.Mailer
	alertTo    string
	thresholds AlertThresholds
	logger     *slog.Logger
	now        func() time.Time
}

// NewProcessor creates an event processor.
func NewProcessor(store EventStore, opts ...ProcessorOption) (*Processor, error) {
	if store == nil {
		return nil, ErrEventStoreNil
	}

	options := &processorOptions{
		thresholds: DefaultAlertThresholds(),
		logger:     slog.Default(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Processor{
		store:      store,
		audit:      options.audit,
		alerter:    options.alerter,
		alertTo:    options.alertTo,
		thresholds: options.thresholds,
		logger:     options.logger,
		now:        options.now,
	}, nil
}

// Process executes one event by ID. Safe to call any number of times:
// after the first successful run every call is a no-op. A crash between
// the domain work and MarkProcessed re-executes the work on redelivery,
// which is why every per-kind action must itself be upsert-style.
func (p *Processor) Process(ctx context.Context, eventID string) (*Outcome, error) {
	if eventID == "" {
		return nil, ErrEventIDEmpty
	}

	event, err := p.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if event.Processed {
		outcome := &Outcome{EventID: eventID, Kind: event.Kind, NoOp: true}
		p.appendAudit(ctx, outcome)
		return outcome, nil
	}

	actions, warnings, err := p.route(event)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		EventID:  eventID,
		Kind:     event.Kind,
		Actions:  actions,
		Warnings: warnings,
	}

	// Threshold check runs only on the failure kinds, against aggregates
	// queried after this event was recorded.
	if event.Kind == KindBounce || event.Kind == KindSpamComplaint {
		alerts, err := p.checkThresholds(ctx)
		if err != nil {
			return nil, err
		}
		outcome.Alerts = alerts

		for _, alert := range alerts {
			if err := p.dispatchAlert(ctx, alert); err != nil {
				return nil, err
			}
			outcome.Actions = append(outcome.Actions, "alert dispatched: "+alert.String())
		}
	}

	p.appendAudit(ctx, outcome)

	if err := p.store.MarkProcessed(ctx, eventID, p.now()); err != nil {
		return nil, fmt.Errorf("failed to mark event %q processed: %w", eventID, err)
	}

	p.logger.Info("event processed",
		logger.EventID(eventID),
		slog.String("kind", string(event.Kind)),
		slog.Int("actions", len(outcome.Actions)),
		slog.Int("alerts", len(outcome.Alerts)))

	return outcome, nil
}

// route fans out by kind. The per-kind functions are pure: they look only
// at the event and report what should happen.
func (p *Processor) route(event *Event) (actions, warnings []string, err error) {
	switch event.Kind {
	case KindDelivery:
		return processDelivery(event)
	case KindBounce:
		return processBounce(event)
	case KindSpamComplaint:
		return processComplaint(event)
	case KindOpen:
		return processOpen(event)
	case KindClick:
		return processClick(event)
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownKind, event.Kind)
	}
}

func processDelivery(event *Event) (actions, warnings []string, err error) {
	return []string{"delivery recorded for " + event.Recipient}, nil, nil
}

// processBounce distinguishes hard bounces (suppress the recipient) from
// soft bounces (routine, a warning only).
func processBounce(event *Event) (actions, warnings []string, err error) {
	var detail BounceDetail
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &detail); err != nil {
			return nil, nil, fmt.Errorf("%w: bounce payload for event %q: %w", ErrMalformedPayload, event.ID, err)
		}
	}

	switch detail.Type {
	case BounceTypeHard:
		return []string{"recipient suppressed: " + event.Recipient}, nil, nil
	case BounceTypeSoft, "":
		return nil, []string{"soft bounce for " + event.Recipient}, nil
	default:
		return nil, []string{fmt.Sprintf("unrecognized bounce type %q for %s", detail.Type, event.Recipient)}, nil
	}
}

func processComplaint(event *Event) (actions, warnings []string, err error) {
	return []string{"recipient suppressed: " + event.Recipient}, nil, nil
}

func processOpen(event *Event) (actions, warnings []string, err error) {
	return []string{"open recorded for " + event.Recipient}, nil, nil
}

func processClick(event *Event) (actions, warnings []string, err error) {
	return []string{"click recorded for " + event.Recipient}, nil, nil
}

func (p *Processor) checkThresholds(ctx context.Context) ([]Alert, error) {
	since := p.now().Add(-p.thresholds.Window)

	var agg windowAggregates
	var err error

	if agg.delivered, err = p.store.CountByKindSince(ctx, KindDelivery, since); err != nil {
		return nil, fmt.Errorf("failed to query delivery aggregates: %w", err)
	}
	if agg.bounced, err = p.store.CountByKindSince(ctx, KindBounce, since); err != nil {
		return nil, fmt.Errorf("failed to query bounce aggregates: %w", err)
	}
	if agg.complaints, err = p.store.CountByKindSince(ctx, KindSpamComplaint, since); err != nil {
		return nil, fmt.Errorf("failed to query complaint aggregates: %w", err)
	}

	return evaluateThresholds(p.thresholds, agg), nil
}

func (p *Processor) dispatchAlert(ctx context.Context, alert Alert) error {
	if p.alerter == nil || p.alertTo == "" {
		p.logger.Warn("alert threshold breached, no alerter configured",
			slog.String("alert", alert.String()))
		return nil
	}

	err := p.alerter.SendEmail(ctx, mailer.SendEmailParams{
		SendTo:   p.alertTo,
		Subject:  fmt.Sprintf("Delivery alert: %s threshold breached", alert.Kind),
		BodyHTML: fmt.Sprintf("<p>%s</p>", alert.String()),
		Tag:      "delivery-alert",
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch alert: %w", err)
	}

	return nil
}

// appendAudit is best-effort; a broken audit store must not block event
// processing.
func (p *Processor) appendAudit(ctx context.Context, outcome *Outcome) {
	if p.audit == nil {
		return
	}

	result := AuditResultSuccess
	if outcome.NoOp {
		result = AuditResultNoOp
	}

	if err := p.audit.AppendEntry(ctx, &AuditEntry{
		EventID:  outcome.EventID,
		Kind:     outcome.Kind,
		Result:   result,
		Actions:  outcome.Actions,
		Warnings: outcome.Warnings,
	}); err != nil {
		p.logger.Error("failed to append audit entry",
			logger.EventID(outcome.EventID),
			logger.Error(err))
	}
}

// ProcessorOption is a functional option for configuring a Processor.
type ProcessorOption func(*processorOptions)

type processorOptions struct {
	audit      AuditStore
	alerter    mailer.Mailer
	alertTo    string
	thresholds AlertThresholds
	logger     *slog.Logger
	now        func() time.Time
}

// WithAuditStore enables the processing audit trail.
func WithAuditStore(store AuditStore) ProcessorOption {
	return func(o *processorOptions) {
		o.audit = store
	}
}

// WithAlerter sets the mailer and recipient threshold alerts go to.
func WithAlerter(m mailer.Mailer, recipient string) ProcessorOption {
	return func(o *processorOptions) {
		o.alerter = m
		o.alertTo = recipient
	}
}

// WithAlertThresholds overrides the default alerting limits.
func WithAlertThresholds(t AlertThresholds) ProcessorOption {
	return func(o *processorOptions) {
		if t.Window > 0 {
			o.thresholds = t
		}
	}
}

// WithProcessorLogger sets the logger for the processor.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(o *processorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the clock. Useful for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(o *processorOptions) {
		if now != nil {
			o.now = now
		}
	}
}
