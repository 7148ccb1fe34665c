package events

import (
	"fmt"
	"time"
)

// AlertThresholds are the static limits the rolling-window failure rates
// are compared against after each bounce or complaint.
type AlertThresholds struct {
	// Window is the aggregation window the rates are computed over.
	Window time.Duration
	// BounceRate is the maximum acceptable bounces / total ratio.
	BounceRate float64
	// ComplaintRate is the maximum acceptable complaints / total ratio.
	ComplaintRate float64
	// MinSample suppresses alerts until the window holds enough events for
	// the rates to mean anything.
	MinSample int64
}

// DefaultAlertThresholds returns the standard alerting limits: hourly
// window, 5% bounce rate, 0.5% complaint rate, at least 20 events.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		Window:        time.Hour,
		BounceRate:    0.05,
		ComplaintRate: 0.005,
		MinSample:     20,
	}
}

// Alert describes one threshold breach.
type Alert struct {
	Kind      EventKind `json:"kind"`
	Rate      float64   `json:"rate"`
	Threshold float64   `json:"threshold"`
	Window    string    `json:"window"`
}

func (a Alert) String() string {
	return fmt.Sprintf("%s rate %.2f%% exceeds %.2f%% over %s",
		a.Kind, a.Rate*100, a.Threshold*100, a.Window)
}

// windowAggregates are the freshly queried counts an alert decision is a
// pure function of.
type windowAggregates struct {
	delivered  int64
	bounced    int64
	complaints int64
}

func (w windowAggregates) total() int64 {
	return w.delivered + w.bounced + w.complaints
}

// evaluateThresholds compares the window aggregates against the limits.
// No state, no clock: callers query the aggregates and pass them in.
func evaluateThresholds(t AlertThresholds, agg windowAggregates) []Alert {
	total := agg.total()
	if total < t.MinSample || total == 0 {
		return nil
	}

	var alerts []Alert

	if rate := float64(agg.bounced) / float64(total); rate > t.BounceRate {
		alerts = append(alerts, Alert{
			Kind:      KindBounce,
			Rate:      rate,
			Threshold: t.BounceRate,
			Window:    t.Window.String(),
		})
	}

	if rate := float64(agg.complaints) / float64(total); rate > t.ComplaintRate {
		alerts = append(alerts, Alert{
			Kind:      KindSpamComplaint,
			Rate:      rate,
			Threshold: t.ComplaintRate,
			Window:    t.Window.String(),
		})
	}

	return alerts
}
