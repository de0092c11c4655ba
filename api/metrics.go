package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertAccessDeniedSpike AlertType = "access_denied_spike"
	AlertSubmissionSpike   AlertType = "submission_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultAccessDeniedWindow    = 5 * time.Minute
	defaultAccessDeniedThreshold = 30
	defaultSubmissionWindow      = 10 * time.Minute
	defaultSubmissionThreshold   = 40
)

// slidingWindow counts occurrences within a trailing window.
type slidingWindow struct {
	alert     AlertType
	message   string
	window    time.Duration
	threshold int
	times     []time.Time
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu      sync.Mutex
	windows map[AuditEvent]*slidingWindow
	alertFn AlertFunc
}

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		alertFn: alertFn,
		windows: map[AuditEvent]*slidingWindow{
			AuditLoginFailure: {
				alert:     AlertLoginFailureSpike,
				message:   "login failure rate exceeds threshold",
				window:    defaultLoginFailureWindow,
				threshold: defaultLoginFailureThreshold,
			},
			AuditAccessDenied: {
				alert:     AlertAccessDeniedSpike,
				message:   "admin access denials exceed threshold",
				window:    defaultAccessDeniedWindow,
				threshold: defaultAccessDeniedThreshold,
			},
			AuditApplicationCreated: {
				alert:     AlertSubmissionSpike,
				message:   "join application rate exceeds threshold",
				window:    defaultSubmissionWindow,
				threshold: defaultSubmissionThreshold,
			},
		},
	}
}

// recordEvent inspects an audit event and updates the relevant counter.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	m.mu.Lock()
	w, ok := m.windows[event]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	w.times = append(w.times, now)
	w.times = trimWindow(w.times, now, w.window)
	var alert *AlertEvent
	if len(w.times) >= w.threshold {
		alert = &AlertEvent{
			Type:      w.alert,
			Message:   w.message,
			Count:     len(w.times),
			Threshold: w.threshold,
			Timestamp: now,
		}
		// Reset to avoid repeated alerts within the same spike.
		w.times = w.times[:0]
	}
	m.mu.Unlock()

	if alert != nil {
		m.alertFn(*alert)
	}
}

// setWindow overrides the window and threshold for one event type.
func (m *metricsCollector) setWindow(event AuditEvent, window time.Duration, threshold int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[event]; ok {
		w.window = window
		w.threshold = threshold
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
