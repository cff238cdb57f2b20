// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is one fired notification.
type Alert struct {
	Kind     Kind      `json:"kind"`
	Severity Severity  `json:"severity"`
	Count    int       `json:"count_last_hour"`
	Message  string    `json:"message"`
	FiredAt  time.Time `json:"fired_at"`
}

// AlertSink receives fired alerts.
type AlertSink interface {
	Notify(ctx context.Context, alert Alert)
}

// hourly alert thresholds per kind. A single auth failure pages: it
// means the credential is bad for everyone.
var alertThresholds = map[Kind]int{
	KindRateLimit:     10,
	KindTimeout:       20,
	KindServerError:   5,
	KindAuth:          1,
	KindContextLength: 5,
	KindUnknown:       15,
}

var severityByKind = map[Kind]Severity{
	KindRateLimit:     SeverityWarning,
	KindTimeout:       SeverityWarning,
	KindServerError:   SeverityCritical,
	KindAuth:          SeverityCritical,
	KindContextLength: SeverityWarning,
	KindUnknown:       SeverityWarning,
}

var upstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chatnshop",
	Subsystem: "llm",
	Name:      "upstream_errors_total",
	Help:      "Upstream failures by kind.",
}, []string{"kind"})

// Alerter counts failures per kind over a sliding hour and fires at most
// one alert per kind per hour once the kind's threshold is crossed.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type Alerter struct {
	sink AlertSink

	mu        sync.Mutex
	events    map[Kind][]time.Time
	lastFired map[Kind]time.Time
	now       func() time.Time
}

// NewAlerter creates an Alerter. sink may be nil; alerts then only log.
func NewAlerter(sink AlertSink) *Alerter {
	return &Alerter{
		sink:      sink,
		events:    make(map[Kind][]time.Time),
		lastFired: make(map[Kind]time.Time),
		now:       time.Now,
	}
}

// Observe records one failure and fires an alert when the kind's hourly
// threshold is crossed. Repeat alerts for the same kind are suppressed
// for an hour.
func (a *Alerter) Observe(ctx context.Context, err error) {
	kind := KindOf(err)
	upstreamErrors.WithLabelValues(string(kind)).Inc()

	a.mu.Lock()
	now := a.now()
	cutoff := now.Add(-time.Hour)

	evs := a.events[kind]
	for len(evs) > 0 && evs[0].Before(cutoff) {
		evs = evs[1:]
	}
	evs = append(evs, now)
	a.events[kind] = evs

	threshold := alertThresholds[kind]
	fire := len(evs) >= threshold && now.Sub(a.lastFired[kind]) >= time.Hour
	if fire {
		a.lastFired[kind] = now
	}
	count := len(evs)
	a.mu.Unlock()

	if !fire {
		return
	}

	alert := Alert{
		Kind:     kind,
		Severity: severityByKind[kind],
		Count:    count,
		Message:  fmt.Sprintf("%d %s failures in the last hour (threshold %d)", count, kind, threshold),
		FiredAt:  now,
	}
	slog.Error("upstream failure alert",
		slog.String("kind", string(kind)),
		slog.String("severity", string(alert.Severity)),
		slog.Int("count_last_hour", count))
	if a.sink != nil {
		a.sink.Notify(ctx, alert)
	}
}

// WebhookSink posts alerts as JSON to a configured URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink for url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookSink) Notify(ctx context.Context, alert Alert) {
	body, err := json.Marshal(alert)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		slog.Warn("alert webhook failed", slog.Any("error", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("alert webhook rejected", slog.Int("status", resp.StatusCode))
	}
}
