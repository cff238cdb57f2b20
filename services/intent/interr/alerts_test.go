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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeSink struct {
	alerts []Alert
}

func (s *fakeSink) Notify(ctx context.Context, alert Alert) {
	s.alerts = append(s.alerts, alert)
}

func TestAlerter_FiresAtThreshold(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	sink := &fakeSink{}
	a := NewAlerter(sink)
	a.now = func() time.Time { return clock }

	err := New(KindServerError, errors.New("500"))
	for i := 0; i < 4; i++ {
		a.Observe(ctx, err)
	}
	if len(sink.alerts) != 0 {
		t.Fatalf("alerted below threshold: %+v", sink.alerts)
	}

	a.Observe(ctx, err) // fifth in the hour
	if len(sink.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(sink.alerts))
	}
	alert := sink.alerts[0]
	if alert.Kind != KindServerError || alert.Severity != SeverityCritical || alert.Count != 5 {
		t.Errorf("alert = %+v", alert)
	}
}

func TestAlerter_SuppressesRepeatsForAnHour(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	sink := &fakeSink{}
	a := NewAlerter(sink)
	a.now = func() time.Time { return clock }

	err := New(KindServerError, errors.New("500"))
	for i := 0; i < 7; i++ {
		a.Observe(ctx, err)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("alerts = %d, want the sixth and seventh suppressed", len(sink.alerts))
	}

	// An hour later the suppression lapses and the window still holds
	// enough recent failures to fire again.
	clock = clock.Add(time.Hour)
	for i := 0; i < 5; i++ {
		a.Observe(ctx, err)
	}
	if len(sink.alerts) != 2 {
		t.Errorf("alerts = %d, want a second after re-arming", len(sink.alerts))
	}
}

func TestAlerter_AuthPagesImmediately(t *testing.T) {
	ctx := context.Background()
	sink := &fakeSink{}
	a := NewAlerter(sink)

	a.Observe(ctx, New(KindAuth, errors.New("401")))
	if len(sink.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1 on the first auth failure", len(sink.alerts))
	}
	if sink.alerts[0].Severity != SeverityCritical {
		t.Errorf("severity = %s", sink.alerts[0].Severity)
	}
}

func TestAlerter_OldEventsAgeOut(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	sink := &fakeSink{}
	a := NewAlerter(sink)
	a.now = func() time.Time { return clock }

	err := New(KindServerError, errors.New("500"))
	for i := 0; i < 4; i++ {
		a.Observe(ctx, err)
	}

	// The four old failures fall outside the hour; one fresh failure is
	// nowhere near the threshold.
	clock = clock.Add(2 * time.Hour)
	a.Observe(ctx, err)
	if len(sink.alerts) != 0 {
		t.Errorf("alerts = %+v, want none after the window emptied", sink.alerts)
	}
}

func TestWebhookSink_PostsAlertJSON(t *testing.T) {
	var got Alert
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	sink.Notify(context.Background(), Alert{
		Kind:     KindRateLimit,
		Severity: SeverityWarning,
		Count:    12,
		Message:  "12 rate_limit failures in the last hour (threshold 10)",
	})

	if contentType != "application/json" {
		t.Errorf("content type = %q", contentType)
	}
	if got.Kind != KindRateLimit || got.Count != 12 {
		t.Errorf("posted alert = %+v", got)
	}
}
