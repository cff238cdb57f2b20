// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package costmonitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultSpikeFactor flags a day spending this multiple of the
	// trailing average.
	DefaultSpikeFactor = 2.0
	// spikeLookbackDays is the trailing window the average is taken over.
	spikeLookbackDays = 7
	// minHistoryDays: with fewer prior days of spend there is no
	// baseline to compare against.
	minHistoryDays = 2

	spikeSchedule = "@every 6h"
)

// SpikeReport describes one detected cost anomaly.
type SpikeReport struct {
	Day         string  `json:"day"`
	TodayCost   float64 `json:"today_cost"`
	TrailingAvg float64 `json:"trailing_avg"`
	Factor      float64 `json:"factor"`
}

// SpikeSink receives detected spikes.
type SpikeSink interface {
	NotifySpike(ctx context.Context, report SpikeReport)
}

// SpikeDetector compares today's spend against the trailing daily
// average on a fixed schedule.
//
// Thread Safety: Start/Stop are not concurrent with each other; Check is
// safe to call at any time.
type SpikeDetector struct {
	tracker *Tracker
	sink    SpikeSink // may be nil
	factor  float64
	cron    *cron.Cron
	now     func() time.Time
}

// NewSpikeDetector creates a detector. factor <= 1 takes the default;
// sink may be nil (spikes then only log).
func NewSpikeDetector(tracker *Tracker, sink SpikeSink, factor float64) *SpikeDetector {
	if factor <= 1 {
		factor = DefaultSpikeFactor
	}
	return &SpikeDetector{
		tracker: tracker,
		sink:    sink,
		factor:  factor,
		now:     time.Now,
	}
}

// Start schedules the six-hourly check.
func (d *SpikeDetector) Start(ctx context.Context) error {
	d.cron = cron.New()
	_, err := d.cron.AddFunc(spikeSchedule, func() {
		d.Check(ctx)
	})
	if err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running check to finish.
func (d *SpikeDetector) Stop() {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
}

// Check runs one comparison. Returns the report when a spike fired.
func (d *SpikeDetector) Check(ctx context.Context) *SpikeReport {
	now := d.now()

	today, err := d.tracker.Day(ctx, now)
	if err != nil {
		slog.Warn("spike check: loading today failed", slog.Any("error", err))
		return nil
	}
	if today.Cost == 0 {
		return nil
	}

	var sum float64
	historyDays := 0
	for i := 1; i <= spikeLookbackDays; i++ {
		agg, err := d.tracker.Day(ctx, now.AddDate(0, 0, -i))
		if err != nil {
			slog.Warn("spike check: loading history failed", slog.Any("error", err))
			return nil
		}
		if agg.Calls > 0 {
			sum += agg.Cost
			historyDays++
		}
	}
	if historyDays < minHistoryDays {
		return nil
	}

	avg := sum / float64(historyDays)
	if avg == 0 || today.Cost < avg*d.factor {
		return nil
	}

	report := &SpikeReport{
		Day:         now.Format(dayFormat),
		TodayCost:   today.Cost,
		TrailingAvg: avg,
		Factor:      today.Cost / avg,
	}
	slog.Error("llm cost spike detected",
		slog.String("day", report.Day),
		slog.Float64("today_cost", report.TodayCost),
		slog.Float64("trailing_avg", report.TrailingAvg),
		slog.Float64("factor", report.Factor))
	if d.sink != nil {
		d.sink.NotifySpike(ctx, *report)
	}
	return report
}
