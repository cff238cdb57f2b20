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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/storage/badgerstore"
)

const (
	dayKeyPrefix   = "cost:day:"
	monthKeyPrefix = "cost:month:"

	dayFormat   = "2006-01-02"
	monthFormat = "2006-01"

	// aggregateTTL keeps roughly three months of history.
	aggregateTTL = 92 * 24 * time.Hour
)

var (
	costTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "llm",
		Name:      "cost_usd_total",
		Help:      "Cumulative LLM spend in USD.",
	})
	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Cumulative LLM tokens by direction.",
	}, []string{"direction"})
)

// Aggregate is one day's or month's rollup.
type Aggregate struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

func (a *Aggregate) add(u model.Usage) {
	a.Calls++
	a.PromptTokens += u.PromptTokens
	a.CompletionTokens += u.CompletionTokens
	a.Cost += u.Cost
}

// Tracker records per-call usage into daily and monthly aggregates,
// optionally streaming points to InfluxDB for dashboards.
//
// Thread Safety: Safe for concurrent use. Badger transactions carry the
// aggregate read-modify-write; the memory fallback is mutex-guarded.
type Tracker struct {
	db    *badgerstore.DB // nil means memory-only
	write api.WriteAPI    // nil disables the Influx sink

	memMu sync.Mutex
	mem   map[string]*Aggregate

	now func() time.Time
}

// NewTracker creates a Tracker over db. influxWrite may be nil.
func NewTracker(db *badgerstore.DB, influxWrite api.WriteAPI) *Tracker {
	return &Tracker{
		db:    db,
		write: influxWrite,
		mem:   make(map[string]*Aggregate),
		now:   time.Now,
	}
}

// NewInfluxWriter builds the non-blocking write API for url/org/bucket.
// The returned client must be Closed on shutdown.
func NewInfluxWriter(url, token, org, bucket string) (influxdb2.Client, api.WriteAPI) {
	client := influxdb2.NewClient(url, token)
	return client, client.WriteAPI(org, bucket)
}

// Record folds one call's usage into today's and this month's rollups.
func (t *Tracker) Record(ctx context.Context, modelName string, usage model.Usage) {
	costTotal.Add(usage.Cost)
	tokensTotal.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	tokensTotal.WithLabelValues("completion").Add(float64(usage.CompletionTokens))

	now := t.now()
	t.bump(ctx, dayKeyPrefix+now.Format(dayFormat), usage)
	t.bump(ctx, monthKeyPrefix+now.Format(monthFormat), usage)

	if t.write != nil {
		t.write.WritePoint(influxdb2.NewPoint("llm_usage",
			map[string]string{"model": modelName},
			map[string]interface{}{
				"cost":              usage.Cost,
				"prompt_tokens":     usage.PromptTokens,
				"completion_tokens": usage.CompletionTokens,
			},
			now))
	}
}

func (t *Tracker) bump(ctx context.Context, key string, usage model.Usage) {
	if t.db != nil {
		err := t.db.WithTxn(ctx, func(txn *badger.Txn) error {
			var agg Aggregate
			item, err := txn.Get([]byte(key))
			switch {
			case err == nil:
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &agg)
				}); err != nil {
					return err
				}
			case errors.Is(err, badger.ErrKeyNotFound):
				// first record of the period
			default:
				return err
			}

			agg.add(usage)
			data, err := json.Marshal(&agg)
			if err != nil {
				return err
			}
			return txn.SetEntry(badger.NewEntry([]byte(key), data).WithTTL(aggregateTTL))
		})
		if err == nil {
			return
		}
		slog.Warn("cost aggregate write failed", slog.String("key", key), slog.Any("error", err))
	}

	t.memMu.Lock()
	defer t.memMu.Unlock()
	agg, ok := t.mem[key]
	if !ok {
		agg = &Aggregate{}
		t.mem[key] = agg
	}
	agg.add(usage)
}

// Day returns the aggregate for a calendar day.
func (t *Tracker) Day(ctx context.Context, day time.Time) (Aggregate, error) {
	return t.load(ctx, dayKeyPrefix+day.Format(dayFormat))
}

// Month returns the aggregate for a calendar month.
func (t *Tracker) Month(ctx context.Context, month time.Time) (Aggregate, error) {
	return t.load(ctx, monthKeyPrefix+month.Format(monthFormat))
}

func (t *Tracker) load(ctx context.Context, key string) (Aggregate, error) {
	var agg Aggregate
	if t.db != nil {
		err := t.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &agg)
			})
		})
		if err == nil {
			return agg, nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return Aggregate{}, err
		}
	}

	t.memMu.Lock()
	defer t.memMu.Unlock()
	if a, ok := t.mem[key]; ok {
		return *a, nil
	}
	return Aggregate{}, nil
}

// DaySummary pairs a day with its aggregate for the summary endpoint.
type DaySummary struct {
	Day string `json:"day"`
	Aggregate
}

// Summary is the payload of the cost summary endpoint.
type Summary struct {
	Today      Aggregate    `json:"today"`
	Month      Aggregate    `json:"month"`
	RecentDays []DaySummary `json:"recent_days"`
}

// Summarize builds the summary over the trailing `days` calendar days.
func (t *Tracker) Summarize(ctx context.Context, days int) (Summary, error) {
	if days <= 0 {
		days = 7
	}
	now := t.now()

	today, err := t.Day(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("load today: %w", err)
	}
	month, err := t.Month(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("load month: %w", err)
	}

	recent := make([]DaySummary, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		agg, err := t.Day(ctx, day)
		if err != nil {
			return Summary{}, err
		}
		recent = append(recent, DaySummary{Day: day.Format(dayFormat), Aggregate: agg})
	}

	return Summary{Today: today, Month: month, RecentDays: recent}, nil
}
