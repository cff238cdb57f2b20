// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// cachedump inspects the intent service's Badger database offline.
//
// The database holds the exact-tier response cache, the escalation
// queue (pending and dead-lettered messages), request status records,
// and cost aggregates. This tool opens it read-only and prints a
// human-readable summary of whichever section is requested.
//
// Usage:
//
//	cachedump cache [--path data/intentd]
//	cachedump queue [--path data/intentd]
//	cachedump cost  [--path data/intentd]
//
// If --path is not given, reads INTENT_DATA_DIR from the environment,
// falling back to data/intentd.
//
// Exit codes:
//
//	0 — success (including "empty database", which prints a message)
//	1 — error opening or reading the database
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/costmonitor"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

// Key prefixes must match the service packages exactly.
const (
	cachePrefix   = "cache:exact:"
	pendingPrefix = "queue:ambiguous:"
	deadPrefix    = "queue:dead:"
	costDayPrefix = "cost:day:"
)

var dbPath string

func main() {
	root := &cobra.Command{
		Use:           "cachedump",
		Short:         "Inspect the intent service's Badger database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "path", "",
		"Badger data directory (overrides INTENT_DATA_DIR)")

	root.AddCommand(
		&cobra.Command{
			Use:   "cache",
			Short: "Dump exact-tier response cache entries",
			RunE:  func(cmd *cobra.Command, args []string) error { return withDB(dumpCache) },
		},
		&cobra.Command{
			Use:   "queue",
			Short: "Dump pending and dead-lettered escalation messages",
			RunE:  func(cmd *cobra.Command, args []string) error { return withDB(dumpQueue) },
		},
		&cobra.Command{
			Use:   "cost",
			Short: "Dump daily cost aggregates",
			RunE:  func(cmd *cobra.Command, args []string) error { return withDB(dumpCost) },
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cachedump: %v\n", err)
		os.Exit(1)
	}
}

func withDB(fn func(db *badger.DB) error) error {
	path := dbPath
	if path == "" {
		path = os.Getenv("INTENT_DATA_DIR")
	}
	if path == "" {
		path = "data/intentd"
	}
	fmt.Printf("Database path: %s\n", path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("Data directory does not exist. The service has not written anything yet.")
		return nil
	}

	db, err := badger.Open(badger.DefaultOptions(path).
		WithLogger(nil).
		WithReadOnly(true))
	if err != nil {
		return fmt.Errorf("open Badger at %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	return fn(db)
}

func dumpCache(db *badger.DB) error {
	type cacheEntry struct {
		NormalizedQuery string                     `json:"normalized_query"`
		Result          model.ClassificationResult `json:"result"`
		StoredAt        time.Time                  `json:"stored_at"`
		ExpiresAt       time.Time                  `json:"expires_at"`
		HitCount        int64                      `json:"hit_count"`
	}

	n := 0
	err := forPrefix(db, cachePrefix, func(key string, expiresAt time.Time, raw []byte) {
		n++
		fmt.Printf("\n[%d] Key: %s\n", n, key)
		printTTL(expiresAt)

		var e cacheEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			fmt.Printf("    DECODE ERROR: %v\n", err)
			return
		}
		fmt.Printf("    Query:       %q\n", e.NormalizedQuery)
		fmt.Printf("    Action:      %s (%.2f, %s)\n", e.Result.ActionCode, e.Result.Confidence, e.Result.Status)
		fmt.Printf("    Stored:      %s\n", e.StoredAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("    Hits:        %d\n", e.HitCount)
	})
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("\nNo cache entries found.")
		return nil
	}
	fmt.Printf("\n%s\nSummary: %d cache entr%s\n", strings.Repeat("─", 72), n, plural(n, "y", "ies"))
	return nil
}

func dumpQueue(db *badger.DB) error {
	pending, dead := 0, 0

	fmt.Println("\nPending messages (drain order):")
	err := forPrefix(db, pendingPrefix, func(key string, _ time.Time, raw []byte) {
		pending++
		printMessage(pending, key, raw)
	})
	if err != nil {
		return err
	}
	if pending == 0 {
		fmt.Println("  (none)")
	}

	fmt.Println("\nDead-lettered messages:")
	err = forPrefix(db, deadPrefix, func(key string, _ time.Time, raw []byte) {
		dead++
		printMessage(dead, key, raw)
	})
	if err != nil {
		return err
	}
	if dead == 0 {
		fmt.Println("  (none)")
	}

	fmt.Printf("\n%s\nSummary: %d pending, %d dead-lettered\n", strings.Repeat("─", 72), pending, dead)
	return nil
}

func printMessage(i int, key string, raw []byte) {
	fmt.Printf("\n[%d] Key: %s\n", i, key)
	var m model.QueueMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		fmt.Printf("    DECODE ERROR: %v\n", err)
		return
	}
	fmt.Printf("    Request:  %s\n", m.RequestID)
	fmt.Printf("    Priority: %d  Attempts: %d\n", m.Priority, m.AttemptCount)
	fmt.Printf("    Query:    %q\n", truncate(m.Payload.Query, 60))
	if m.LastError != "" {
		fmt.Printf("    LastErr:  %s\n", truncate(m.LastError, 60))
	}
}

func dumpCost(db *badger.DB) error {
	n := 0
	err := forPrefix(db, costDayPrefix, func(key string, _ time.Time, raw []byte) {
		var agg costmonitor.Aggregate
		if err := json.Unmarshal(raw, &agg); err != nil {
			fmt.Printf("%s  DECODE ERROR: %v\n", key, err)
			return
		}
		n++
		day := strings.TrimPrefix(key, costDayPrefix)
		fmt.Printf("%s  calls=%-5d prompt=%-8d completion=%-8d cost=$%.4f\n",
			day, agg.Calls, agg.PromptTokens, agg.CompletionTokens, agg.Cost)
	})
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("\nNo cost aggregates found.")
	}
	return nil
}

func forPrefix(db *badger.DB, prefix string, fn func(key string, expiresAt time.Time, raw []byte)) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		pfx := []byte(prefix)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value for %s: %w", item.Key(), err)
			}
			var expiresAt time.Time
			if exp := item.ExpiresAt(); exp > 0 {
				expiresAt = time.Unix(int64(exp), 0)
			}
			fn(string(item.Key()), expiresAt, raw)
		}
		return nil
	})
}

func printTTL(expiresAt time.Time) {
	if expiresAt.IsZero() {
		fmt.Printf("    TTL:         no expiry set\n")
		return
	}
	remaining := time.Until(expiresAt)
	if remaining < 0 {
		fmt.Printf("    TTL:         EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
	} else {
		fmt.Printf("    TTL:         %s remaining\n", remaining.Round(time.Second))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}
