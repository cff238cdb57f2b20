// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

// FileReviewLog appends ambiguous and unclear outcomes to a JSONL file
// for later analysis (threshold tuning, keyword gaps).
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type FileReviewLog struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

type reviewRecord struct {
	Time       time.Time         `json:"time"`
	Query      string            `json:"query"`
	Outcome    string            `json:"outcome"`
	Candidates []model.Candidate `json:"candidates"`
}

// NewFileReviewLog opens (or creates) the append-only review log at path.
func NewFileReviewLog(path string) (*FileReviewLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileReviewLog{file: f, enc: json.NewEncoder(f)}, nil
}

// Record appends one outcome. Failures are logged, never surfaced; the
// review log must not affect request handling.
func (l *FileReviewLog) Record(query string, outcome GateOutcome, top []model.Candidate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := reviewRecord{
		Time:       time.Now().UTC(),
		Query:      query,
		Outcome:    string(outcome),
		Candidates: top,
	}
	if err := l.enc.Encode(rec); err != nil {
		slog.Warn("review log append failed", slog.Any("error", err))
	}
}

// Close flushes and closes the underlying file.
func (l *FileReviewLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
