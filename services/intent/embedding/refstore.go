// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/storage/badgerstore"
)

// refKeyPrefix versions the persisted reference-embedding format. Bump it
// when the stored layout changes so stale entries read as misses.
const refKeyPrefix = "intent/emb/v1/"

// errRefCacheMiss signals that no persisted references exist for a corpus.
var errRefCacheMiss = errors.New("reference embedding cache miss")

// RefStore persists computed reference embeddings keyed by a hash of the
// example-phrase corpus, so process restarts skip re-encoding when the
// taxonomy has not changed.
type RefStore interface {
	Load(ctx context.Context, corpusHash string) (map[string][]float32, error)
	Save(ctx context.Context, corpusHash string, refs map[string][]float32) error
}

// BadgerRefStore stores gob-encoded reference maps in BadgerDB with a TTL.
//
// Thread Safety: Safe for concurrent use.
type BadgerRefStore struct {
	db  *badgerstore.DB
	ttl time.Duration
}

// NewBadgerRefStore creates a store over db. A ttl of 0 means entries
// never expire.
func NewBadgerRefStore(db *badgerstore.DB, ttl time.Duration) *BadgerRefStore {
	return &BadgerRefStore{db: db, ttl: ttl}
}

// Load fetches the reference map for corpusHash, or errRefCacheMiss.
func (s *BadgerRefStore) Load(ctx context.Context, corpusHash string) (map[string][]float32, error) {
	var refs map[string][]float32
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(refKey(corpusHash)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errRefCacheMiss
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gobDecode(val, &refs)
		})
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// Save persists the reference map under corpusHash.
func (s *BadgerRefStore) Save(ctx context.Context, corpusHash string, refs map[string][]float32) error {
	data, err := gobEncode(refs)
	if err != nil {
		return fmt.Errorf("encode reference embeddings: %w", err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(refKey(corpusHash)), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

func refKey(corpusHash string) string { return refKeyPrefix + corpusHash }

// CorpusHash fingerprints the example-phrase corpus: action codes and
// phrases in sorted order, SHA-256, hex.
func CorpusHash(phrasesByCode map[string][]string) string {
	codes := make([]string, 0, len(phrasesByCode))
	for code := range phrasesByCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	h := sha256.New()
	for _, code := range codes {
		h.Write([]byte(code))
		h.Write([]byte{0})
		for _, p := range phrasesByCode[code] {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// shortHash abbreviates a corpus hash for log lines.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
