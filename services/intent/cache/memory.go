// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"container/list"
	"sync"
)

// memoryTier is the bounded in-process cache used when external stores
// are absent or unreachable. LRU: the map and list move together under
// one lock.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type memoryTier struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recent
	maxSize int
}

type memEntry struct {
	normalized string
	vector     []float32 // nil when the semantic tier is disabled
	entry      Entry
}

func newMemoryTier(maxSize int) *memoryTier {
	return &memoryTier{
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
	}
}

func (m *memoryTier) getExact(normalized string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[normalized]
	if !ok {
		return nil, false
	}
	me := el.Value.(*memEntry)
	if me.entry.expired() {
		m.removeLocked(el)
		return nil, false
	}
	m.order.MoveToFront(el)
	me.entry.HitCount++
	e := me.entry
	return &e, true
}

// getSemantic scans stored vectors for the best cosine match. Linear, but
// the tier is small by construction.
func (m *memoryTier) getSemantic(qvec []float32, minCosine float64) (*Entry, bool) {
	if qvec == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *list.Element
	bestCos := minCosine
	for el := m.order.Front(); el != nil; el = el.Next() {
		me := el.Value.(*memEntry)
		if me.vector == nil || me.entry.expired() {
			continue
		}
		if len(me.vector) != len(qvec) {
			continue
		}
		var cos float64
		for i := range qvec {
			cos += float64(qvec[i]) * float64(me.vector[i])
		}
		if cos >= bestCos {
			bestCos = cos
			best = el
		}
	}
	if best == nil {
		return nil, false
	}
	me := best.Value.(*memEntry)
	m.order.MoveToFront(best)
	me.entry.HitCount++
	e := me.entry
	return &e, true
}

func (m *memoryTier) set(normalized string, vector []float32, entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[normalized]; ok {
		me := el.Value.(*memEntry)
		me.vector = vector
		me.entry = entry
		m.order.MoveToFront(el)
		return
	}

	m.entries[normalized] = m.order.PushFront(&memEntry{
		normalized: normalized,
		vector:     vector,
		entry:      entry,
	})
	if m.order.Len() > m.maxSize {
		m.removeLocked(m.order.Back())
	}
}

func (m *memoryTier) delete(normalized string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[normalized]; ok {
		m.removeLocked(el)
	}
}

func (m *memoryTier) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.order.Init()
}

func (m *memoryTier) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// removeLocked unlinks el from both structures. Caller holds mu.
func (m *memoryTier) removeLocked(el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, el.Value.(*memEntry).normalized)
}
