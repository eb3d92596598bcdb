// Copyright 2025 Viewsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sink

import (
	"context"
	"sync"
)

// Memory is an in-process sink. It backs the worker tests and doubles as a
// dry-run destination when operators want to validate a pipeline without a
// search cluster.
type Memory struct {
	mu      sync.Mutex
	indexes map[string]map[string]map[string]any
}

// NewMemory returns an empty in-process sink.
func NewMemory() *Memory {
	return &Memory{
		indexes: map[string]map[string]map[string]any{},
	}
}

// EnsureIndex creates the named index if absent.
func (m *Memory) EnsureIndex(_ context.Context, index, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[index]; !ok {
		m.indexes[index] = map[string]map[string]any{}
	}
	return nil
}

// BulkUpsert replaces documents by ID.
func (m *Memory) BulkUpsert(_ context.Context, index string, docs []Document) (BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.index(index)
	for _, doc := range docs {
		fields := make(map[string]any, len(doc.Fields))
		for k, v := range doc.Fields {
			fields[k] = v
		}
		idx[doc.ID] = fields
	}
	return BulkResult{Succeeded: len(docs)}, nil
}

// BulkDelete removes documents by ID. Absent IDs count as failed items,
// matching the partial-failure semantics of the remote adapters.
func (m *Memory) BulkDelete(_ context.Context, index string, ids []string) (BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.index(index)
	var res BulkResult
	for _, id := range ids {
		if _, ok := idx[id]; ok {
			delete(idx, id)
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// Close is a no-op.
func (*Memory) Close(context.Context) error {
	return nil
}

// Get returns a copy of a stored document.
func (m *Memory) Get(index, id string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.index(index)[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, true
}

// Len reports the number of documents held in an index.
func (m *Memory) Len(index string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.index(index))
}

func (m *Memory) index(index string) map[string]map[string]any {
	idx, ok := m.indexes[index]
	if !ok {
		idx = map[string]map[string]any{}
		m.indexes[index] = idx
	}
	return idx
}

var _ Sink = (*Memory)(nil)
