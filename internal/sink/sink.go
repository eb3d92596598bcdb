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

// Package sink defines the destination index interface and its adapters.
package sink

import (
	"context"
	"fmt"
)

// Document is a full destination document keyed by ID. Writes are full
// replaces, which keeps replays idempotent.
type Document struct {
	ID     string
	Fields map[string]any
}

// BulkResult reports per-item outcomes of a bulk call. A non-zero Failed
// count does not abort the call.
type BulkResult struct {
	Succeeded int
	Failed    int
}

// Sink is a destination index accepting idempotent bulk writes.
type Sink interface {
	// EnsureIndex creates the index with the given JSON mapping if it does
	// not already exist. An empty mapping requests a dynamic mapping.
	EnsureIndex(ctx context.Context, index, mapping string) error

	// BulkUpsert replaces the given documents by ID.
	BulkUpsert(ctx context.Context, index string, docs []Document) (BulkResult, error)

	// BulkDelete removes the given document IDs.
	BulkDelete(ctx context.Context, index string, ids []string) (BulkResult, error)

	Close(ctx context.Context) error
}

// Error wraps a failed bulk call against a destination index.
type Error struct {
	Op    string
	Index string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink %s on index %q: %v", e.Op, e.Index, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
