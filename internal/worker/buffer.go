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

package worker

import "github.com/viewsync/viewsync/internal/sink"

// pendingBuffer accumulates unflushed operations. It is exclusively owned
// by the worker goroutine, so no locking is needed.
type pendingBuffer struct {
	upserts []sink.Document
	deletes []string
}

func (b *pendingBuffer) add(docs []sink.Document, ids []string) {
	b.upserts = append(b.upserts, docs...)
	b.deletes = append(b.deletes, ids...)
}

// take clears the buffer and hands back its contents, so new operations
// accumulate in a fresh buffer while a flush is in flight.
func (b *pendingBuffer) take() ([]sink.Document, []string) {
	docs, ids := b.upserts, b.deletes
	b.upserts, b.deletes = nil, nil
	return docs, ids
}

// requeueFront restores captured operations ahead of anything buffered
// since, preserving original order after a failed flush.
func (b *pendingBuffer) requeueFront(docs []sink.Document, ids []string) {
	if len(docs) > 0 {
		merged := make([]sink.Document, 0, len(docs)+len(b.upserts))
		merged = append(merged, docs...)
		merged = append(merged, b.upserts...)
		b.upserts = merged
	}
	if len(ids) > 0 {
		merged := make([]string, 0, len(ids)+len(b.deletes))
		merged = append(merged, ids...)
		merged = append(merged, b.deletes...)
		b.deletes = merged
	}
}

func (b *pendingBuffer) size() int {
	return len(b.upserts) + len(b.deletes)
}

func (b *pendingBuffer) empty() bool {
	return len(b.upserts) == 0 && len(b.deletes) == 0
}
