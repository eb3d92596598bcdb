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

package mzstream

import "log/slog"

// Event is one change within a batch.
type Event struct {
	Timestamp string
	Diff      int64
	Data      map[string]any
}

// Batch is the ordered set of events sharing one logical timestamp. A batch
// is immutable once handed to the handler; only closed batches may reach a
// handler.
type Batch struct {
	Timestamp string
	Events    []Event
}

// BatchHandler receives each closed batch in stream order.
type BatchHandler func(Batch) error

type readerState int

const (
	// No timestamp observed yet.
	awaitingFirstTimestamp readerState = iota
	// Accumulating the stream's opening snapshot, which is discarded: the
	// destination was seeded by hydration and upserts are full replaces,
	// so replaying the snapshot row by row would be redundant.
	receivingSnapshot
	// Past the snapshot; every closed batch reaches the handler.
	streaming
)

// ChangeReader folds raw subscribe rows into timestamp-bounded batches. A
// batch closes only when the timestamp advances, either on a data row or on
// a progress marker.
type ChangeReader struct {
	state   readerState
	handler BatchHandler
	log     *slog.Logger

	current Batch
}

// NewChangeReader returns a reader delivering closed batches to handler.
func NewChangeReader(handler BatchHandler, log *slog.Logger) *ChangeReader {
	if log == nil {
		log = slog.Default()
	}
	return &ChangeReader{
		state:   awaitingFirstTimestamp,
		handler: handler,
		log:     log,
	}
}

// Handle folds one row into the current batch. The timestamp check runs
// before the row is appended; appending first would merge the row into the
// previous, already-closed batch.
func (r *ChangeReader) Handle(row Row) error {
	switch r.state {
	case awaitingFirstTimestamp:
		r.state = receivingSnapshot
		r.current = Batch{Timestamp: row.Timestamp}
	default:
		if row.Timestamp != r.current.Timestamp {
			if err := r.closeBatch(row.Timestamp); err != nil {
				return err
			}
		}
	}

	if row.Progress {
		return nil
	}
	r.current.Events = append(r.current.Events, Event{
		Timestamp: row.Timestamp,
		Diff:      row.Diff,
		Data:      row.Data,
	})
	return nil
}

// Finish flushes any accumulated non-snapshot batch. Call it on stream end
// or when tearing the stream down after an error, before the termination
// propagates.
func (r *ChangeReader) Finish() error {
	if r.state != streaming || len(r.current.Events) == 0 {
		return nil
	}
	batch := r.current
	r.current = Batch{Timestamp: batch.Timestamp}
	return r.handler(batch)
}

func (r *ChangeReader) closeBatch(nextTimestamp string) error {
	closed := r.current
	r.current = Batch{Timestamp: nextTimestamp}

	if r.state == receivingSnapshot {
		r.state = streaming
		r.log.Info("discarded initial snapshot", "timestamp", closed.Timestamp, "rows", len(closed.Events))
		return nil
	}
	if len(closed.Events) == 0 {
		return nil
	}
	return r.handler(closed)
}
