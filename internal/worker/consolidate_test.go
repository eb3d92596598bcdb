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

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viewsync/viewsync/internal/mzstream"
	"github.com/viewsync/viewsync/internal/sink"
)

func event(diff int64, id string, extra map[string]any) mzstream.Event {
	data := map[string]any{"id": id}
	for k, v := range extra {
		data[k] = v
	}
	return mzstream.Event{Timestamp: "1", Diff: diff, Data: data}
}

func ids(docs []sink.Document) []string {
	var out []string
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func TestConsolidate(t *testing.T) {
	tests := []struct {
		name        string
		events      []mzstream.Event
		wantUpserts []string
		wantDeletes []string
	}{
		{
			name:        "plain insert",
			events:      []mzstream.Event{event(1, "a", nil)},
			wantUpserts: []string{"a"},
		},
		{
			name:        "plain retraction",
			events:      []mzstream.Event{event(-1, "a", nil)},
			wantDeletes: []string{"a"},
		},
		{
			name: "update folds to one upsert",
			events: []mzstream.Event{
				event(-1, "a", map[string]any{"v": "old"}),
				event(1, "a", map[string]any{"v": "new"}),
			},
			wantUpserts: []string{"a"},
		},
		{
			name: "insert then retract nets to delete",
			events: []mzstream.Event{
				event(1, "a", nil),
				event(-1, "a", nil),
				event(-1, "a", nil),
			},
			wantDeletes: []string{"a"},
		},
		{
			name: "independent documents keep first-seen order",
			events: []mzstream.Event{
				event(1, "b", nil),
				event(-1, "a", nil),
				event(1, "c", nil),
			},
			wantUpserts: []string{"b", "c"},
			wantDeletes: []string{"a"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			batch := mzstream.Batch{Timestamp: "1", Events: tc.events}
			upserts, deletes, processed := consolidate(batch, idTransform, slog.Default())

			assert.Equal(t, tc.wantUpserts, ids(upserts))
			assert.Equal(t, tc.wantDeletes, deletes)
			assert.Equal(t, len(tc.events), processed)
		})
	}
}

func TestConsolidateNetZeroUpdateEmitsUpsert(t *testing.T) {
	// A retract/insert pair at the same timestamp nets to zero yet must
	// still reach the sink with the new column values.
	batch := mzstream.Batch{Timestamp: "1", Events: []mzstream.Event{
		event(-1, "a", map[string]any{"title": "old"}),
		event(1, "a", map[string]any{"title": "new"}),
	}}
	upserts, deletes, _ := consolidate(batch, idTransform, slog.Default())

	assert.Empty(t, deletes)
	if assert.Len(t, upserts, 1) {
		assert.Equal(t, "new", upserts[0].Fields["title"])
	}
}

func TestConsolidateDropsUntransformableEvents(t *testing.T) {
	failing := func(row map[string]any) (sink.Document, bool, error) {
		if row["id"] == "bad" {
			return sink.Document{}, false, errors.New("mapping failed")
		}
		return idTransform(row)
	}
	batch := mzstream.Batch{Timestamp: "1", Events: []mzstream.Event{
		event(1, "bad", nil),
		event(1, "ok", nil),
		{Timestamp: "1", Diff: 1, Data: map[string]any{"title": "keyless"}},
	}}

	upserts, deletes, processed := consolidate(batch, failing, slog.Default())
	assert.Equal(t, []string{"ok"}, ids(upserts))
	assert.Empty(t, deletes)
	assert.Equal(t, 1, processed, "failed and skipped events are not counted")
}

func TestApplyEvents(t *testing.T) {
	batch := mzstream.Batch{Timestamp: "1", Events: []mzstream.Event{
		event(1, "a", nil),
		event(-1, "b", nil),
		event(1, "c", nil),
	}}
	upserts, deletes, processed := applyEvents(batch, idTransform, slog.Default())

	assert.Equal(t, []string{"a", "c"}, ids(upserts))
	assert.Equal(t, []string{"b"}, deletes)
	assert.Equal(t, 3, processed)
}
