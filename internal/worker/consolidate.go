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
	"log/slog"

	"github.com/viewsync/viewsync/internal/mzstream"
	"github.com/viewsync/viewsync/internal/sink"
)

// consolidatedChange is the net effect of all same-timestamp events on one
// document.
type consolidatedChange struct {
	diff      int64
	doc       sink.Document
	hasInsert bool
}

// consolidate folds a batch by document ID into one net operation per
// document. Delete rows may carry only key columns, so document data is
// taken from insert events exclusively. A net-zero change that saw an
// insert is an update and emits an upsert; it is never dropped.
func consolidate(batch mzstream.Batch, transform Transform, log *slog.Logger) (upserts []sink.Document, deletes []string, processed int) {
	byID := map[string]*consolidatedChange{}
	var order []string

	for _, ev := range batch.Events {
		doc, ok, err := transform(ev.Data)
		if err != nil {
			log.Warn("dropping event, transform failed", "timestamp", ev.Timestamp, "error", err)
			continue
		}
		if !ok {
			continue
		}
		processed++

		cc := byID[doc.ID]
		if cc == nil {
			cc = &consolidatedChange{}
			byID[doc.ID] = cc
			order = append(order, doc.ID)
		}
		cc.diff += ev.Diff
		if ev.Diff > 0 {
			cc.doc = doc
			cc.hasInsert = true
		}
	}

	for _, id := range order {
		cc := byID[id]
		switch {
		case cc.diff > 0:
			upserts = append(upserts, cc.doc)
		case cc.diff < 0:
			deletes = append(deletes, id)
		case cc.hasInsert:
			upserts = append(upserts, cc.doc)
		}
	}
	return upserts, deletes, processed
}

// applyEvents handles a batch without folding: inserts queue a document,
// retractions queue the key. Cheaper for append-mostly views where
// same-timestamp updates are rare.
func applyEvents(batch mzstream.Batch, transform Transform, log *slog.Logger) (upserts []sink.Document, deletes []string, processed int) {
	for _, ev := range batch.Events {
		doc, ok, err := transform(ev.Data)
		if err != nil {
			log.Warn("dropping event, transform failed", "timestamp", ev.Timestamp, "error", err)
			continue
		}
		if !ok {
			continue
		}
		processed++
		if ev.Diff > 0 {
			upserts = append(upserts, doc)
		} else {
			deletes = append(deletes, doc.ID)
		}
	}
	return upserts, deletes, processed
}
