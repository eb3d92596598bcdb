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

import "sync/atomic"

// Stats is a point-in-time snapshot of one worker's counters.
type Stats struct {
	EventsReceived     uint64 `json:"events_received"`
	EventsProcessed    uint64 `json:"events_processed"`
	FlushCount         uint64 `json:"flush_count"`
	PendingUpserts     int64  `json:"pending_upserts"`
	PendingDeletes     int64  `json:"pending_deletes"`
	BackpressureActive bool   `json:"backpressure_active"`
}

// counters are written only by the worker's own goroutine; atomics make
// them safe to snapshot from outside while the worker runs.
type counters struct {
	received       atomic.Uint64
	processed      atomic.Uint64
	flushes        atomic.Uint64
	pendingUpserts atomic.Int64
	pendingDeletes atomic.Int64
	backpressure   atomic.Bool
}

func (c *counters) snapshot() Stats {
	return Stats{
		EventsReceived:     c.received.Load(),
		EventsProcessed:    c.processed.Load(),
		FlushCount:         c.flushes.Load(),
		PendingUpserts:     c.pendingUpserts.Load(),
		PendingDeletes:     c.pendingDeletes.Load(),
		BackpressureActive: c.backpressure.Load(),
	}
}
