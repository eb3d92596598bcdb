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

// Package worker turns a differential change stream into idempotent bulk
// writes against a destination index. Each worker owns its connection,
// buffers and counters; N workers run independently in one process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jeffail/shutdown"
	"github.com/cenkalti/backoff/v4"

	"github.com/viewsync/viewsync/internal/metrics"
	"github.com/viewsync/viewsync/internal/mzstream"
	"github.com/viewsync/viewsync/internal/sink"
)

// Transform maps a raw source row onto a destination document. Returning
// ok=false skips the event (e.g. the key column is missing) without
// failing its batch. Transforms must be pure.
type Transform func(row map[string]any) (doc sink.Document, ok bool, err error)

// Sync binds one source view to one destination index. It is the strategy
// object that keeps the worker generic over any (view, index, transform)
// triple.
type Sync struct {
	// View is a view name or a full SELECT statement.
	View  string
	Index string
	// Schema is an optional JSON mapping passed to EnsureIndex.
	Schema    string
	Transform Transform
	// Consolidate folds same-timestamp operations per document into one
	// net operation. Worth enabling for views with frequent updates;
	// append-mostly views are cheaper without it.
	Consolidate bool
}

func (s Sync) query() string {
	v := strings.TrimSpace(s.View)
	if strings.HasPrefix(strings.ToUpper(v), "SELECT") {
		return v
	}
	return "SELECT * FROM " + v
}

// Tuning bundles the worker's operational knobs. Zero values pick defaults.
type Tuning struct {
	FetchSize      int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	FlushRetries   int
	FlushBackoff   time.Duration
	HighWatermark  int
	LowWatermark   int
}

const idleWait = 50 * time.Millisecond

func (t Tuning) withDefaults() Tuning {
	if t.FetchSize <= 0 {
		t.FetchSize = 1000
	}
	if t.BackoffInitial <= 0 {
		t.BackoffInitial = 500 * time.Millisecond
	}
	if t.BackoffMax <= 0 {
		t.BackoffMax = 30 * time.Second
	}
	if t.FlushRetries <= 0 {
		t.FlushRetries = 3
	}
	if t.FlushBackoff <= 0 {
		t.FlushBackoff = time.Second
	}
	if t.HighWatermark <= 0 {
		t.HighWatermark = 10000
	}
	if t.LowWatermark <= 0 {
		t.LowWatermark = t.HighWatermark / 10
	}
	return t
}

func newReconnectBackoff(t Tuning) *backoff.ExponentialBackOff {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = t.BackoffInitial
	boff.MaxInterval = t.BackoffMax
	boff.Multiplier = 2
	boff.RandomizationFactor = 0
	boff.MaxElapsedTime = 0
	boff.Reset()
	return boff
}

// Worker drives one sync end to end: hydration, the change stream, the
// pending buffer and the retrying flush, inside a reconnect loop.
type Worker struct {
	sync      Sync
	tuning    Tuning
	connector Connector
	dest      sink.Sink
	log       *slog.Logger
	prom      *metrics.WorkerMetrics

	shutSig *shutdown.Signaller
	boff    *backoff.ExponentialBackOff
	stats   counters
	pending pendingBuffer

	backpressure bool
	hydrated     bool
}

// Option customises a worker.
type Option func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.WorkerMetrics) Option {
	return func(w *Worker) { w.prom = m }
}

// New assembles a worker. Validation happens at the start of Run.
func New(s Sync, connector Connector, dest sink.Sink, tuning Tuning, opts ...Option) *Worker {
	w := &Worker{
		sync:      s,
		tuning:    tuning.withDefaults(),
		connector: connector,
		dest:      dest,
		log:       slog.Default(),
		shutSig:   shutdown.NewSignaller(),
	}
	w.boff = newReconnectBackoff(w.tuning)
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("index", s.Index)
	return w
}

// Index returns the destination index this worker writes to.
func (w *Worker) Index() string {
	return w.sync.Index
}

// Stats returns a concurrent-safe snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	return w.stats.snapshot()
}

// Stop requests a cooperative shutdown. Run returns once any in-flight
// flush has completed.
func (w *Worker) Stop() {
	w.shutSig.TriggerSoftStop()
}

// Run blocks until Stop is called or a ConfigurationError aborts startup.
// Connection, decode, transform and sink errors never terminate the run;
// they feed the reconnect loop.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.validate(); err != nil {
		return err
	}
	defer w.shutSig.TriggerHasStopped()

	for {
		err := w.runSession(ctx)
		if errors.Is(err, mzstream.ErrSubscribeUnsupported) {
			return &ConfigurationError{Reason: "streaming unsupported by source", Err: err}
		}
		if w.stopping(ctx) {
			if err != nil {
				w.log.Debug("session ended during shutdown", "error", err)
			}
			w.log.Info("worker stopped")
			return nil
		}
		if err != nil {
			w.log.Warn("stream session failed", "error", err)
		}

		delay := w.boff.NextBackOff()
		w.log.Info("reconnecting to source", "delay", delay)
		select {
		case <-time.After(delay):
		case <-w.shutSig.SoftStopChan():
		case <-ctx.Done():
		}
	}
}

func (w *Worker) validate() error {
	if w.sync.View == "" {
		return &ConfigurationError{Reason: "no source view configured"}
	}
	if w.sync.Index == "" {
		return &ConfigurationError{Reason: "no destination index configured"}
	}
	if w.sync.Transform == nil {
		return &ConfigurationError{Reason: "no transform configured"}
	}
	if w.tuning.LowWatermark > w.tuning.HighWatermark {
		return &ConfigurationError{Reason: fmt.Sprintf(
			"low watermark %d above high watermark %d",
			w.tuning.LowWatermark, w.tuning.HighWatermark)}
	}
	return nil
}

func (w *Worker) stopping(ctx context.Context) bool {
	return w.shutSig.IsSoftStopSignalled() || ctx.Err() != nil
}

// runSession is one reconnect iteration: a fresh connection, one-time
// hydration, then the fetch loop until stop or failure. Pending operations
// are flushed before the connection is torn down.
func (w *Worker) runSession(ctx context.Context) (err error) {
	sess, err := w.connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if ferr := w.flush(cleanupCtx); ferr != nil {
			w.log.Warn("flush on teardown failed, operations stay buffered", "error", ferr)
		}
		if cerr := sess.Close(cleanupCtx); cerr != nil {
			w.log.Debug("closing source session", "error", cerr)
		}
	}()

	if !w.hydrated {
		if err := w.dest.EnsureIndex(ctx, w.sync.Index, w.sync.Schema); err != nil {
			return err
		}
		if err := w.hydrate(ctx, sess); err != nil {
			return err
		}
		w.hydrated = true
	}

	cur, err := sess.OpenSubscription(ctx, w.sync.query())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cur.Close(context.WithoutCancel(ctx)); cerr != nil {
			w.log.Debug("closing cursor", "error", cerr)
		}
	}()

	reader := mzstream.NewChangeReader(func(b mzstream.Batch) error {
		return w.handleBatch(ctx, b)
	}, w.log)

	for !w.stopping(ctx) {
		rows, err := cur.Fetch(ctx, w.tuning.FetchSize)
		if err != nil {
			// Deliver what already accumulated before propagating.
			if ferr := reader.Finish(); ferr != nil {
				return ferr
			}
			return err
		}
		if len(rows) == 0 {
			select {
			case <-time.After(idleWait):
			case <-w.shutSig.SoftStopChan():
			case <-ctx.Done():
			}
			continue
		}
		for _, row := range rows {
			if !row.Progress {
				w.stats.received.Add(1)
				w.prom.IncReceived(1)
			}
			if err := reader.Handle(row); err != nil {
				return err
			}
		}
	}
	return reader.Finish()
}

// hydrate seeds the destination with one full read of the view, in
// fetch-sized bulk upserts.
func (w *Worker) hydrate(ctx context.Context, sess Session) error {
	w.log.Info("hydrating destination index", "view", w.sync.View)
	chunk := make([]sink.Document, 0, w.tuning.FetchSize)

	write := func() error {
		if len(chunk) == 0 {
			return nil
		}
		res, err := w.dest.BulkUpsert(ctx, w.sync.Index, chunk)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			w.log.Warn("hydration bulk upsert partially failed", "failed", res.Failed)
		}
		chunk = chunk[:0]
		return nil
	}

	total, err := sess.Hydrate(ctx, w.sync.query(), func(row map[string]any) error {
		doc, ok, terr := w.sync.Transform(row)
		if terr != nil {
			w.log.Warn("dropping hydration row, transform failed", "error", terr)
			return nil
		}
		if !ok {
			return nil
		}
		chunk = append(chunk, doc)
		if len(chunk) >= w.tuning.FetchSize {
			return write()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := write(); err != nil {
		return err
	}
	w.log.Info("hydration complete", "rows", total)
	return nil
}

// handleBatch is the reader's batch handler: transform or consolidate,
// queue, recompute backpressure, then unconditionally attempt a flush.
func (w *Worker) handleBatch(ctx context.Context, batch mzstream.Batch) error {
	var (
		upserts   []sink.Document
		deletes   []string
		processed int
	)
	if w.sync.Consolidate {
		upserts, deletes, processed = consolidate(batch, w.sync.Transform, w.log)
	} else {
		upserts, deletes, processed = applyEvents(batch, w.sync.Transform, w.log)
	}

	w.pending.add(upserts, deletes)
	w.stats.processed.Add(uint64(processed))
	w.prom.IncProcessed(processed)
	w.publishPending()
	w.updateBackpressure()

	if err := w.flush(ctx); err != nil {
		return err
	}
	// A batch made it through end to end; the source is healthy again.
	w.boff.Reset()
	return nil
}

// updateBackpressure applies watermark hysteresis: the flag activates at
// the high watermark and clears only at the low one, so a count oscillating
// near the threshold cannot flap it. Backpressure is advisory; intake is
// not paused.
func (w *Worker) updateBackpressure() {
	n := w.pending.size()
	switch {
	case !w.backpressure && n >= w.tuning.HighWatermark:
		w.backpressure = true
		w.log.Warn("backpressure active, sink is falling behind", "pending", n, "high_watermark", w.tuning.HighWatermark)
	case w.backpressure && n <= w.tuning.LowWatermark:
		w.backpressure = false
		w.log.Info("backpressure cleared", "pending", n)
	}
	w.stats.backpressure.Store(w.backpressure)
	w.prom.SetBackpressure(w.backpressure)
}

// flush pushes the pending buffer to the sink with bounded retries. On
// exhaustion the captured operations are restored to the front of the live
// buffer and the error surfaces to the reconnect loop.
func (w *Worker) flush(ctx context.Context) error {
	if w.pending.empty() {
		return nil
	}
	docs, ids := w.pending.take()

	var lastErr error
	for attempt := 1; attempt <= w.tuning.FlushRetries; attempt++ {
		if lastErr = w.flushOnce(ctx, docs, ids); lastErr == nil {
			w.stats.flushes.Add(1)
			w.prom.IncFlushes()
			w.publishPending()
			return nil
		}
		w.prom.IncFlushFailures()
		w.log.Warn("flush attempt failed",
			"attempt", attempt,
			"retries", w.tuning.FlushRetries,
			"error", lastErr)
		if attempt == w.tuning.FlushRetries {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * w.tuning.FlushBackoff):
		case <-ctx.Done():
			attempt = w.tuning.FlushRetries
		}
	}

	w.pending.requeueFront(docs, ids)
	w.publishPending()
	w.updateBackpressure()
	return lastErr
}

func (w *Worker) flushOnce(ctx context.Context, docs []sink.Document, ids []string) error {
	if len(docs) > 0 {
		res, err := w.dest.BulkUpsert(ctx, w.sync.Index, docs)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			w.log.Warn("bulk upsert partially failed", "succeeded", res.Succeeded, "failed", res.Failed)
		}
	}
	if len(ids) > 0 {
		res, err := w.dest.BulkDelete(ctx, w.sync.Index, ids)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			w.log.Warn("bulk delete partially failed", "succeeded", res.Succeeded, "failed", res.Failed)
		}
	}
	return nil
}

func (w *Worker) publishPending() {
	up, del := len(w.pending.upserts), len(w.pending.deletes)
	w.stats.pendingUpserts.Store(int64(up))
	w.stats.pendingDeletes.Store(int64(del))
	w.prom.SetPending(up, del)
}
