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

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Cursor is an open subscription. Fetch returns decoded rows in stream
// order; an empty result means the poll timed out with nothing new and the
// caller should back off briefly before fetching again.
type Cursor struct {
	session *Session
	name    string
	poll    time.Duration
	log     *slog.Logger

	// Data column names, discovered from the first response's metadata and
	// fixed for the cursor's lifetime.
	columns []string

	closed bool
}

// Fetch issues one bounded FETCH against the cursor.
func (c *Cursor) Fetch(ctx context.Context, maxRows int) ([]Row, error) {
	if maxRows <= 0 {
		maxRows = 1
	}
	q := fmt.Sprintf("FETCH %d %s WITH (timeout = '%dms')", maxRows, c.name, c.poll.Milliseconds())
	rows, err := c.session.conn.Query(ctx, q)
	if err != nil {
		return nil, &ConnectionError{Op: "fetch", Err: err}
	}
	defer rows.Close()

	if c.columns == nil {
		fds := rows.FieldDescriptions()
		if len(fds) <= metadataColumns {
			return nil, &DecodeError{Reason: fmt.Sprintf("expected at least %d columns in subscribe metadata, got %d", metadataColumns+1, len(fds))}
		}
		for _, fd := range fds[metadataColumns:] {
			c.columns = append(c.columns, fd.Name)
		}
		c.log.Debug("discovered view columns", "columns", c.columns)
	}

	out := make([]Row, 0, maxRows)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			c.log.Warn("skipping undecodable row", "error", err)
			continue
		}
		row, err := decodeRow(c.columns, values)
		if err != nil {
			c.log.Warn("skipping bad row", "error", err)
			continue
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &ConnectionError{Op: "fetch read", Err: err}
	}
	return out, nil
}

// Columns returns the cached data column names, nil before the first fetch.
func (c *Cursor) Columns() []string {
	return c.columns
}

// Close releases the cursor and its transaction. Idempotent; the connection
// itself stays open and is released by Session.Close.
func (c *Cursor) Close(ctx context.Context) error {
	if c.closed || c.session.closed {
		return nil
	}
	c.closed = true
	if _, err := c.session.conn.Exec(ctx, "CLOSE "+c.name); err != nil {
		// The transaction may already be aborted; rolling back below is
		// what actually releases the cursor.
		c.log.Debug("close cursor", "error", err)
	}
	if _, err := c.session.conn.Exec(ctx, "ROLLBACK"); err != nil {
		return &ConnectionError{Op: "rollback", Err: err}
	}
	return nil
}
