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

// Package mzstream speaks the subscribe protocol of a differential-dataflow
// SQL source over the Postgres wire protocol: a session with its execution
// cluster selected, a streaming cursor declared with progress reporting, and
// bounded fetches decoded into timestamped change rows.
package mzstream

import (
	"log/slog"
	"time"
)

const (
	// Leading columns on every subscribe row: logical timestamp, diff
	// (null on progress rows) and the progress flag. Data columns follow.
	metadataColumns = 3

	defaultPollTimeout = 500 * time.Millisecond
)

// Config holds source session options.
type Config struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Database string

	// Cluster is selected on the session before any query is issued, so
	// that hydration and subscriptions run on the intended compute.
	Cluster string

	TLS             bool
	ApplicationName string

	// PollTimeout bounds each FETCH so the read loop stays cancellable.
	PollTimeout time.Duration

	Logger *slog.Logger
}

func (c Config) pollTimeout() time.Duration {
	if c.PollTimeout <= 0 {
		return defaultPollTimeout
	}
	return c.PollTimeout
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
