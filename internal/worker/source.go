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
	"context"

	"github.com/viewsync/viewsync/internal/mzstream"
)

// Connector opens a fresh source session per reconnect attempt.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is one source connection: it can hydrate the full view and host
// one subscription cursor. Faked in tests.
type Session interface {
	Hydrate(ctx context.Context, query string, fn func(row map[string]any) error) (int, error)
	OpenSubscription(ctx context.Context, query string) (Cursor, error)
	Close(ctx context.Context) error
}

// Cursor yields decoded subscribe rows in stream order.
type Cursor interface {
	Fetch(ctx context.Context, maxRows int) ([]mzstream.Row, error)
	Close(ctx context.Context) error
}

// NewSourceConnector adapts an mzstream configuration to the Connector
// interface the worker consumes.
func NewSourceConnector(conf mzstream.Config) Connector {
	return sourceConnector{conf: conf}
}

type sourceConnector struct {
	conf mzstream.Config
}

func (c sourceConnector) Connect(ctx context.Context) (Session, error) {
	s, err := mzstream.Connect(ctx, c.conf)
	if err != nil {
		return nil, err
	}
	return mzSession{s}, nil
}

type mzSession struct {
	*mzstream.Session
}

func (s mzSession) OpenSubscription(ctx context.Context, query string) (Cursor, error) {
	return s.Session.OpenSubscription(ctx, query)
}
