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
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Session is one connection to the source. A session hosts at most one open
// subscription cursor, which lives inside the session's transaction.
type Session struct {
	conn   *pgx.Conn
	conf   Config
	log    *slog.Logger
	closed bool
}

// Connect dials the source and selects the configured execution cluster.
// The cluster must be set before subscribing or hydrating, otherwise the
// statements run on whatever cluster the role defaults to.
func Connect(ctx context.Context, conf Config) (*Session, error) {
	sslmode := "disable"
	if conf.TLS {
		sslmode = "require"
	}
	appName := conf.ApplicationName
	if appName == "" {
		appName = "viewsync"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&application_name=%s",
		url.QueryEscape(conf.User),
		url.QueryEscape(conf.Password),
		conf.Host,
		conf.Port,
		conf.Database,
		sslmode,
		url.QueryEscape(appName),
	)
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, &ConnectionError{Op: "parse config", Err: err}
	}
	// The source's pgwire implementation is happiest with the simple
	// protocol; prepared-statement caching buys nothing for FETCH loops.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}

	s := &Session{
		conn: conn,
		conf: conf,
		log:  conf.logger(),
	}
	if conf.Cluster != "" {
		if err := validateIdentifier(conf.Cluster); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("invalid cluster name: %w", err)
		}
		if _, err := conn.Exec(ctx, "SET cluster = "+conf.Cluster); err != nil {
			_ = conn.Close(ctx)
			return nil, &ConnectionError{Op: "set cluster", Err: err}
		}
	}
	return s, nil
}

// Hydrate runs one full read of the view and feeds every row to fn. It is
// used to seed the destination before streaming starts.
func (s *Session) Hydrate(ctx context.Context, query string, fn func(row map[string]any) error) (int, error) {
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return 0, &ConnectionError{Op: "hydration query", Err: err}
	}
	defer rows.Close()

	var names []string
	for _, fd := range rows.FieldDescriptions() {
		names = append(names, fd.Name)
	}

	count := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			s.log.Warn("skipping undecodable hydration row", "error", err)
			continue
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			if i < len(values) {
				row[name] = values[i]
			}
		}
		if err := fn(row); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, &ConnectionError{Op: "hydration read", Err: err}
	}
	return count, nil
}

// OpenSubscription declares a streaming cursor over the view query. Progress
// reporting is mandatory: without it an idle stream is indistinguishable
// from a stalled one and batches could never close during quiet periods.
func (s *Session) OpenSubscription(ctx context.Context, query string) (*Cursor, error) {
	suffix, err := gonanoid.Generate("0123456789abcdefghjkmnpqrstvwxyz", 16)
	if err != nil {
		return nil, fmt.Errorf("generating cursor name: %w", err)
	}
	name := "vs_" + suffix

	if _, err := s.conn.Exec(ctx, "BEGIN"); err != nil {
		return nil, &ConnectionError{Op: "begin", Err: err}
	}

	declare := fmt.Sprintf("DECLARE %s CURSOR FOR SUBSCRIBE (%s) WITH (PROGRESS)", name, query)
	if _, err := s.conn.Exec(ctx, declare); err != nil {
		_, _ = s.conn.Exec(ctx, "ROLLBACK")
		if isSubscribeUnsupported(err) {
			return nil, fmt.Errorf("%w: %v", ErrSubscribeUnsupported, err)
		}
		return nil, &ConnectionError{Op: "declare cursor", Err: err}
	}
	s.log.Debug("declared subscription cursor", "cursor", name)

	return &Cursor{
		session: s,
		name:    name,
		poll:    s.conf.pollTimeout(),
		log:     s.log.With("cursor", name),
	}, nil
}

// Close releases the connection. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close(ctx)
}

func isSubscribeUnsupported(err error) bool {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "subscribe") {
		return false
	}
	return strings.Contains(msg, "not supported") ||
		strings.Contains(msg, "disabled") ||
		strings.Contains(msg, "unknown") ||
		strings.Contains(msg, "syntax error")
}

func validateIdentifier(s string) error {
	for _, b := range []byte(s) {
		isDigit := b >= '0' && b <= '9'
		isLower := b >= 'a' && b <= 'z'
		isUpper := b >= 'A' && b <= 'Z'
		isDelimiter := b == '_'
		if !isDigit && !isLower && !isUpper && !isDelimiter {
			return fmt.Errorf("invalid identifier %q", s)
		}
	}
	return nil
}
