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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRow(t *testing.T) {
	columns := []string{"id", "title"}

	tests := []struct {
		name   string
		values []any
		want   Row
	}{
		{
			name:   "data row",
			values: []any{"1700000000000", int64(1), false, "42", "hello"},
			want: Row{
				Timestamp: "1700000000000",
				Diff:      1,
				Data:      map[string]any{"id": "42", "title": "hello"},
			},
		},
		{
			name:   "retraction",
			values: []any{"1700000000001", int64(-1), false, "42", "hello"},
			want: Row{
				Timestamp: "1700000000001",
				Diff:      -1,
				Data:      map[string]any{"id": "42", "title": "hello"},
			},
		},
		{
			name:   "progress marker",
			values: []any{"1700000000002", nil, true, nil, nil},
			want:   Row{Timestamp: "1700000000002", Progress: true},
		},
		{
			name:   "null diff without progress flag is a heartbeat",
			values: []any{"1700000000003", nil, false, nil, nil},
			want:   Row{Timestamp: "1700000000003", Progress: true},
		},
		{
			name:   "text-protocol bytes",
			values: []any{[]byte("5"), []byte("1"), []byte("f"), []byte("42"), []byte("x")},
			want: Row{
				Timestamp: "5",
				Diff:      1,
				Data:      map[string]any{"id": []byte("42"), "title": []byte("x")},
			},
		},
		{
			name:   "numeric timestamp",
			values: []any{int64(77), int64(1), false, "a", "b"},
			want: Row{
				Timestamp: "77",
				Diff:      1,
				Data:      map[string]any{"id": "a", "title": "b"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeRow(columns, tc.values)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeRowErrors(t *testing.T) {
	columns := []string{"id"}

	tests := []struct {
		name   string
		values []any
	}{
		{name: "too few values", values: []any{"1", int64(1), false}},
		{name: "too many values", values: []any{"1", int64(1), false, "a", "b"}},
		{name: "unreadable timestamp", values: []any{struct{}{}, int64(1), false, "a"}},
		{name: "unreadable diff", values: []any{"1", struct{}{}, false, "a"}},
		{name: "unreadable progress flag", values: []any{"1", int64(1), struct{}{}, "a"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeRow(columns, tc.values)
			var derr *DecodeError
			require.ErrorAs(t, err, &derr)
		})
	}
}
