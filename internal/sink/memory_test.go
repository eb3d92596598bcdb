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

package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureIndex(ctx, "docs", ""))

	docs := []Document{
		{ID: "a", Fields: map[string]any{"title": "first"}},
		{ID: "b", Fields: map[string]any{"title": "second"}},
	}
	res, err := m.BulkUpsert(ctx, "docs", docs)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Succeeded: 2}, res)

	// Replaying the same batch replaces in place.
	res, err = m.BulkUpsert(ctx, "docs", docs)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Succeeded: 2}, res)
	assert.Equal(t, 2, m.Len("docs"))

	res, err = m.BulkUpsert(ctx, "docs", []Document{
		{ID: "a", Fields: map[string]any{"title": "updated"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	got, ok := m.Get("docs", "a")
	require.True(t, ok)
	assert.Equal(t, "updated", got["title"])
	assert.Equal(t, 2, m.Len("docs"))
}

func TestMemoryUpsertIsFullReplace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.BulkUpsert(ctx, "docs", []Document{
		{ID: "a", Fields: map[string]any{"title": "x", "stale": true}},
	})
	require.NoError(t, err)
	_, err = m.BulkUpsert(ctx, "docs", []Document{
		{ID: "a", Fields: map[string]any{"title": "y"}},
	})
	require.NoError(t, err)

	got, ok := m.Get("docs", "a")
	require.True(t, ok)
	assert.NotContains(t, got, "stale", "upserts replace the whole document")
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.BulkUpsert(ctx, "docs", []Document{{ID: "a", Fields: map[string]any{}}})
	require.NoError(t, err)

	res, err := m.BulkDelete(ctx, "docs", []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Succeeded: 1, Failed: 1}, res)
	assert.Zero(t, m.Len("docs"))
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.BulkUpsert(ctx, "docs", []Document{{ID: "a", Fields: map[string]any{"n": 1}}})
	require.NoError(t, err)

	got, _ := m.Get("docs", "a")
	got["n"] = 99

	again, _ := m.Get("docs", "a")
	assert.Equal(t, 1, again["n"])
}
