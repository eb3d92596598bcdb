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

package docmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingTransform(t *testing.T) {
	tr := Mapping{
		IDColumn: "id",
		Drop:     []string{"internal_rank"},
		Rename:   map[string]string{"body_text": "body"},
	}.Transform()

	doc, ok, err := tr(map[string]any{
		"id":            int64(42),
		"title":         "hello",
		"body_text":     "world",
		"internal_rank": 0.7,
	})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "42", doc.ID)
	assert.Equal(t, "hello", doc.Fields["title"])
	assert.Equal(t, "world", doc.Fields["body"])
	assert.NotContains(t, doc.Fields, "body_text")
	assert.NotContains(t, doc.Fields, "internal_rank")
}

func TestMappingTransformNestedRename(t *testing.T) {
	tr := Mapping{
		IDColumn: "id",
		Rename:   map[string]string{"city": "address.city", "zip": "address.zip"},
	}.Transform()

	doc, ok, err := tr(map[string]any{"id": "1", "city": "Berlin", "zip": "10115"})
	require.NoError(t, err)
	require.True(t, ok)

	addr, isMap := doc.Fields["address"].(map[string]any)
	require.True(t, isMap)
	assert.Equal(t, "Berlin", addr["city"])
	assert.Equal(t, "10115", addr["zip"])
}

func TestMappingTransformSkipsRowsWithoutID(t *testing.T) {
	tr := Mapping{IDColumn: "id"}.Transform()

	_, ok, err := tr(map[string]any{"title": "orphan"})
	require.NoError(t, err)
	assert.False(t, ok, "missing id column skips the row")

	_, ok, err = tr(map[string]any{"id": nil, "title": "orphan"})
	require.NoError(t, err)
	assert.False(t, ok, "null id skips the row")
}

func TestMappingTransformRejectsUnusableID(t *testing.T) {
	tr := Mapping{IDColumn: "id"}.Transform()

	_, _, err := tr(map[string]any{"id": map[string]any{"no": "good"}})
	require.Error(t, err)

	_, _, err = tr(map[string]any{"id": ""})
	require.Error(t, err)
}

func TestMappingTransformIDKinds(t *testing.T) {
	tr := Mapping{IDColumn: "id"}.Transform()

	tests := []struct {
		raw  any
		want string
	}{
		{raw: "abc", want: "abc"},
		{raw: []byte("xyz"), want: "xyz"},
		{raw: int64(9), want: "9"},
		{raw: int32(-3), want: "-3"},
		{raw: 17, want: "17"},
		{raw: float64(2.5), want: "2.5"},
	}
	for _, tc := range tests {
		doc, ok, err := tr(map[string]any{"id": tc.raw})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, tc.want, doc.ID)
	}
}
