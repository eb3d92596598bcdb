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

// Package docmap builds destination documents from raw view rows.
package docmap

import (
	"database/sql/driver"
	"fmt"
	"strconv"

	"github.com/Jeffail/gabs/v2"

	"github.com/viewsync/viewsync/internal/sink"
	"github.com/viewsync/viewsync/internal/worker"
)

// Mapping declares how a view row becomes a document: which column keys the
// document, which columns to drop, and how to rename the rest. Renames may
// target dotted paths to nest fields.
type Mapping struct {
	IDColumn string
	Drop     []string
	Rename   map[string]string
}

// Transform compiles the mapping into the worker's transform function.
// Rows without a usable ID are skipped; malformed rows never fail a batch.
func (m Mapping) Transform() worker.Transform {
	dropped := make(map[string]struct{}, len(m.Drop))
	for _, col := range m.Drop {
		dropped[col] = struct{}{}
	}

	return func(row map[string]any) (sink.Document, bool, error) {
		raw, ok := row[m.IDColumn]
		if !ok || raw == nil {
			return sink.Document{}, false, nil
		}
		id, ok := stringID(raw)
		if !ok {
			return sink.Document{}, false, fmt.Errorf("id column %q has unusable value of type %T", m.IDColumn, raw)
		}

		doc := gabs.New()
		for col, val := range row {
			if _, skip := dropped[col]; skip {
				continue
			}
			name := col
			if renamed, ok := m.Rename[col]; ok {
				name = renamed
			}
			if _, err := doc.SetP(val, name); err != nil {
				return sink.Document{}, false, fmt.Errorf("setting field %q: %w", name, err)
			}
		}

		fields, ok := doc.Data().(map[string]any)
		if !ok {
			fields = map[string]any{}
		}
		return sink.Document{ID: id, Fields: fields}, true, nil
	}
}

func stringID(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case []byte:
		if len(t) == 0 {
			return "", false
		}
		return string(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int:
		return strconv.Itoa(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case fmt.Stringer:
		return t.String(), true
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil || dv == nil {
			return "", false
		}
		return stringID(dv)
	default:
		return "", false
	}
}
