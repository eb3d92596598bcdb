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
	"database/sql/driver"
	"fmt"
	"strconv"
)

// Row is one decoded subscribe row. Progress rows carry only a new
// timestamp; data rows additionally carry a diff and the view's columns.
type Row struct {
	// Timestamp is the source's logical timestamp, treated as an opaque
	// token: the stream only ever compares consecutive values for equality.
	Timestamp string
	Diff      int64
	Progress  bool
	Data      map[string]any
}

// decodeRow maps raw column values onto a Row. The first three values are
// the stream metadata (timestamp, diff, progress flag); the rest are zipped
// against the cached column names.
func decodeRow(columns []string, values []any) (Row, error) {
	if len(values) != len(columns)+metadataColumns {
		return Row{}, &DecodeError{Reason: fmt.Sprintf("expected %d values, got %d", len(columns)+metadataColumns, len(values))}
	}

	ts, ok := asString(values[0])
	if !ok {
		return Row{}, &DecodeError{Reason: fmt.Sprintf("unreadable timestamp %T", values[0])}
	}

	progress := false
	if values[2] != nil {
		b, ok := asBool(values[2])
		if !ok {
			return Row{}, &DecodeError{Reason: fmt.Sprintf("unreadable progress flag %T", values[2])}
		}
		progress = b
	}

	// A null diff is a heartbeat even if the progress flag did not decode
	// as set; there is no data to apply either way.
	if progress || values[1] == nil {
		return Row{Timestamp: ts, Progress: true}, nil
	}

	diff, ok := asInt64(values[1])
	if !ok {
		return Row{}, &DecodeError{Reason: fmt.Sprintf("unreadable diff %T", values[1])}
	}

	data := make(map[string]any, len(columns))
	for i, name := range columns {
		data[name] = values[metadataColumns+i]
	}
	return Row{Timestamp: ts, Diff: diff, Data: data}, nil
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int:
		return strconv.Itoa(t), true
	case fmt.Stringer:
		return t.String(), true
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil || dv == nil {
			return "", false
		}
		return asString(dv)
	default:
		return "", false
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int16:
		return int64(t), true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		return n, err == nil
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil || dv == nil {
			return 0, false
		}
		return asInt64(dv)
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return t == "t" || t == "true", true
	case []byte:
		s := string(t)
		return s == "t" || s == "true", true
	default:
		return false, false
	}
}
