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
	"errors"
	"fmt"
)

// ErrSubscribeUnsupported reports that the source rejected the SUBSCRIBE
// statement altogether. There is no fallback; callers must treat this as a
// fatal configuration problem rather than retry.
var ErrSubscribeUnsupported = errors.New("source does not support SUBSCRIBE")

// ConnectionError wraps a failure dialing or talking to the source.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DecodeError reports a row that could not be decoded. Decode failures skip
// the row; they never abort the batch.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decoding row: " + e.Reason
}
