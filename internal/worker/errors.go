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

// ConfigurationError aborts worker startup. It is the only error kind a
// worker ever surfaces as fatal; everything else feeds the reconnect loop.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "configuration: " + e.Reason + ": " + e.Err.Error()
	}
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
