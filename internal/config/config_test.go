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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
source:
  host: mz.example.com
sink:
  type: memory
syncs:
  - view: mv_docs
    index: docs
`

func TestParseMinimal(t *testing.T) {
	conf, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "mz.example.com", conf.Source.Host)
	assert.Equal(t, uint16(6875), conf.Source.Port)
	assert.Equal(t, "materialize", conf.Source.User)
	assert.Equal(t, "materialize", conf.Source.Database)
	assert.Equal(t, ":9400", conf.Admin.Address)
	require.Len(t, conf.Syncs, 1)
	assert.Equal(t, "id", conf.Syncs[0].IDColumn)
}

func TestParseFull(t *testing.T) {
	raw := `
source:
  host: mz.internal
  port: 16875
  user: app
  password: secret
  database: analytics
  cluster: serving
  tls: true
sink:
  type: opensearch
  urls: ["https://search-1:9200", "https://search-2:9200"]
  username: writer
  password: hunter2
admin:
  address: 127.0.0.1:9500
syncs:
  - view: mv_products
    index: products
    id_column: sku
    consolidate: true
    drop: [internal_rank]
    rename:
      body_text: body
tuning:
  fetch_size: 250
  poll_timeout: 750ms
  backoff_initial: 1s
  backoff_max: 1m
  flush_retries: 5
  flush_backoff: 2s
  high_watermark: 5000
  low_watermark: 500
`
	conf, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "serving", conf.Source.Cluster)
	assert.True(t, conf.Source.TLS)
	assert.Equal(t, "opensearch", conf.Sink.Type)
	assert.Len(t, conf.Sink.URLs, 2)
	assert.Equal(t, "127.0.0.1:9500", conf.Admin.Address)

	s := conf.Syncs[0]
	assert.Equal(t, "sku", s.IDColumn)
	assert.True(t, s.Consolidate)
	assert.Equal(t, []string{"internal_rank"}, s.Drop)
	assert.Equal(t, "body", s.Rename["body_text"])

	assert.Equal(t, 250, conf.Tuning.FetchSize)
	assert.Equal(t, 750*time.Millisecond, conf.Tuning.PollTimeout.Std())
	assert.Equal(t, time.Minute, conf.Tuning.BackoffMax.Std())
	assert.Equal(t, 5, conf.Tuning.FlushRetries)
	assert.Equal(t, 5000, conf.Tuning.HighWatermark)
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("MZ_PASSWORD", "s3cret")
	raw := `
source:
  host: mz.example.com
  password: ${MZ_PASSWORD}
sink:
  type: memory
syncs:
  - view: mv_docs
    index: docs
`
	conf, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", conf.Source.Password)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "missing host",
			raw:  "sink:\n  type: memory\nsyncs:\n  - view: v\n    index: i\n",
			want: "source.host",
		},
		{
			name: "no syncs",
			raw:  "source:\n  host: h\nsink:\n  type: memory\n",
			want: "at least one sync",
		},
		{
			name: "missing sink urls",
			raw:  "source:\n  host: h\nsyncs:\n  - view: v\n    index: i\n",
			want: "sink.urls",
		},
		{
			name: "unknown sink type",
			raw:  "source:\n  host: h\nsink:\n  type: solr\nsyncs:\n  - view: v\n    index: i\n",
			want: "unknown sink type",
		},
		{
			name: "index bound twice",
			raw: "source:\n  host: h\nsink:\n  type: memory\nsyncs:\n" +
				"  - view: v1\n    index: docs\n  - view: v2\n    index: docs\n",
			want: "bound twice",
		},
		{
			name: "inverted watermarks",
			raw: "source:\n  host: h\nsink:\n  type: memory\nsyncs:\n  - view: v\n    index: i\n" +
				"tuning:\n  high_watermark: 10\n  low_watermark: 100\n",
			want: "low_watermark",
		},
		{
			name: "unknown field",
			raw:  "source:\n  host: h\n  hostname: h2\nsink:\n  type: memory\nsyncs:\n  - view: v\n    index: i\n",
			want: "hostname",
		},
		{
			name: "bad duration",
			raw: "source:\n  host: h\nsink:\n  type: memory\nsyncs:\n  - view: v\n    index: i\n" +
				"tuning:\n  poll_timeout: soon\n",
			want: "invalid duration",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	_, err := Parse(nil)
	require.Error(t, err, "an empty document still fails validation")
	assert.Contains(t, err.Error(), "source.host")
}
