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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"
)

// OpenSearchConfig holds connection options for an OpenSearch cluster.
type OpenSearchConfig struct {
	URLs     []string
	Username string
	Password string
}

// OpenSearch writes documents through a bulk indexer.
type OpenSearch struct {
	client *opensearch.Client
	log    *slog.Logger
}

// NewOpenSearch connects a sink to an OpenSearch cluster.
func NewOpenSearch(conf OpenSearchConfig, log *slog.Logger) (*OpenSearch, error) {
	var addresses []string
	for _, u := range conf.URLs {
		for _, split := range strings.Split(u, ",") {
			if split != "" {
				addresses = append(addresses, split)
			}
		}
	}
	if len(addresses) == 0 {
		return nil, errNoAddresses
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: addresses,
		Username:  conf.Username,
		Password:  conf.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating opensearch client: %w", err)
	}
	return &OpenSearch{
		client: client,
		log:    log,
	}, nil
}

// EnsureIndex creates the index if absent.
func (o *OpenSearch) EnsureIndex(ctx context.Context, index, mapping string) error {
	res, err := o.client.Indices.Exists(
		[]string{index},
		o.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return &Error{Op: "exists", Index: index, Err: err}
	}
	drain(res.Body)
	if res.StatusCode == http.StatusOK {
		return nil
	}

	var body io.Reader
	if mapping != "" {
		body = strings.NewReader(mapping)
	}
	createRes, err := o.client.Indices.Create(
		index,
		o.client.Indices.Create.WithContext(ctx),
		o.client.Indices.Create.WithBody(body),
	)
	if err != nil {
		return &Error{Op: "create", Index: index, Err: err}
	}
	defer drain(createRes.Body)
	if createRes.IsError() {
		payload, _ := io.ReadAll(createRes.Body)
		if bytes.Contains(payload, []byte("resource_already_exists_exception")) {
			return nil
		}
		return &Error{Op: "create", Index: index, Err: fmt.Errorf("status %d: %s", createRes.StatusCode, payload)}
	}
	o.log.Info("created destination index", "index", index)
	return nil
}

// BulkUpsert indexes full documents keyed by ID.
func (o *OpenSearch) BulkUpsert(ctx context.Context, index string, docs []Document) (BulkResult, error) {
	if len(docs) == 0 {
		return BulkResult{}, nil
	}

	indexer, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client: o.client,
		Index:  index,
	})
	if err != nil {
		return BulkResult{}, &Error{Op: "bulk upsert", Index: index, Err: err}
	}

	for _, doc := range docs {
		payload, err := json.Marshal(doc.Fields)
		if err != nil {
			o.log.Warn("skipping unmarshalable document", "index", index, "id", doc.ID, "error", err)
			continue
		}
		item := opensearchutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: doc.ID,
			Body:       bytes.NewReader(payload),
			OnFailure:  o.onItemFailure(index),
		}
		if err := indexer.Add(ctx, item); err != nil {
			return BulkResult{}, &Error{Op: "bulk upsert", Index: index, Err: err}
		}
	}
	return o.finish(ctx, index, "bulk upsert", indexer)
}

// BulkDelete removes documents by ID.
func (o *OpenSearch) BulkDelete(ctx context.Context, index string, ids []string) (BulkResult, error) {
	if len(ids) == 0 {
		return BulkResult{}, nil
	}

	indexer, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client: o.client,
		Index:  index,
	})
	if err != nil {
		return BulkResult{}, &Error{Op: "bulk delete", Index: index, Err: err}
	}

	for _, id := range ids {
		item := opensearchutil.BulkIndexerItem{
			Action:     "delete",
			DocumentID: id,
			OnFailure:  o.onItemFailure(index),
		}
		if err := indexer.Add(ctx, item); err != nil {
			return BulkResult{}, &Error{Op: "bulk delete", Index: index, Err: err}
		}
	}
	return o.finish(ctx, index, "bulk delete", indexer)
}

func (o *OpenSearch) finish(ctx context.Context, index, op string, indexer opensearchutil.BulkIndexer) (BulkResult, error) {
	if err := indexer.Close(ctx); err != nil {
		return BulkResult{}, &Error{Op: op, Index: index, Err: err}
	}
	stats := indexer.Stats()
	return BulkResult{
		Succeeded: int(stats.NumFlushed),
		Failed:    int(stats.NumFailed),
	}, nil
}

func (o *OpenSearch) onItemFailure(index string) func(context.Context, opensearchutil.BulkIndexerItem, opensearchutil.BulkIndexerResponseItem, error) {
	return func(_ context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
		if err != nil {
			o.log.Warn("bulk item failed", "index", index, "id", item.DocumentID, "error", err)
			return
		}
		o.log.Warn("bulk item rejected", "index", index, "id", item.DocumentID, "reason", res.Error.Reason)
	}
}

// Close is a no-op; the client runs over short lived HTTP connections.
func (*OpenSearch) Close(context.Context) error {
	return nil
}

var _ Sink = (*OpenSearch)(nil)

func drain(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, body)
		_ = body.Close()
	}
}
