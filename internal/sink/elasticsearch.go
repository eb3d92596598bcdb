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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/typedapi/core/bulk"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
)

// ElasticsearchConfig holds connection options for an Elasticsearch cluster.
type ElasticsearchConfig struct {
	URLs     []string
	Username string
	Password string
}

// Elasticsearch writes documents through the typed bulk API.
type Elasticsearch struct {
	client *elasticsearch.TypedClient
	log    *slog.Logger
}

// NewElasticsearch connects a sink to an Elasticsearch cluster.
func NewElasticsearch(conf ElasticsearchConfig, log *slog.Logger) (*Elasticsearch, error) {
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

	client, err := elasticsearch.NewTypedClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  conf.Username,
		Password:  conf.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Elasticsearch{
		client: client,
		log:    log,
	}, nil
}

// EnsureIndex creates the index if absent. Losing a create race to another
// worker is treated as success.
func (e *Elasticsearch) EnsureIndex(ctx context.Context, index, mapping string) error {
	exists, err := e.client.Indices.Exists(index).Do(ctx)
	if err != nil {
		return &Error{Op: "exists", Index: index, Err: err}
	}
	if exists {
		return nil
	}

	create := e.client.Indices.Create(index)
	if mapping != "" {
		create = create.Raw(strings.NewReader(mapping))
	}
	if _, err := create.Do(ctx); err != nil {
		if strings.Contains(err.Error(), "resource_already_exists_exception") {
			return nil
		}
		return &Error{Op: "create", Index: index, Err: err}
	}
	e.log.Info("created destination index", "index", index)
	return nil
}

// BulkUpsert indexes full documents keyed by ID.
func (e *Elasticsearch) BulkUpsert(ctx context.Context, index string, docs []Document) (BulkResult, error) {
	if len(docs) == 0 {
		return BulkResult{}, nil
	}

	bulkWriter := e.client.Bulk().Index(index)
	for _, doc := range docs {
		id := doc.ID
		op := types.IndexOperation{Id_: &id}
		if err := bulkWriter.IndexOp(op, doc.Fields); err != nil {
			return BulkResult{}, &Error{Op: "bulk upsert", Index: index, Err: err}
		}
	}

	result, err := bulkWriter.Do(ctx)
	if err != nil {
		return BulkResult{}, &Error{Op: "bulk upsert", Index: index, Err: err}
	}
	return e.accounting(index, len(docs), result), nil
}

// BulkDelete removes documents by ID. Deleting an absent document counts as
// a failure in the result but not an error.
func (e *Elasticsearch) BulkDelete(ctx context.Context, index string, ids []string) (BulkResult, error) {
	if len(ids) == 0 {
		return BulkResult{}, nil
	}

	bulkWriter := e.client.Bulk().Index(index)
	for _, id := range ids {
		id := id
		if err := bulkWriter.DeleteOp(types.DeleteOperation{Id_: &id}); err != nil {
			return BulkResult{}, &Error{Op: "bulk delete", Index: index, Err: err}
		}
	}

	result, err := bulkWriter.Do(ctx)
	if err != nil {
		return BulkResult{}, &Error{Op: "bulk delete", Index: index, Err: err}
	}
	return e.accounting(index, len(ids), result), nil
}

func (e *Elasticsearch) accounting(index string, total int, result *bulk.Response) BulkResult {
	if !result.Errors {
		return BulkResult{Succeeded: total}
	}
	var res BulkResult
	for _, item := range result.Items {
		for _, responseItem := range item {
			if responseItem.Error != nil {
				res.Failed++
				if responseItem.Error.Reason != nil {
					e.log.Warn("bulk item rejected", "index", index, "reason", *responseItem.Error.Reason)
				}
			} else {
				res.Succeeded++
			}
		}
	}
	return res
}

// Close is a no-op; the client runs over short lived HTTP connections.
func (*Elasticsearch) Close(context.Context) error {
	return nil
}

var _ Sink = (*Elasticsearch)(nil)

var errNoAddresses = errors.New("no sink addresses configured")
