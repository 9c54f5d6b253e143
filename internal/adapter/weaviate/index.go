package weaviate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/DAJ8112/Yanck/internal/vector"
)

// overFetch extra hits are requested so equal-score results cut at k can be
// ordered by chunk id locally.
const overFetch = 16

// Index stores one tenant's vectors in the shared ChunkVector class.
type Index struct {
	client   *weaviate.Client
	tenantID string
}

var (
	_ vector.Index    = (*Index)(nil)
	_ vector.Resetter = (*Index)(nil)
)

func NewIndex(client *weaviate.Client, tenantID string) *Index {
	return &Index{client: client, tenantID: tenantID}
}

// Factory adapts NewIndex to vector.Factory.
func Factory(client *weaviate.Client) vector.Factory {
	return func(tenantID string) (vector.Index, error) {
		return NewIndex(client, tenantID), nil
	}
}

func (i *Index) tenantFilter() *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"tenantId"}).
		WithOperator(filters.Equal).
		WithValueText(i.tenantID)
}

func (i *Index) Add(ctx context.Context, entries ...vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(entries))
	for n, e := range entries {
		objects[n] = &models.Object{
			Class: ClassName,
			ID:    strfmt.UUID(e.ChunkID),
			Properties: map[string]interface{}{
				"tenantId":   i.tenantID,
				"documentId": e.DocumentID,
				"chunkId":    e.ChunkID,
			},
			Vector: e.Vector,
		}
	}

	resp, err := i.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch import: %w", err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch import of %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (i *Index) RemoveByDocument(ctx context.Context, documentID string) (int, error) {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			i.tenantFilter(),
			filters.Where().
				WithPath([]string{"documentId"}).
				WithOperator(filters.Equal).
				WithValueText(documentID),
		})
	return i.deleteWhere(ctx, where)
}

// Reset removes every vector of the tenant.
func (i *Index) Reset(ctx context.Context) error {
	_, err := i.deleteWhere(ctx, i.tenantFilter())
	return err
}

// deleteWhere repeats the batch delete until nothing matches, since each call
// removes at most QUERY_MAXIMUM_RESULTS objects.
func (i *Index) deleteWhere(ctx context.Context, where *filters.WhereBuilder) (int, error) {
	total := 0
	for {
		resp, err := i.client.Batch().ObjectsBatchDeleter().
			WithClassName(ClassName).
			WithOutput("minimal").
			WithWhere(where).
			Do(ctx)
		if err != nil {
			return total, fmt.Errorf("batch delete: %w", err)
		}
		if resp == nil || resp.Results == nil || resp.Results.Matches == 0 {
			return total, nil
		}

		res := resp.Results
		total += int(res.Successful)
		if res.Successful == 0 {
			return total, fmt.Errorf("batch delete: %d matches, %d failed", res.Matches, res.Failed)
		}
		if res.Limit == 0 || res.Matches < res.Limit {
			return total, nil
		}
	}
}

func (i *Index) Query(ctx context.Context, vec []float32, k int) ([]vector.Match, error) {
	if k <= 0 {
		return []vector.Match{}, nil
	}

	nearVector := i.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	fields := []graphql.Field{
		{Name: "chunkId"},
		{Name: "documentId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := i.client.GraphQL().Get().
		WithClassName(ClassName).
		WithNearVector(nearVector).
		WithWhere(i.tenantFilter()).
		WithLimit(k + overFetch).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	matches := []vector.Match{}
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if rows, ok := data[ClassName].([]interface{}); ok {
			for _, row := range rows {
				props, ok := row.(map[string]interface{})
				if !ok {
					continue
				}
				m := vector.Match{}
				m.ChunkID, _ = props["chunkId"].(string)
				m.DocumentID, _ = props["documentId"].(string)
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					m.Score = scoreFromDistance(additional["distance"])
				}
				matches = append(matches, m)
			}
		}
	}

	vector.SortMatches(matches)
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func scoreFromDistance(raw interface{}) float32 {
	var d float64
	switch v := raw.(type) {
	case float64:
		d = v
	case string:
		d, _ = strconv.ParseFloat(v, 64)
	default:
		return 0
	}
	s := 1 - d
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	return float32(s)
}

func (i *Index) Len(ctx context.Context) (int, error) {
	res, err := i.client.GraphQL().Aggregate().
		WithClassName(ClassName).
		WithWhere(i.tenantFilter()).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if rows, ok := data[ClassName].([]interface{}); ok && len(rows) > 0 {
			if row, ok := rows[0].(map[string]interface{}); ok {
				if meta, ok := row["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}
