package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/iudanet/woodtime/internal/models"
	"github.com/iudanet/woodtime/pkg/api"
)

const graphqlPath = "/graphql"

// graphql выполняет операцию и возвращает data[op]
func (c *Client) graphql(ctx context.Context, query, op string, variables map[string]any) (json.RawMessage, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]json.RawMessage, len(variables))
	for name, v := range variables {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal variable %s: %w", name, err)
		}
		vars[name] = raw
	}

	req := api.GraphQLRequest{Query: query, OperationName: op, Variables: vars}

	var resp api.GraphQLResponse
	if err := c.doRequest(ctx, http.MethodPost, graphqlPath, token, req, &resp); err != nil {
		return nil, err
	}

	data, ok := resp.Data[op]
	if !ok {
		return nil, fmt.Errorf("response has no data for %s", op)
	}
	return data, nil
}

// Pull fetches up to limit documents of collection modified after cursor.
func (c *Client) Pull(ctx context.Context, collection string, cursor models.Cursor, limit int) (*api.PullResult, error) {
	op := api.PullOperation(collection)
	data, err := c.graphql(ctx, api.PullQuery(collection), op, map[string]any{
		"limit":        limit,
		"minUpdatedAt": cursor.MinUpdatedAt().Format(api.DateTimeLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	var result api.PullResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", op, err)
	}
	return &result, nil
}

// Push sends full document states of collection and returns the documents
// the server actually wrote.
func (c *Client) Push(ctx context.Context, collection string, docs []json.RawMessage) ([]json.RawMessage, error) {
	op := api.PushOperation(collection)
	arg := api.PushVariable(collection)
	if arg == "" {
		return nil, fmt.Errorf("collection %s is read-only", collection)
	}

	data, err := c.graphql(ctx, api.PushQuery(collection), op, map[string]any{arg: docs})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	var written []json.RawMessage
	if err := json.Unmarshal(data, &written); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", op, err)
	}
	return written, nil
}
