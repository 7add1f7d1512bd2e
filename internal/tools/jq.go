package tools

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/olympus-org/olympus/internal/core"
)

type dataJQInput struct {
	Query string `json:"query" jsonschema:"jq expression"`
	Data  any    `json:"data" jsonschema:"input document the expression runs against"`
}

func init() {
	// data.jq is a pure transform, so it carries no consent scopes. Steps
	// use it to reshape a predecessor's output without touching disk.
	Register[dataJQInput](Registration{
		Name:        "data.jq",
		Description: "Apply a jq expression to a JSON document",
		Handler:     dataJQ,
	})
}

func dataJQ(ctx context.Context, _ Env, input map[string]any) (map[string]any, error) {
	var in dataJQInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	query, err := gojq.Parse(in.Query)
	if err != nil {
		return nil, core.NewValidationError("query", in.Query, err)
	}

	results := []any{}
	iter := query.RunWithContext(ctx, in.Data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq evaluation failed: %w", err)
		}
		results = append(results, v)
	}
	return map[string]any{"results": results}, nil
}
