// Package athena adapts the AWS Athena API to the recipe query engine.
package athena

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"

	"report-dispatcher/internal/recipe"
)

// API is the subset of the Athena client the engine calls.
type API interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// Engine runs recipe queries on Athena.
type Engine struct {
	client         API
	outputLocation string
}

// NewEngine builds an engine. An empty outputLocation defers to the work group setting.
func NewEngine(client API, outputLocation string) *Engine {
	return &Engine{client: client, outputLocation: outputLocation}
}

// Submit starts query in workGroup.
func (e *Engine) Submit(ctx context.Context, query, workGroup string) (recipe.QueryHandle, error) {
	in := &athena.StartQueryExecutionInput{
		QueryString: aws.String(query),
	}
	if workGroup != "" {
		in.WorkGroup = aws.String(workGroup)
	}
	if e.outputLocation != "" {
		in.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(e.outputLocation)}
	}
	out, err := e.client.StartQueryExecution(ctx, in)
	if err != nil {
		return "", fmt.Errorf("start query execution: %w", err)
	}
	id := aws.ToString(out.QueryExecutionId)
	if id == "" {
		return "", errors.New("start query execution: empty query execution id")
	}
	return recipe.QueryHandle(id), nil
}

// Status reads the current state of h.
func (e *Engine) Status(ctx context.Context, h recipe.QueryHandle) (recipe.QueryStatus, error) {
	out, err := e.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(string(h)),
	})
	if err != nil {
		return recipe.QueryStatus{}, fmt.Errorf("get query execution: %w", err)
	}
	if out.QueryExecution == nil || out.QueryExecution.Status == nil {
		return recipe.QueryStatus{}, fmt.Errorf("get query execution %s: missing status", h)
	}
	st := out.QueryExecution.Status
	detail := aws.ToString(st.StateChangeReason)
	if detail == "" && st.AthenaError != nil {
		detail = aws.ToString(st.AthenaError.ErrorMessage)
	}
	return recipe.QueryStatus{
		State:  recipe.QueryState(st.State),
		Detail: detail,
	}, nil
}

// Page fetches one page of results.
func (e *Engine) Page(ctx context.Context, h recipe.QueryHandle, req recipe.PageRequest) (recipe.Page, error) {
	in := &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(string(h)),
	}
	if req.MaxRows > 0 {
		in.MaxResults = aws.Int32(req.MaxRows)
	}
	if req.Cursor != "" {
		in.NextToken = aws.String(req.Cursor)
	}
	out, err := e.client.GetQueryResults(ctx, in)
	if err != nil {
		return recipe.Page{}, fmt.Errorf("get query results: %w", err)
	}

	page := recipe.Page{NextCursor: aws.ToString(out.NextToken)}
	if out.ResultSet == nil {
		return page, nil
	}
	page.Rows = make([]recipe.Row, 0, len(out.ResultSet.Rows))
	for _, r := range out.ResultSet.Rows {
		row := make(recipe.Row, len(r.Data))
		for i, d := range r.Data {
			row[i] = d.VarCharValue
		}
		page.Rows = append(page.Rows, row)
	}
	return page, nil
}

// Stop cancels h.
func (e *Engine) Stop(ctx context.Context, h recipe.QueryHandle) error {
	_, err := e.client.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(string(h)),
	})
	if err != nil {
		return fmt.Errorf("stop query execution: %w", err)
	}
	return nil
}
