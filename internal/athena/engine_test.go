package athena

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-dispatcher/internal/recipe"
)

type fakeAPI struct {
	start   *athena.StartQueryExecutionInput
	results []*athena.GetQueryResultsInput
	stopped []string

	execution *types.QueryExecution
	pages     map[string]*athena.GetQueryResultsOutput
	err       error
}

func (f *fakeAPI) StartQueryExecution(_ context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.start = in
	if f.err != nil {
		return nil, f.err
	}
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("qe-42")}, nil
}

func (f *fakeAPI) GetQueryExecution(_ context.Context, in *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &athena.GetQueryExecutionOutput{QueryExecution: f.execution}, nil
}

func (f *fakeAPI) GetQueryResults(_ context.Context, in *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	f.results = append(f.results, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[aws.ToString(in.NextToken)], nil
}

func (f *fakeAPI) StopQueryExecution(_ context.Context, in *athena.StopQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	f.stopped = append(f.stopped, aws.ToString(in.QueryExecutionId))
	return &athena.StopQueryExecutionOutput{}, f.err
}

func TestSubmit(t *testing.T) {
	api := &fakeAPI{}
	e := NewEngine(api, "s3://results/commcore/")

	h, err := e.Submit(context.Background(), "SELECT 1", "commcore")
	require.NoError(t, err)
	assert.Equal(t, recipe.QueryHandle("qe-42"), h)
	assert.Equal(t, "SELECT 1", aws.ToString(api.start.QueryString))
	assert.Equal(t, "commcore", aws.ToString(api.start.WorkGroup))
	require.NotNil(t, api.start.ResultConfiguration)
	assert.Equal(t, "s3://results/commcore/", aws.ToString(api.start.ResultConfiguration.OutputLocation))
}

func TestSubmitWithoutOutputLocation(t *testing.T) {
	api := &fakeAPI{}
	_, err := NewEngine(api, "").Submit(context.Background(), "SELECT 1", "")
	require.NoError(t, err)
	assert.Nil(t, api.start.ResultConfiguration)
	assert.Nil(t, api.start.WorkGroup)
}

func TestStatus(t *testing.T) {
	api := &fakeAPI{execution: &types.QueryExecution{Status: &types.QueryExecutionStatus{
		State:       types.QueryExecutionStateFailed,
		AthenaError: &types.AthenaError{ErrorMessage: aws.String("TABLE_NOT_FOUND")},
	}}}

	st, err := NewEngine(api, "").Status(context.Background(), "qe-42")
	require.NoError(t, err)
	assert.Equal(t, recipe.StateFailed, st.State)
	assert.Equal(t, "TABLE_NOT_FOUND", st.Detail)
	assert.True(t, st.State.Terminal())
}

func TestStatusPrefersStateChangeReason(t *testing.T) {
	api := &fakeAPI{execution: &types.QueryExecution{Status: &types.QueryExecutionStatus{
		State:             types.QueryExecutionStateCancelled,
		StateChangeReason: aws.String("Query cancelled by user"),
		AthenaError:       &types.AthenaError{ErrorMessage: aws.String("other")},
	}}}

	st, err := NewEngine(api, "").Status(context.Background(), "qe-42")
	require.NoError(t, err)
	assert.Equal(t, recipe.StateCancelled, st.State)
	assert.Equal(t, "Query cancelled by user", st.Detail)
}

func TestStatusMissing(t *testing.T) {
	_, err := NewEngine(&fakeAPI{}, "").Status(context.Background(), "qe-42")
	assert.Error(t, err)
}

func TestPage(t *testing.T) {
	api := &fakeAPI{pages: map[string]*athena.GetQueryResultsOutput{
		"": {
			ResultSet: &types.ResultSet{Rows: []types.Row{
				{Data: []types.Datum{{VarCharValue: aws.String("col_a")}, {VarCharValue: aws.String("col_b")}}},
				{Data: []types.Datum{{VarCharValue: aws.String("a1")}, {}}},
			}},
			NextToken: aws.String("tok-2"),
		},
		"tok-2": {ResultSet: &types.ResultSet{Rows: []types.Row{{Data: []types.Datum{{VarCharValue: aws.String("a2")}}}}}},
	}}
	e := NewEngine(api, "")

	first, err := e.Page(context.Background(), "qe-42", recipe.PageRequest{MaxRows: 1000})
	require.NoError(t, err)
	assert.Equal(t, "tok-2", first.NextCursor)
	require.Len(t, first.Rows, 2)
	assert.Equal(t, recipe.Record{PropertyA: "a1"}, recipe.NewRecord(first.Rows[1]))
	assert.Nil(t, first.Rows[1][1])

	second, err := e.Page(context.Background(), "qe-42", recipe.PageRequest{Cursor: first.NextCursor, MaxRows: 1000})
	require.NoError(t, err)
	assert.Empty(t, second.NextCursor)
	assert.Len(t, second.Rows, 1)

	require.Len(t, api.results, 2)
	assert.Nil(t, api.results[0].NextToken)
	assert.Equal(t, int32(1000), aws.ToInt32(api.results[0].MaxResults))
	assert.Equal(t, "tok-2", aws.ToString(api.results[1].NextToken))
}

func TestStopAndErrors(t *testing.T) {
	boom := errors.New("throttled")
	api := &fakeAPI{err: boom}
	e := NewEngine(api, "")

	_, err := e.Submit(context.Background(), "SELECT 1", "commcore")
	assert.ErrorIs(t, err, boom)
	_, err = e.Page(context.Background(), "qe-42", recipe.PageRequest{})
	assert.ErrorIs(t, err, boom)
	err = e.Stop(context.Background(), "qe-42")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"qe-42"}, api.stopped)
}
