package recipe

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionRequestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*ExecutionRequest)
		field string
	}{
		{name: "valid", edit: func(*ExecutionRequest) {}},
		{name: "no criteria", edit: func(r *ExecutionRequest) { r.Criteria = []Criterion{} }, field: "criteria"},
		{name: "no timeframe", edit: func(r *ExecutionRequest) { r.Timeframe = nil }, field: "timeframe"},
		{name: "no recipients", edit: func(r *ExecutionRequest) { r.Recipients = nil }, field: "recipients"},
		{name: "one instant", edit: func(r *ExecutionRequest) { r.Timeframe = r.Timeframe[:1] }, field: "timeframe"},
		{name: "no recipe", edit: func(r *ExecutionRequest) { r.Recipe = "" }, field: "recipe"},
		{name: "criterion without name", edit: func(r *ExecutionRequest) { r.Criteria[0].Name = "" }, field: "criteria[0].name"},
		{name: "recipient without address", edit: func(r *ExecutionRequest) { r.Recipients[0].Value = "" }, field: "recipients[0].value"},
		{name: "unsupported method", edit: func(r *ExecutionRequest) { r.Recipients[0].Method = "FAX" }, field: "recipients[0].method"},
		{name: "lowercase method", edit: func(r *ExecutionRequest) { r.Recipients[0].Method = "email" }, field: "recipients[0].method"},
		{name: "reversed window", edit: func(r *ExecutionRequest) {
			r.Timeframe = []time.Time{r.Timeframe[1], r.Timeframe[0]}
		}, field: "timeframe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest()
			tt.edit(&req)
			err := req.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestExecutionRequestDecode(t *testing.T) {
	payload := `{
		"resource": "a9953304-c41c-438c-a696-2fd5ed17c320",
		"criteria": [{"name": "By A Known Qualifier", "value": "a", "display": "Some Input by the User"}],
		"period": "HOURLY",
		"recipients": [{"method": "EMAIL", "value": "ops@example.com"}, {"method": "SMS", "value": "+15550100"}],
		"active": true,
		"recipe": "ORDER_CREATE",
		"timeframe": ["2022-10-07T00:00:00.000Z", "2022-10-07T01:00:00.000Z"]
	}`

	var req ExecutionRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	require.NoError(t, req.Validate())
	assert.Equal(t, time.Date(2022, 10, 7, 0, 0, 0, 0, time.UTC), req.Start())
	assert.Equal(t, time.Date(2022, 10, 7, 1, 0, 0, 0, time.UTC), req.End())
	assert.Equal(t, ChannelSMS, req.Recipients[1].Method)
}

func TestChannelSupported(t *testing.T) {
	assert.True(t, ChannelEmail.Supported())
	assert.True(t, ChannelSMS.Supported())
	assert.False(t, Channel("PUSH").Supported())
	assert.False(t, Channel("email").Supported())
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(&ValidationError{Field: "criteria", Reason: "required"}))
	assert.True(t, Permanent(&DispatchError{Err: &UnsupportedChannelError{Channel: "PUSH"}}))
	assert.True(t, Permanent(&RenderError{Channel: ChannelSMS, Err: errors.New("bad")}))
	assert.False(t, Permanent(&QueryExecutionError{State: StateFailed}))
	assert.False(t, Permanent(&DispatchError{Err: errQueueDown}))
}
