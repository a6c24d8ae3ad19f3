package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-dispatcher/internal/recipe"
)

const payload = `{
  "recipe": "ORDER_CREATE",
  "criteria": [{"name": "By A Known Qualifier", "value": "store-001"}],
  "timeframe": ["2022-10-07T00:00:00Z", "2022-10-08T00:00:00Z"],
  "recipients": [{"method": "EMAIL", "value": "ops@example.com"}],
  "active": true
}`

func TestReadPayloadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	req, err := readPayload(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "ORDER_CREATE", req.Recipe)
	assert.Equal(t, time.Date(2022, 10, 8, 0, 0, 0, 0, time.UTC), req.End())
	require.NoError(t, req.Validate())
}

func TestReadPayloadStdin(t *testing.T) {
	req, err := readPayload("-", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, recipe.ChannelEmail, req.Recipients[0].Method)

	_, err = readPayload("-", strings.NewReader("{"))
	assert.ErrorContains(t, err, "decode payload")

	_, err = readPayload(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.ErrorContains(t, err, "open payload")
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	report := recipe.Report{
		Recipe:           "ORDER_CREATE",
		QueryExecutionID: "qe-1",
		Result:           recipe.ResultSuccess,
		Records:          3,
		Outcomes: []recipe.Outcome{
			{Recipient: recipe.Recipient{Method: recipe.ChannelEmail, Value: "a@example.com"}, Status: recipe.OutcomeSent},
			{Recipient: recipe.Recipient{Method: recipe.ChannelSMS, Value: "+1"}, Status: recipe.OutcomeFailed, Err: errors.New("queue full")},
		},
	}
	require.NoError(t, printReport(&buf, report, nil))
	out := buf.String()
	assert.Contains(t, out, `"result": "SUCCESS"`)
	assert.Contains(t, out, `"records": 3`)
	assert.Contains(t, out, `"error": "queue full"`)

	buf.Reset()
	require.NoError(t, printReport(&buf, recipe.Report{Recipe: "X"}, &recipe.ValidationError{Field: "criteria", Reason: "required"}))
	assert.Contains(t, buf.String(), "invalid execution request: criteria: required")
}
