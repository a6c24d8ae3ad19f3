package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"report-dispatcher/internal/recipe"
)

// readPayload decodes an execution request from path, or from stdin for "-".
func readPayload(path string, stdin io.Reader) (recipe.ExecutionRequest, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return recipe.ExecutionRequest{}, fmt.Errorf("open payload: %w", err)
		}
		defer f.Close()
		r = f
	}
	var req recipe.ExecutionRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return recipe.ExecutionRequest{}, fmt.Errorf("decode payload: %w", err)
	}
	return req, nil
}

type outcomeView struct {
	Method string `json:"method"`
	Value  string `json:"value"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type reportView struct {
	Recipe           string        `json:"recipe"`
	QueryExecutionID string        `json:"query_execution_id,omitempty"`
	Result           string        `json:"result"`
	Records          int           `json:"records"`
	Outcomes         []outcomeView `json:"outcomes,omitempty"`
}

// printReport writes the run summary as indented JSON. A failed run reports
// the error text as its result.
func printReport(w io.Writer, report recipe.Report, runErr error) error {
	view := reportView{
		Recipe:           report.Recipe,
		QueryExecutionID: string(report.QueryExecutionID),
		Result:           string(report.Result),
		Records:          report.Records,
	}
	if runErr != nil {
		view.Result = runErr.Error()
	}
	for _, o := range report.Outcomes {
		ov := outcomeView{Method: string(o.Recipient.Method), Value: o.Recipient.Value, Status: string(o.Status)}
		if o.Err != nil {
			ov.Error = o.Err.Error()
		}
		view.Outcomes = append(view.Outcomes, ov)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
