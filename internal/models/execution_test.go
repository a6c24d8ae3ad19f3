package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionTerminal(t *testing.T) {
	for status, want := range map[string]bool{
		StatusQueued:     false,
		StatusRunning:    false,
		StatusSucceeded:  true,
		StatusFailed:     true,
		StatusCancelled:  true,
		StatusDeadLetter: true,
	} {
		assert.Equal(t, want, Execution{Status: status}.Terminal(), status)
	}
}
