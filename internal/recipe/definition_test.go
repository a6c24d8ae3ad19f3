package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionValidate(t *testing.T) {
	require.NoError(t, testDefinition().Validate())

	bad := Definition{
		ID:        "BROKEN",
		PageSize:  5000,
		Templates: map[Channel]string{"PUSH": "x"},
	}
	err := bad.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `recipe "BROKEN"`)
	assert.Contains(t, msg, "query is required")
	assert.Contains(t, msg, "subject is required")
	assert.Contains(t, msg, `unsupported channel "PUSH"`)
	assert.Contains(t, msg, "page_size")
}

func TestDefinitionPageSize(t *testing.T) {
	def := testDefinition()
	assert.Equal(t, DefaultPageSize, def.pageSize())
	def.PageSize = 250
	assert.Equal(t, int32(250), def.pageSize())
}

func TestParseDispatchPolicy(t *testing.T) {
	for in, want := range map[string]DispatchPolicy{"": DispatchHalt, "halt": DispatchHalt, " Isolate ": DispatchIsolate} {
		got, err := ParseDispatchPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDispatchPolicy("retry")
	assert.Error(t, err)
}
