package main

import (
	"bytes"
	"testing"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunJQ(t *testing.T) {
	input := map[string]interface{}{
		"status": "confirmed",
		"amount": "1000",
		"items":  []int{1, 2},
	}

	tests := []struct {
		name     string
		filter   string
		expected string
	}{
		{
			name:     "string results are written raw",
			filter:   ".status",
			expected: "confirmed\n",
		},
		{
			name:     "non-string results are written as JSON",
			filter:   "{status}",
			expected: "{\"status\":\"confirmed\"}\n",
		},
		{
			name:     "each result on its own line",
			filter:   ".items[]",
			expected: "1\n2\n",
		},
		{
			name:     "no results writes nothing",
			filter:   "empty",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := compileJQ(tt.filter)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, runJQ(&buf, code, input))
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestRunJQ_EvaluationError(t *testing.T) {
	code, err := compileJQ(`error("boom")`)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = runJQ(&buf, code, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCompileJQ_InvalidFilter(t *testing.T) {
	_, err := compileJQ(".status ==")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestMatchesJQ(t *testing.T) {
	type event struct {
		Status    string `json:"status"`
		ErrorKind string `json:"error_kind,omitempty"`
	}

	compile := func(filters ...string) []*gojq.Code {
		codes := make([]*gojq.Code, len(filters))
		for i, f := range filters {
			code, err := compileJQ(f)
			require.NoError(t, err)
			codes[i] = code
		}
		return codes
	}

	failed := event{Status: "failed", ErrorKind: "transfer_submission_failed"}

	tests := []struct {
		name     string
		filters  []*gojq.Code
		expected bool
	}{
		{
			name:     "no filters match everything",
			filters:  nil,
			expected: true,
		},
		{
			name:     "truthy comparison",
			filters:  compile(`.status == "failed"`),
			expected: true,
		},
		{
			name:     "false comparison",
			filters:  compile(`.status == "confirmed"`),
			expected: false,
		},
		{
			name:     "all filters must match",
			filters:  compile(`.status == "failed"`, `.error_kind == "insufficient_funds"`),
			expected: false,
		},
		{
			name:     "null result is not a match",
			filters:  compile(`.missing`),
			expected: false,
		},
		{
			name:     "error is not a match",
			filters:  compile(`.status | tonumber`),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, matchesJQ(tt.filters, failed))
		})
	}
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
}
