package pql

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	lo = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	hi = time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
)

func TestComposeTimeFiltered(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{
			name:     "predicate inserted after first pipe",
			query:    "source = logs | head 3",
			expected: "source = logs | where ts > TIMESTAMP('2025-03-01 10:00:00') and ts < TIMESTAMP('2025-03-01 11:00:00') | head 3",
		},
		{
			name:     "predicate appended when no pipe",
			query:    "source = logs",
			expected: "source = logs | where ts > TIMESTAMP('2025-03-01 10:00:00') and ts < TIMESTAMP('2025-03-01 11:00:00')",
		},
		{
			name:     "only the first pipe splits",
			query:    "source = logs | stats count() by host | sort host",
			expected: "source = logs | where ts > TIMESTAMP('2025-03-01 10:00:00') and ts < TIMESTAMP('2025-03-01 11:00:00') | stats count() by host | sort host",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ComposeTimeFiltered(tc.query, lo, hi, "ts"))
		})
	}
}

func TestComposeTimeFilteredPreservesQueryText(t *testing.T) {
	// The user query is only split at the first pipe; both halves survive
	// verbatim.
	query := "source = logs  |  where a>1 | head 5"
	out := ComposeTimeFiltered(query, lo, hi, "ts")

	idx := strings.Index(query, "|")
	assert.True(t, strings.HasPrefix(out, query[:idx]))
	assert.True(t, strings.HasSuffix(out, query[idx:]))
}

func TestComposeTimeFilteredUsesUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	out := ComposeTimeFiltered("source = logs", lo.In(est), hi.In(est), "ts")
	assert.Contains(t, out, "TIMESTAMP('2025-03-01 10:00:00')")
	assert.Contains(t, out, "TIMESTAMP('2025-03-01 11:00:00')")
}

func TestComposeWithCustomCondition(t *testing.T) {
	out := ComposeWithCustomCondition("source = logs", "eval flag = number > 7")
	assert.Equal(t, "source = logs | eval flag = number > 7", out)
}

func TestCap(t *testing.T) {
	assert.Equal(t, "source = logs | head 10", Cap("source = logs", 10))
}

func TestComposeOrdering(t *testing.T) {
	// time filter, then custom condition, then cap.
	q := ComposeTimeFiltered("source = logs", lo, hi, "ts")
	q = ComposeWithCustomCondition(q, "eval flag = number > 7")
	q = Cap(q, 100)

	whereIdx := strings.Index(q, "where ts")
	evalIdx := strings.Index(q, "eval flag")
	headIdx := strings.Index(q, "head 100")
	require.True(t, whereIdx >= 0 && evalIdx >= 0 && headIdx >= 0)
	assert.Less(t, whereIdx, evalIdx)
	assert.Less(t, evalIdx, headIdx)
}

func TestEvalColumnName(t *testing.T) {
	tests := []struct {
		fragment string
		expected string
		wantErr  bool
	}{
		{fragment: "eval flag = number > 7", expected: "flag"},
		{fragment: "where x > 0 | eval is_bad = status >= 500", expected: "is_bad"},
		{fragment: "eval  _tmp1= a and b", expected: "_tmp1"},
		{fragment: "where x > 0", wantErr: true},
		{fragment: "", wantErr: true},
	}

	for _, tc := range tests {
		name, err := EvalColumnName(tc.fragment)
		if tc.wantErr {
			assert.Error(t, err, "fragment %q", tc.fragment)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.expected, name)
	}
}
