// Package pql rewrites monitor queries before execution. The engine never
// parses PQL; the executor owns syntax and semantics. The only inspection
// done here is locating the first pipe and the eval-result column name of a
// custom condition fragment.
package pql

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TimestampLayout is the fixed format accepted by the executor's TIMESTAMP()
// function. Always rendered in UTC.
const TimestampLayout = "2006-01-02 15:04:05"

var evalColumnPattern = regexp.MustCompile(`\beval\s+([A-Za-z_]\w*)\s*=`)

// ComposeTimeFiltered injects a time-window predicate on the given timestamp
// field as the first pipeline stage after the source. The predicate must
// constrain scans before any aggregation, so it goes immediately after the
// first pipe when one exists, otherwise at the end of the query.
func ComposeTimeFiltered(query string, lookbackStart, periodEnd time.Time, timestampField string) string {
	predicate := fmt.Sprintf("where %s > TIMESTAMP('%s') and %s < TIMESTAMP('%s')",
		timestampField, lookbackStart.UTC().Format(TimestampLayout),
		timestampField, periodEnd.UTC().Format(TimestampLayout))

	idx := strings.Index(query, "|")
	if idx < 0 {
		return query + " | " + predicate
	}
	// Split at the first pipe only; both halves of the user query are kept
	// verbatim.
	return query[:idx] + "| " + predicate + " " + query[idx:]
}

// ComposeWithCustomCondition appends the trigger's custom fragment verbatim.
// A malformed fragment surfaces later as an executor failure.
func ComposeWithCustomCondition(query, fragment string) string {
	return query + " | " + fragment
}

// Cap appends a head stage limiting the number of output rows. Must be the
// final stage so the cap applies to final output.
func Cap(query string, maxRows int64) string {
	return fmt.Sprintf("%s | head %d", query, maxRows)
}

// EvalColumnName extracts the identifier bound by `eval <id> =` in a custom
// condition fragment. That column carries the trigger's boolean verdict in
// the query response.
func EvalColumnName(fragment string) (string, error) {
	m := evalColumnPattern.FindStringSubmatch(fragment)
	if m == nil {
		return "", errors.Errorf("custom condition %q does not bind an eval result column", fragment)
	}
	return m[1], nil
}
