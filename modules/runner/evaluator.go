package runner

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/pqlmon/pqlmon/pkg/model"
	"github.com/pqlmon/pqlmon/pkg/pql"
)

// ResultsTooLargeMessage replaces the datarows of a slice whose serialized
// size exceeds the configured cap.
const ResultsTooLargeMessage = "The query results were too large and thus excluded"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Evaluate decides fired/not-fired for one trigger against one query
// response.
func Evaluate(t *model.Trigger, resp *model.QueryResponse) (bool, error) {
	switch t.ConditionType {
	case model.ConditionNumberOfResults:
		return t.Comparator.Compare(resp.Total, t.Value), nil
	case model.ConditionCustom:
		rows, err := customConditionRows(t, resp)
		if err != nil {
			return false, err
		}
		return len(rows) > 0, nil
	}
	return false, errors.Errorf("unknown condition type %q", t.ConditionType)
}

// customConditionRows returns the indexes of rows whose eval column is
// truthy. Fails fast when the response schema does not carry the column the
// fragment binds.
func customConditionRows(t *model.Trigger, resp *model.QueryResponse) ([]int, error) {
	name, err := pql.EvalColumnName(t.CustomCondition)
	if err != nil {
		return nil, model.NewQueryFailedError(t.ID, err)
	}
	col := resp.Column(name)
	if col < 0 {
		return nil, model.NewQueryFailedError(t.ID, model.NewNotFoundError("eval result column", name))
	}

	var rows []int
	for i, row := range resp.Datarows {
		if col < len(row) && truthy(row[col]) {
			rows = append(rows, i)
		}
	}
	return rows, nil
}

// truthy interprets a datarow cell as a boolean verdict. JSON decoding hands
// us bools, float64s, and strings.
func truthy(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case int64:
		return x != 0
	case string:
		return strings.EqualFold(x, "true")
	}
	return false
}

// MaterializeResultSlices cuts the response into per-alert payloads. In
// RESULT_SET mode the whole response is one slice; in PER_RESULT mode each
// satisfying row becomes a single-row slice, truncated to maxAlerts.
func MaterializeResultSlices(t *model.Trigger, resp *model.QueryResponse, maxAlerts int) ([]model.QueryResponse, error) {
	if t.Mode == model.ModeResultSet {
		return []model.QueryResponse{*resp}, nil
	}

	var rows []int
	switch t.ConditionType {
	case model.ConditionCustom:
		matched, err := customConditionRows(t, resp)
		if err != nil {
			return nil, err
		}
		rows = matched
	default:
		// NUMBER_OF_RESULTS conditions hold on the set, so every row
		// satisfies the trigger.
		rows = make([]int, len(resp.Datarows))
		for i := range rows {
			rows[i] = i
		}
	}

	if len(rows) > maxAlerts {
		rows = rows[:maxAlerts]
	}

	slices := make([]model.QueryResponse, 0, len(rows))
	for _, i := range rows {
		slices = append(slices, model.QueryResponse{
			Schema:   resp.Schema,
			Datarows: [][]interface{}{resp.Datarows[i]},
			Total:    1,
			Size:     1,
		})
	}
	return slices, nil
}

// CapSliceSize replaces the datarows of an oversized slice with a single
// explanatory row. Schema, total, and size are preserved so the alert still
// reports what the query matched.
func CapSliceSize(slice *model.QueryResponse, maxBytes int64) (capped bool, err error) {
	b, err := json.Marshal(slice)
	if err != nil {
		return false, errors.Wrap(err, "measuring query result slice")
	}
	if int64(len(b)) <= maxBytes {
		return false, nil
	}
	slice.Datarows = [][]interface{}{{ResultsTooLargeMessage}}
	return true, nil
}
