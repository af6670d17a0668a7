package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pqlmon/pqlmon/pkg/model"
)

func numberTrigger(cmp model.Comparator, value int64) *model.Trigger {
	return &model.Trigger{
		ID:             "t1",
		Name:           "count",
		Severity:       model.SeverityWarn,
		Mode:           model.ModeResultSet,
		ConditionType:  model.ConditionNumberOfResults,
		Comparator:     cmp,
		Value:          value,
		ExpireDuration: 60,
	}
}

func customTrigger(mode model.TriggerMode, fragment string) *model.Trigger {
	return &model.Trigger{
		ID:              "t1",
		Name:            "flagged",
		Severity:        model.SeverityError,
		Mode:            mode,
		ConditionType:   model.ConditionCustom,
		CustomCondition: fragment,
		ExpireDuration:  60,
	}
}

func threeRowResponse() *model.QueryResponse {
	return &model.QueryResponse{
		Schema: []model.SchemaColumn{
			{Name: "name", Type: "string"},
			{Name: "number", Type: "integer"},
			{Name: "flag", Type: "boolean"},
		},
		Datarows: [][]interface{}{
			{"abc", float64(5), false},
			{"def", float64(10), true},
			{"ghi", float64(7), false},
		},
		Total: 3,
		Size:  3,
	}
}

func TestEvaluateNumberOfResults(t *testing.T) {
	resp := threeRowResponse()

	fired, err := Evaluate(numberTrigger(model.CompareGreater, 0), resp)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = Evaluate(numberTrigger(model.CompareGreater, 3), resp)
	require.NoError(t, err)
	assert.False(t, fired)

	fired, err = Evaluate(numberTrigger(model.CompareEqual, 0), &model.QueryResponse{})
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestEvaluateCustom(t *testing.T) {
	resp := threeRowResponse()

	fired, err := Evaluate(customTrigger(model.ModePerResult, "eval flag = number > 7"), resp)
	require.NoError(t, err)
	assert.True(t, fired)

	// no row truthy
	none := threeRowResponse()
	for _, row := range none.Datarows {
		row[2] = false
	}
	fired, err = Evaluate(customTrigger(model.ModePerResult, "eval flag = number > 100"), none)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestEvaluateCustomMissingColumn(t *testing.T) {
	resp := threeRowResponse()

	_, err := Evaluate(customTrigger(model.ModePerResult, "eval missing = number > 7"), resp)
	require.Error(t, err)
	var qf *model.QueryFailedError
	require.ErrorAs(t, err, &qf)
	assert.Equal(t, "t1", qf.TriggerID)

	// fragment without an eval binding fails fast too
	_, err = Evaluate(customTrigger(model.ModePerResult, "where number > 7"), resp)
	require.Error(t, err)
}

func TestTruthy(t *testing.T) {
	assert.True(t, truthy(true))
	assert.True(t, truthy(float64(1)))
	assert.True(t, truthy("true"))
	assert.True(t, truthy("TRUE"))
	assert.False(t, truthy(false))
	assert.False(t, truthy(float64(0)))
	assert.False(t, truthy("false"))
	assert.False(t, truthy(nil))
	assert.False(t, truthy("yes"))
}

func TestMaterializeResultSlicesResultSet(t *testing.T) {
	resp := threeRowResponse()

	slices, err := MaterializeResultSlices(customTrigger(model.ModeResultSet, "eval flag = number > 7"), resp, 10)
	require.NoError(t, err)
	require.Len(t, slices, 1)
	assert.Equal(t, int64(3), slices[0].Total)
	assert.Len(t, slices[0].Datarows, 3)
}

func TestMaterializeResultSlicesPerResult(t *testing.T) {
	resp := threeRowResponse()

	slices, err := MaterializeResultSlices(customTrigger(model.ModePerResult, "eval flag = number > 7"), resp, 10)
	require.NoError(t, err)
	require.Len(t, slices, 1)
	assert.Equal(t, resp.Schema, slices[0].Schema)
	assert.Equal(t, int64(1), slices[0].Total)
	assert.Equal(t, int64(1), slices[0].Size)
	require.Len(t, slices[0].Datarows, 1)
	assert.Equal(t, "def", slices[0].Datarows[0][0])
}

func TestMaterializeResultSlicesPerResultNumberCondition(t *testing.T) {
	// NUMBER_OF_RESULTS holds on the set, so every row becomes a slice.
	tr := numberTrigger(model.CompareGreater, 0)
	tr.Mode = model.ModePerResult

	slices, err := MaterializeResultSlices(tr, threeRowResponse(), 10)
	require.NoError(t, err)
	assert.Len(t, slices, 3)
}

func TestMaterializeResultSlicesMaxAlerts(t *testing.T) {
	tr := numberTrigger(model.CompareGreater, 0)
	tr.Mode = model.ModePerResult

	slices, err := MaterializeResultSlices(tr, threeRowResponse(), 2)
	require.NoError(t, err)
	assert.Len(t, slices, 2)
}

func TestCapSliceSize(t *testing.T) {
	slice := threeRowResponse()
	slice.Datarows[0][0] = strings.Repeat("x", 4096)

	capped, err := CapSliceSize(slice, 1024)
	require.NoError(t, err)
	assert.True(t, capped)
	require.Len(t, slice.Datarows, 1)
	assert.Equal(t, ResultsTooLargeMessage, slice.Datarows[0][0])
	// schema and accounting survive the cap
	assert.Len(t, slice.Schema, 3)
	assert.Equal(t, int64(3), slice.Total)
	assert.Equal(t, int64(3), slice.Size)

	small := threeRowResponse()
	capped, err = CapSliceSize(small, 1024*1024)
	require.NoError(t, err)
	assert.False(t, capped)
	assert.Len(t, small.Datarows, 3)
}
