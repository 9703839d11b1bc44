package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runProcessor(t *testing.T, input map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, err := NewDataProcessor().Execute(context.Background(), Invocation{Input: input})
	require.NoError(t, err)
	return result.Output.(map[string]interface{})
}

func peopleTable() []interface{} {
	return []interface{}{
		map[string]interface{}{"name": "ada", "team": "eng", "age": 36.0},
		map[string]interface{}{"name": "bob", "team": "ops", "age": 29.0},
		map[string]interface{}{"name": "cyd", "team": "eng", "age": 41.0},
		map[string]interface{}{"name": "dee", "team": "ops", "age": 29.0},
	}
}

func TestDataProcessor_Filter(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      peopleTable(),
		"operation": "filter",
		"parameters": map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"column": "team", "operator": "equals", "value": "eng"},
				map[string]interface{}{"column": "age", "operator": "greater_than", "value": 40},
			},
		},
	})
	rows := output["result"].([]map[string]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "cyd", rows[0]["name"])
}

func TestDataProcessor_FilterContainsNullSafe(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"note": "urgent fix"},
			map[string]interface{}{"note": nil},
			map[string]interface{}{"note": "minor"},
		},
		"operation": "filter",
		"parameters": map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"column": "note", "operator": "contains", "value": "urgent"},
			},
		},
	})
	rows := output["result"].([]map[string]interface{})
	require.Len(t, rows, 1)
}

func TestDataProcessor_FilterIn(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      peopleTable(),
		"operation": "filter",
		"parameters": map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"column": "name", "operator": "in", "value": []interface{}{"ada", "dee"}},
			},
		},
	})
	assert.Equal(t, 2, output["row_count"])
}

func TestDataProcessor_SortMultiColumn(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      peopleTable(),
		"operation": "sort",
		"parameters": map[string]interface{}{
			"columns":   []interface{}{"age", "name"},
			"ascending": []interface{}{true, false},
		},
	})
	rows := output["result"].([]map[string]interface{})
	require.Len(t, rows, 4)
	// age 29 twice, name descending within the tie.
	assert.Equal(t, "dee", rows[0]["name"])
	assert.Equal(t, "bob", rows[1]["name"])
	assert.Equal(t, "cyd", rows[3]["name"])
}

func TestDataProcessor_GroupBy(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      peopleTable(),
		"operation": "group_by",
		"parameters": map[string]interface{}{
			"by": []interface{}{"team"},
			"aggregations": map[string]interface{}{
				"age": "mean",
			},
		},
	})
	rows := output["result"].([]map[string]interface{})
	require.Len(t, rows, 2)
	byTeam := map[string]map[string]interface{}{}
	for _, row := range rows {
		byTeam[row["team"].(string)] = row
	}
	assert.InDelta(t, 38.5, byTeam["eng"]["age_mean"], 0.001)
	assert.InDelta(t, 29.0, byTeam["ops"]["age_mean"], 0.001)
}

func TestDataProcessor_GroupBySizeDefault(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      peopleTable(),
		"operation": "group_by",
		"parameters": map[string]interface{}{
			"by": []interface{}{"team"},
		},
	})
	rows := output["result"].([]map[string]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0]["size"])
}

func TestDataProcessor_AggregateDefaults(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      peopleTable(),
		"operation": "aggregate",
	})
	rows := output["result"].([]map[string]interface{})
	require.Len(t, rows, 1)
	assert.InDelta(t, 33.75, rows[0]["age_mean"], 0.001)
	assert.InDelta(t, 135.0, rows[0]["age_sum"], 0.001)
	assert.Equal(t, 4, rows[0]["age_count"])
}

func TestDataProcessor_TransformNormalize(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"v": 10.0},
			map[string]interface{}{"v": 20.0},
			map[string]interface{}{"v": 30.0},
		},
		"operation": "transform",
		"parameters": map[string]interface{}{
			"transforms": []interface{}{
				map[string]interface{}{"column": "v", "operation": "normalize", "target": "v_norm"},
			},
		},
	})
	rows := output["result"].([]map[string]interface{})
	assert.InDelta(t, 0.0, rows[0]["v_norm"], 0.001)
	assert.InDelta(t, 0.5, rows[1]["v_norm"], 0.001)
	assert.InDelta(t, 1.0, rows[2]["v_norm"], 0.001)
	// Source column untouched.
	assert.Equal(t, 10.0, rows[0]["v"])
}

func TestDataProcessor_TransformStringOps(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      peopleTable(),
		"operation": "transform",
		"parameters": map[string]interface{}{
			"transforms": []interface{}{
				map[string]interface{}{"column": "name", "operation": "uppercase"},
			},
		},
	})
	rows := output["result"].([]map[string]interface{})
	assert.Equal(t, "ADA", rows[0]["name"])
}

func TestDataProcessor_JoinInner(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      peopleTable(),
		"operation": "join",
		"parameters": map[string]interface{}{
			"on":  []interface{}{"team"},
			"how": "inner",
			"right": []interface{}{
				map[string]interface{}{"team": "eng", "floor": 3.0},
			},
		},
	})
	rows := output["result"].([]map[string]interface{})
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "eng", row["team"])
		assert.Equal(t, 3.0, row["floor"])
	}
}

func TestDataProcessor_JoinEmptyKeysConcatenates(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      peopleTable(),
		"operation": "join",
		"parameters": map[string]interface{}{
			"right": []interface{}{
				map[string]interface{}{"name": "eve"},
			},
		},
	})
	assert.Equal(t, 5, output["row_count"])
}

func TestDataProcessor_PivotFillsZero(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"region": "north", "quarter": "q1", "sales": 100.0},
			map[string]interface{}{"region": "north", "quarter": "q2", "sales": 120.0},
			map[string]interface{}{"region": "south", "quarter": "q1", "sales": 90.0},
		},
		"operation": "pivot",
		"parameters": map[string]interface{}{
			"index":   "region",
			"columns": "quarter",
			"values":  "sales",
		},
	})
	rows := output["result"].([]map[string]interface{})
	require.Len(t, rows, 2)
	byRegion := map[string]map[string]interface{}{}
	for _, row := range rows {
		byRegion[row["region"].(string)] = row
	}
	assert.Equal(t, 120.0, byRegion["north"]["q2"])
	// Missing south/q2 combination fills with zero.
	assert.Equal(t, 0.0, byRegion["south"]["q2"])
}

func TestDataProcessor_CleanRemovesOutliersAndDuplicates(t *testing.T) {
	data := []interface{}{
		map[string]interface{}{"v": 10.0},
		map[string]interface{}{"v": 10.0},
		map[string]interface{}{"v": 11.0},
		map[string]interface{}{"v": 12.0},
		map[string]interface{}{"v": 13.0},
		map[string]interface{}{"v": 1000.0},
	}
	output := runProcessor(t, map[string]interface{}{
		"data":      data,
		"operation": "clean",
		"parameters": map[string]interface{}{
			"remove_duplicates": true,
			"remove_outliers":   true,
		},
	})
	rows := output["result"].([]map[string]interface{})
	for _, row := range rows {
		assert.Less(t, row["v"].(float64), 1000.0)
	}
	assert.Equal(t, 4, output["row_count"])
}

func TestDataProcessor_CleanHandleMissingMean(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"v": 10.0},
			map[string]interface{}{"v": nil},
			map[string]interface{}{"v": 20.0},
		},
		"operation": "clean",
		"parameters": map[string]interface{}{
			"handle_missing": "mean",
		},
	})
	rows := output["result"].([]map[string]interface{})
	assert.InDelta(t, 15.0, rows[1]["v"], 0.001)
}

func TestDataProcessor_SampleDeterministic(t *testing.T) {
	input := map[string]interface{}{
		"data":      peopleTable(),
		"operation": "sample",
		"parameters": map[string]interface{}{
			"method": "random",
			"n":      2,
		},
	}
	first := runProcessor(t, input)["result"].([]map[string]interface{})
	second := runProcessor(t, input)["result"].([]map[string]interface{})
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func TestDataProcessor_SampleHeadTail(t *testing.T) {
	head := runProcessor(t, map[string]interface{}{
		"data":       peopleTable(),
		"operation":  "sample",
		"parameters": map[string]interface{}{"method": "head", "n": 1},
	})["result"].([]map[string]interface{})
	assert.Equal(t, "ada", head[0]["name"])

	tail := runProcessor(t, map[string]interface{}{
		"data":       peopleTable(),
		"operation":  "sample",
		"parameters": map[string]interface{}{"method": "tail", "n": 1},
	})["result"].([]map[string]interface{})
	assert.Equal(t, "dee", tail[0]["name"])
}

func TestDataProcessor_Statistics(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      peopleTable(),
		"operation": "statistics",
	})
	rows := output["result"].([]map[string]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "age", rows[0]["column"])
	assert.Equal(t, 4, rows[0]["count"])
	assert.InDelta(t, 29.0, rows[0]["min"], 0.001)
	assert.InDelta(t, 41.0, rows[0]["max"], 0.001)
}

func TestDataProcessor_CSVStringInput(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data":      "name,age\nada,36\nbob,29",
		"operation": "sort",
		"parameters": map[string]interface{}{
			"columns":   []interface{}{"age"},
			"ascending": true,
		},
	})
	rows := output["result"].([]map[string]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, "bob", rows[0]["name"])
	assert.Equal(t, 29.0, rows[0]["age"])
}

func TestDataProcessor_ColumnDictInput(t *testing.T) {
	output := runProcessor(t, map[string]interface{}{
		"data": map[string]interface{}{
			"name": []interface{}{"ada", "bob"},
			"age":  []interface{}{36.0, 29.0},
		},
		"operation":  "sample",
		"parameters": map[string]interface{}{"method": "head", "n": 5},
	})
	assert.Equal(t, 2, output["row_count"])
}

func TestDataProcessor_OutputFormats(t *testing.T) {
	base := map[string]interface{}{
		"data":       peopleTable(),
		"operation":  "sample",
		"parameters": map[string]interface{}{"method": "head", "n": 2},
	}

	base["output_format"] = "csv"
	csvOut := runProcessor(t, base)["result"].(string)
	assert.Contains(t, csvOut, "age,name,team")

	base["output_format"] = "json"
	jsonOut := runProcessor(t, base)["result"].(string)
	assert.Contains(t, jsonOut, `"ada"`)

	base["output_format"] = "dict"
	dictOut := runProcessor(t, base)["result"].(map[string]interface{})
	assert.Len(t, dictOut["name"], 2)

	base["output_format"] = "list"
	listOut := runProcessor(t, base)["result"].([][]interface{})
	require.Len(t, listOut, 3)
	assert.Equal(t, "age", listOut[0][0])
}

func TestDataProcessor_UnknownOperation(t *testing.T) {
	_, err := NewDataProcessor().Execute(context.Background(), Invocation{
		Input: map[string]interface{}{
			"data":      peopleTable(),
			"operation": "explode",
		},
	})
	require.Error(t, err)
}
