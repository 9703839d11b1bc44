package agents

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
)

// sampleSeed keeps random sampling reproducible across runs.
const sampleSeed = 42

// DataProcessor runs tabular operations over record tables. A table is
// a []map[string]interface{}; non-tabular inputs are coerced into one.
type DataProcessor struct{}

func NewDataProcessor() *DataProcessor { return &DataProcessor{} }

func (a *DataProcessor) Kind() string { return "data_processor" }

func (a *DataProcessor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	started := time.Now().UTC()

	table, err := coerceTable(inv.Input["data"])
	if err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	if max := intParam(inv.Config, "max_rows", 0); max > 0 && len(table) > max {
		return nil, apperrors.ValidationError(fmt.Sprintf("input exceeds max_rows (%d > %d)", len(table), max))
	}

	operation := stringParam(inv.Input, "operation", "")
	params := mapParam(inv.Input, "parameters")

	var out []map[string]interface{}
	switch operation {
	case "filter":
		out, err = opFilter(table, params)
	case "sort":
		out, err = opSort(table, params)
	case "group_by":
		out, err = opGroupBy(table, params)
	case "aggregate":
		out, err = opAggregate(table, params)
	case "transform":
		out, err = opTransform(table, params)
	case "join":
		out, err = opJoin(table, params)
	case "pivot":
		out, err = opPivot(table, params)
	case "clean":
		out, err = opClean(table, params)
	case "sample":
		out, err = opSample(table, params)
	case "statistics":
		out, err = opStatistics(table)
	default:
		return nil, apperrors.ValidationError("unknown operation: " + operation)
	}
	if err != nil {
		return nil, err
	}

	formatted, err := formatTable(out, stringParam(inv.Input, "output_format", "records"))
	if err != nil {
		return nil, err
	}

	return &Result{
		Output: map[string]interface{}{
			"result":    formatted,
			"row_count": len(out),
			"operation": operation,
		},
		Metadata: Metadata{StartedAt: started, CompletedAt: time.Now().UTC()},
	}, nil
}

// coerceTable turns records, a column dict, a primitive list, or a
// CSV/JSON string into a record table.
func coerceTable(data interface{}) ([]map[string]interface{}, error) {
	switch v := data.(type) {
	case []map[string]interface{}:
		return v, nil
	case []interface{}:
		return tableFromList(v)
	case map[string]interface{}:
		return tableFromColumns(v)
	case string:
		return tableFromString(v)
	case nil:
		return nil, fmt.Errorf("data is required")
	default:
		return nil, fmt.Errorf("unsupported data shape %T", data)
	}
}

func tableFromList(items []interface{}) ([]map[string]interface{}, error) {
	table := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		switch row := item.(type) {
		case map[string]interface{}:
			table = append(table, row)
		default:
			// Primitive list: single "value" column.
			table = append(table, map[string]interface{}{"value": row})
		}
	}
	return table, nil
}

func tableFromColumns(columns map[string]interface{}) ([]map[string]interface{}, error) {
	length := -1
	for name, col := range columns {
		values, ok := col.([]interface{})
		if !ok {
			return nil, fmt.Errorf("column %s is not a list", name)
		}
		if length == -1 {
			length = len(values)
		} else if len(values) != length {
			return nil, fmt.Errorf("column %s has length %d, expected %d", name, len(values), length)
		}
	}
	if length <= 0 {
		return nil, nil
	}
	table := make([]map[string]interface{}, length)
	for i := range table {
		table[i] = make(map[string]interface{}, len(columns))
	}
	for name, col := range columns {
		for i, v := range col.([]interface{}) {
			table[i][name] = v
		}
	}
	return table, nil
}

func tableFromString(s string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			return nil, fmt.Errorf("failed to parse JSON data: %w", err)
		}
		return coerceTable(v)
	}
	return parseCSVTable(trimmed)
}

func parseCSVTable(s string) ([]map[string]interface{}, error) {
	reader := csv.NewReader(strings.NewReader(s))
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV data: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	table := make([]map[string]interface{}, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i >= len(row) {
				rec[col] = nil
				continue
			}
			rec[col] = parseCSVValue(row[i])
		}
		table = append(table, rec)
	}
	return table, nil
}

func parseCSVValue(s string) interface{} {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func opFilter(table []map[string]interface{}, params map[string]interface{}) ([]map[string]interface{}, error) {
	conditions := sliceParam(params, "conditions")
	if len(conditions) == 0 {
		return table, nil
	}

	var out []map[string]interface{}
	for _, row := range table {
		keep := true
		for _, c := range conditions {
			cond, ok := c.(map[string]interface{})
			if !ok {
				return nil, apperrors.ValidationError("filter condition must be an object")
			}
			match, err := matchCondition(row, cond)
			if err != nil {
				return nil, err
			}
			if !match {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

func matchCondition(row map[string]interface{}, cond map[string]interface{}) (bool, error) {
	column := stringParam(cond, "column", "")
	operator := stringParam(cond, "operator", "equals")
	expected := cond["value"]
	actual := row[column]

	switch operator {
	case "equals":
		return valuesEqual(actual, expected), nil
	case "not_equals":
		return !valuesEqual(actual, expected), nil
	case "greater_than":
		a, okA := numberValue(actual)
		b, okB := numberValue(expected)
		return okA && okB && a > b, nil
	case "less_than":
		a, okA := numberValue(actual)
		b, okB := numberValue(expected)
		return okA && okB && a < b, nil
	case "contains":
		// Null-safe substring match.
		if actual == nil {
			return false, nil
		}
		return strings.Contains(fmt.Sprintf("%v", actual), fmt.Sprintf("%v", expected)), nil
	case "in":
		for _, v := range toSlice(expected) {
			if valuesEqual(actual, v) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, apperrors.ValidationError("unknown filter operator: " + operator)
	}
}

func toSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case []string:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	}
	return nil
}

func valuesEqual(a, b interface{}) bool {
	if na, okA := numberValue(a); okA {
		if nb, okB := numberValue(b); okB {
			return na == nb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func opSort(table []map[string]interface{}, params map[string]interface{}) ([]map[string]interface{}, error) {
	columns := stringSliceParam(params, "columns")
	if len(columns) == 0 {
		if single := stringParam(params, "columns", ""); single != "" {
			columns = []string{single}
		}
	}
	if len(columns) == 0 {
		return nil, apperrors.ValidationError("sort requires columns")
	}

	ascending := make([]bool, len(columns))
	switch asc := params["ascending"].(type) {
	case bool:
		for i := range ascending {
			ascending[i] = asc
		}
	case []interface{}:
		for i := range ascending {
			ascending[i] = true
			if i < len(asc) {
				if b, ok := asc[i].(bool); ok {
					ascending[i] = b
				}
			}
		}
	default:
		for i := range ascending {
			ascending[i] = true
		}
	}

	out := append([]map[string]interface{}(nil), table...)
	sort.SliceStable(out, func(i, j int) bool {
		for k, col := range columns {
			cmp := compareValues(out[i][col], out[j][col])
			if cmp == 0 {
				continue
			}
			if ascending[k] {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
	return out, nil
}

func compareValues(a, b interface{}) int {
	na, okA := numberValue(a)
	nb, okB := numberValue(b)
	if okA && okB {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func opGroupBy(table []map[string]interface{}, params map[string]interface{}) ([]map[string]interface{}, error) {
	by := stringSliceParam(params, "by")
	if len(by) == 0 {
		if single := stringParam(params, "by", ""); single != "" {
			by = []string{single}
		}
	}
	if len(by) == 0 {
		return nil, apperrors.ValidationError("group_by requires by columns")
	}

	type group struct {
		key  map[string]interface{}
		rows []map[string]interface{}
	}
	var order []string
	groups := map[string]*group{}
	for _, row := range table {
		key := make(map[string]interface{}, len(by))
		parts := make([]string, len(by))
		for i, col := range by {
			key[col] = row[col]
			parts[i] = fmt.Sprintf("%v", row[col])
		}
		id := strings.Join(parts, "\x1f")
		g, ok := groups[id]
		if !ok {
			g = &group{key: key}
			groups[id] = g
			order = append(order, id)
		}
		g.rows = append(g.rows, row)
	}

	aggregations := mapParam(params, "aggregations")
	var out []map[string]interface{}
	for _, id := range order {
		g := groups[id]
		rec := make(map[string]interface{}, len(g.key)+len(aggregations)+1)
		for k, v := range g.key {
			rec[k] = v
		}
		if len(aggregations) == 0 {
			rec["size"] = len(g.rows)
		}
		for name, spec := range aggregations {
			switch agg := spec.(type) {
			case string:
				// name is the column, spec the builtin.
				v, err := aggregateColumn(g.rows, name, agg)
				if err != nil {
					return nil, err
				}
				rec[name+"_"+agg] = v
			case map[string]interface{}:
				for column, fn := range agg {
					fnName, _ := fn.(string)
					v, err := aggregateColumn(g.rows, column, fnName)
					if err != nil {
						return nil, err
					}
					rec[name+"_"+column] = v
				}
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func aggregateColumn(rows []map[string]interface{}, column, fn string) (interface{}, error) {
	switch fn {
	case "size":
		return len(rows), nil
	case "count":
		n := 0
		for _, row := range rows {
			if row[column] != nil {
				n++
			}
		}
		return n, nil
	case "sum", "mean", "min", "max":
		var nums []float64
		for _, row := range rows {
			if v, ok := numberValue(row[column]); ok {
				nums = append(nums, v)
			}
		}
		if len(nums) == 0 {
			return nil, nil
		}
		switch fn {
		case "sum":
			return sumFloats(nums), nil
		case "mean":
			return sumFloats(nums) / float64(len(nums)), nil
		case "min":
			m := nums[0]
			for _, v := range nums[1:] {
				if v < m {
					m = v
				}
			}
			return m, nil
		default:
			m := nums[0]
			for _, v := range nums[1:] {
				if v > m {
					m = v
				}
			}
			return m, nil
		}
	default:
		return nil, apperrors.ValidationError("unknown aggregation: " + fn)
	}
}

func sumFloats(nums []float64) float64 {
	var s float64
	for _, v := range nums {
		s += v
	}
	return s
}

// opAggregate reduces the whole table to one row. Without an explicit
// spec it computes mean, sum, and count over every numeric column.
func opAggregate(table []map[string]interface{}, params map[string]interface{}) ([]map[string]interface{}, error) {
	aggregations := mapParam(params, "aggregations")
	rec := map[string]interface{}{}

	if len(aggregations) == 0 {
		for _, col := range numericColumns(table) {
			for _, fn := range []string{"mean", "sum", "count"} {
				v, err := aggregateColumn(table, col, fn)
				if err != nil {
					return nil, err
				}
				rec[col+"_"+fn] = v
			}
		}
		return []map[string]interface{}{rec}, nil
	}

	for column, spec := range aggregations {
		for _, fnRaw := range toSlice(spec) {
			fn, _ := fnRaw.(string)
			v, err := aggregateColumn(table, column, fn)
			if err != nil {
				return nil, err
			}
			rec[column+"_"+fn] = v
		}
		if fn, ok := spec.(string); ok {
			v, err := aggregateColumn(table, column, fn)
			if err != nil {
				return nil, err
			}
			rec[column+"_"+fn] = v
		}
	}
	return []map[string]interface{}{rec}, nil
}

func numericColumns(table []map[string]interface{}) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range table {
		for col, v := range row {
			if seen[col] {
				continue
			}
			if _, ok := numberValue(v); ok {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func opTransform(table []map[string]interface{}, params map[string]interface{}) ([]map[string]interface{}, error) {
	transforms := sliceParam(params, "transforms")
	if len(transforms) == 0 {
		return table, nil
	}

	out := make([]map[string]interface{}, len(table))
	for i, row := range table {
		cp := make(map[string]interface{}, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}

	for _, t := range transforms {
		spec, ok := t.(map[string]interface{})
		if !ok {
			return nil, apperrors.ValidationError("transform entry must be an object")
		}
		column := stringParam(spec, "column", "")
		target := stringParam(spec, "target", column)
		op := stringParam(spec, "operation", "")

		switch op {
		case "add", "multiply":
			operand := floatParam(spec, "value", 0)
			for _, row := range out {
				n, ok := numberValue(row[column])
				if !ok {
					continue
				}
				if op == "add" {
					row[target] = n + operand
				} else {
					row[target] = n * operand
				}
			}
		case "uppercase", "lowercase":
			for _, row := range out {
				s, ok := row[column].(string)
				if !ok {
					continue
				}
				if op == "uppercase" {
					row[target] = strings.ToUpper(s)
				} else {
					row[target] = strings.ToLower(s)
				}
			}
		case "normalize":
			nums, idx := columnNumbers(out, column)
			if len(nums) == 0 {
				continue
			}
			min, max := minMax(nums)
			span := max - min
			for j, i := range idx {
				if span == 0 {
					out[i][target] = 0.0
				} else {
					out[i][target] = (nums[j] - min) / span
				}
			}
		case "standardize":
			nums, idx := columnNumbers(out, column)
			if len(nums) == 0 {
				continue
			}
			mean := sumFloats(nums) / float64(len(nums))
			std := stddev(nums, mean)
			for j, i := range idx {
				if std == 0 {
					out[i][target] = 0.0
				} else {
					out[i][target] = (nums[j] - mean) / std
				}
			}
		default:
			return nil, apperrors.ValidationError("unknown transform operation: " + op)
		}
	}
	return out, nil
}

func columnNumbers(table []map[string]interface{}, column string) ([]float64, []int) {
	var nums []float64
	var idx []int
	for i, row := range table {
		if v, ok := numberValue(row[column]); ok {
			nums = append(nums, v)
			idx = append(idx, i)
		}
	}
	return nums, idx
}

func minMax(nums []float64) (float64, float64) {
	min, max := nums[0], nums[0]
	for _, v := range nums[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func stddev(nums []float64, mean float64) float64 {
	if len(nums) < 2 {
		return 0
	}
	var ss float64
	for _, v := range nums {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(nums)-1))
}

func opJoin(table []map[string]interface{}, params map[string]interface{}) ([]map[string]interface{}, error) {
	right, err := coerceTable(params["right"])
	if err != nil {
		return nil, apperrors.ValidationError("join requires right data: " + err.Error())
	}
	keys := stringSliceParam(params, "on")
	how := stringParam(params, "how", "inner")

	// Empty key list means vertical concatenation.
	if len(keys) == 0 {
		return append(append([]map[string]interface{}(nil), table...), right...), nil
	}

	keyOf := func(row map[string]interface{}) string {
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%v", row[k])
		}
		return strings.Join(parts, "\x1f")
	}

	rightIndex := map[string][]map[string]interface{}{}
	for _, row := range right {
		k := keyOf(row)
		rightIndex[k] = append(rightIndex[k], row)
	}

	merge := func(l, r map[string]interface{}) map[string]interface{} {
		rec := make(map[string]interface{}, len(l)+len(r))
		for k, v := range r {
			rec[k] = v
		}
		for k, v := range l {
			rec[k] = v
		}
		return rec
	}

	var out []map[string]interface{}
	matchedRight := map[string]bool{}
	for _, lrow := range table {
		k := keyOf(lrow)
		matches := rightIndex[k]
		if len(matches) == 0 {
			if how == "left" || how == "outer" {
				out = append(out, lrow)
			}
			continue
		}
		matchedRight[k] = true
		for _, rrow := range matches {
			out = append(out, merge(lrow, rrow))
		}
	}
	if how == "right" || how == "outer" {
		for _, rrow := range right {
			if !matchedRight[keyOf(rrow)] {
				out = append(out, rrow)
			}
		}
	}
	return out, nil
}

func opPivot(table []map[string]interface{}, params map[string]interface{}) ([]map[string]interface{}, error) {
	index := stringParam(params, "index", "")
	columns := stringParam(params, "columns", "")
	values := stringParam(params, "values", "")
	aggfunc := stringParam(params, "aggfunc", "mean")
	if index == "" || columns == "" || values == "" {
		return nil, apperrors.ValidationError("pivot requires index, columns, and values")
	}

	type cell struct{ rows []map[string]interface{} }
	grid := map[string]map[string]*cell{}
	var indexOrder []string
	colSet := map[string]bool{}
	var colOrder []string

	for _, row := range table {
		i := fmt.Sprintf("%v", row[index])
		c := fmt.Sprintf("%v", row[columns])
		if _, ok := grid[i]; !ok {
			grid[i] = map[string]*cell{}
			indexOrder = append(indexOrder, i)
		}
		if _, ok := grid[i][c]; !ok {
			grid[i][c] = &cell{}
		}
		grid[i][c].rows = append(grid[i][c].rows, row)
		if !colSet[c] {
			colSet[c] = true
			colOrder = append(colOrder, c)
		}
	}
	sort.Strings(colOrder)

	var out []map[string]interface{}
	for _, i := range indexOrder {
		rec := map[string]interface{}{index: i}
		for _, c := range colOrder {
			cl, ok := grid[i][c]
			if !ok {
				// Missing combinations fill with 0.
				rec[c] = 0.0
				continue
			}
			v, err := aggregateColumn(cl.rows, values, aggfunc)
			if err != nil {
				return nil, err
			}
			if v == nil {
				v = 0.0
			}
			rec[c] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

func opClean(table []map[string]interface{}, params map[string]interface{}) ([]map[string]interface{}, error) {
	out := append([]map[string]interface{}(nil), table...)

	if boolParam(params, "remove_duplicates", false) {
		seen := map[string]bool{}
		var dedup []map[string]interface{}
		for _, row := range out {
			b, _ := json.Marshal(sortedRecord(row))
			if !seen[string(b)] {
				seen[string(b)] = true
				dedup = append(dedup, row)
			}
		}
		out = dedup
	}

	if strategy := stringParam(params, "handle_missing", ""); strategy != "" {
		var err error
		out, err = handleMissing(out, strategy)
		if err != nil {
			return nil, err
		}
	}

	if boolParam(params, "remove_outliers", false) {
		out = removeOutliers(out, stringSliceParam(params, "outlier_columns"))
	}
	return out, nil
}

func sortedRecord(row map[string]interface{}) []interface{} {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]interface{}, 0, len(row)*2)
	for _, k := range keys {
		out = append(out, k, fmt.Sprintf("%v", row[k]))
	}
	return out
}

func handleMissing(table []map[string]interface{}, strategy string) ([]map[string]interface{}, error) {
	columns := allColumns(table)
	switch strategy {
	case "drop":
		var out []map[string]interface{}
		for _, row := range table {
			complete := true
			for _, col := range columns {
				if row[col] == nil {
					complete = false
					break
				}
			}
			if complete {
				out = append(out, row)
			}
		}
		return out, nil
	case "forward_fill":
		out := copyTable(table)
		for _, col := range columns {
			var last interface{}
			for _, row := range out {
				if row[col] != nil {
					last = row[col]
				} else if last != nil {
					row[col] = last
				}
			}
		}
		return out, nil
	case "backward_fill":
		out := copyTable(table)
		for _, col := range columns {
			var next interface{}
			for i := len(out) - 1; i >= 0; i-- {
				if out[i][col] != nil {
					next = out[i][col]
				} else if next != nil {
					out[i][col] = next
				}
			}
		}
		return out, nil
	case "mean":
		out := copyTable(table)
		for _, col := range numericColumns(out) {
			nums, _ := columnNumbers(out, col)
			if len(nums) == 0 {
				continue
			}
			mean := sumFloats(nums) / float64(len(nums))
			for _, row := range out {
				if row[col] == nil {
					row[col] = mean
				}
			}
		}
		return out, nil
	default:
		return nil, apperrors.ValidationError("unknown missing-value strategy: " + strategy)
	}
}

func copyTable(table []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(table))
	for i, row := range table {
		cp := make(map[string]interface{}, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

func allColumns(table []map[string]interface{}) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range table {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// removeOutliers drops rows outside the IQR fences Q1-1.5*IQR and
// Q3+1.5*IQR, per column.
func removeOutliers(table []map[string]interface{}, columns []string) []map[string]interface{} {
	if len(columns) == 0 {
		columns = numericColumns(table)
	}
	out := table
	for _, col := range columns {
		nums, _ := columnNumbers(out, col)
		if len(nums) < 4 {
			continue
		}
		sorted := append([]float64(nil), nums...)
		sort.Float64s(sorted)
		q1 := quantile(sorted, 0.25)
		q3 := quantile(sorted, 0.75)
		iqr := q3 - q1
		lo := q1 - 1.5*iqr
		hi := q3 + 1.5*iqr

		var kept []map[string]interface{}
		for _, row := range out {
			v, ok := numberValue(row[col])
			if ok && (v < lo || v > hi) {
				continue
			}
			kept = append(kept, row)
		}
		out = kept
	}
	return out
}

// quantile uses linear interpolation over a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func opSample(table []map[string]interface{}, params map[string]interface{}) ([]map[string]interface{}, error) {
	method := stringParam(params, "method", "random")
	n := intParam(params, "n", 10)
	if n > len(table) {
		n = len(table)
	}

	switch method {
	case "head":
		return table[:n], nil
	case "tail":
		return table[len(table)-n:], nil
	case "random":
		rng := rand.New(rand.NewSource(sampleSeed))
		idx := rng.Perm(len(table))[:n]
		sort.Ints(idx)
		out := make([]map[string]interface{}, 0, n)
		for _, i := range idx {
			out = append(out, table[i])
		}
		return out, nil
	case "stratified":
		column := stringParam(params, "column", "")
		if column == "" {
			return nil, apperrors.ValidationError("stratified sampling requires a column")
		}
		groups := map[string][]map[string]interface{}{}
		var order []string
		for _, row := range table {
			k := fmt.Sprintf("%v", row[column])
			if _, ok := groups[k]; !ok {
				order = append(order, k)
			}
			groups[k] = append(groups[k], row)
		}
		rng := rand.New(rand.NewSource(sampleSeed))
		var out []map[string]interface{}
		for _, k := range order {
			rows := groups[k]
			take := int(math.Round(float64(n) * float64(len(rows)) / float64(len(table))))
			if take < 1 {
				take = 1
			}
			if take > len(rows) {
				take = len(rows)
			}
			idx := rng.Perm(len(rows))[:take]
			sort.Ints(idx)
			for _, i := range idx {
				out = append(out, rows[i])
			}
		}
		return out, nil
	default:
		return nil, apperrors.ValidationError("unknown sampling method: " + method)
	}
}

// opStatistics describes every numeric column: count, mean, std, min,
// max.
func opStatistics(table []map[string]interface{}) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for _, col := range numericColumns(table) {
		nums, _ := columnNumbers(table, col)
		if len(nums) == 0 {
			continue
		}
		mean := sumFloats(nums) / float64(len(nums))
		min, max := minMax(nums)
		out = append(out, map[string]interface{}{
			"column": col,
			"count":  len(nums),
			"mean":   mean,
			"std":    stddev(nums, mean),
			"min":    min,
			"max":    max,
		})
	}
	return out, nil
}

// formatTable renders the result as records, list-of-lists, column
// dict, JSON string, or CSV string.
func formatTable(table []map[string]interface{}, format string) (interface{}, error) {
	switch format {
	case "", "records":
		if table == nil {
			return []map[string]interface{}{}, nil
		}
		return table, nil
	case "list":
		columns := allColumns(table)
		rows := make([][]interface{}, 0, len(table)+1)
		header := make([]interface{}, len(columns))
		for i, c := range columns {
			header[i] = c
		}
		rows = append(rows, header)
		for _, row := range table {
			vals := make([]interface{}, len(columns))
			for i, c := range columns {
				vals[i] = row[c]
			}
			rows = append(rows, vals)
		}
		return rows, nil
	case "dict":
		columns := allColumns(table)
		out := make(map[string]interface{}, len(columns))
		for _, c := range columns {
			vals := make([]interface{}, len(table))
			for i, row := range table {
				vals[i] = row[c]
			}
			out[c] = vals
		}
		return out, nil
	case "json":
		b, err := json.Marshal(table)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		return string(b), nil
	case "csv":
		columns := allColumns(table)
		var sb strings.Builder
		w := csv.NewWriter(&sb)
		if err := w.Write(columns); err != nil {
			return nil, err
		}
		for _, row := range table {
			rec := make([]string, len(columns))
			for i, c := range columns {
				if row[c] != nil {
					rec[i] = fmt.Sprintf("%v", row[c])
				}
			}
			if err := w.Write(rec); err != nil {
				return nil, err
			}
		}
		w.Flush()
		return sb.String(), w.Error()
	default:
		return nil, apperrors.ValidationError("unknown output format: " + format)
	}
}
