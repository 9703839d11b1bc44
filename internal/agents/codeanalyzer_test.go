package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyze(t *testing.T, code, language string) map[string]interface{} {
	t.Helper()
	result, err := NewCodeAnalyzer().Execute(context.Background(), Invocation{
		Input: map[string]interface{}{"code": code, "language": language},
	})
	require.NoError(t, err)
	return result.Output.(map[string]interface{})
}

func TestCodeAnalyzer_CleanGoCode(t *testing.T) {
	output := analyze(t, `package main

func Add(a, b int) int {
	return a + b
}
`, "go")

	assert.Equal(t, 100, output["quality_score"])
	assert.Empty(t, output["security_issues"])

	complexity := output["complexity"].(map[string]interface{})
	assert.Equal(t, 1, complexity["cyclomatic_complexity"])
	assert.Equal(t, 1, complexity["functions"])
	assert.Equal(t, true, complexity["ast"])
}

func TestCodeAnalyzer_SecurityFindings(t *testing.T) {
	output := analyze(t, `package main

var password = "hunter2"

func run(q string) {
	db.Exec("SELECT * FROM users WHERE id = '" + q)
}
`, "go")

	issues := output["security_issues"].([]interface{})
	require.NotEmpty(t, issues)

	severities := map[string]bool{}
	for _, raw := range issues {
		issue := raw.(map[string]interface{})
		severities[issue["severity"].(string)] = true
	}
	assert.True(t, severities["high"], "expected hardcoded credential finding")
	assert.True(t, severities["critical"], "expected SQL interpolation finding")

	// 100 - 20 (critical) - 10 (high) leaves at most 70.
	assert.LessOrEqual(t, output["quality_score"].(int), 70)
}

func TestCodeAnalyzer_ComplexityPenalty(t *testing.T) {
	code := `package main

func branchy(n int) int {
	total := 0
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			total++
		}
		if i%3 == 0 {
			total++
		}
		if i%5 == 0 {
			total++
		}
		if i%7 == 0 {
			total++
		}
		if i%11 == 0 {
			total++
		}
	}
	return total
}
`
	output := analyze(t, code, "go")
	complexity := output["complexity"].(map[string]interface{})
	// 1 + for + 5 ifs
	assert.Equal(t, 7, complexity["cyclomatic_complexity"])
	// Complexity in (5, 10] costs 5 points.
	assert.Equal(t, 95, output["quality_score"])
}

func TestCodeAnalyzer_NestingDepth(t *testing.T) {
	output := analyze(t, `package main

func deep(n int) {
	if n > 0 {
		for i := 0; i < n; i++ {
			if i%2 == 0 {
				println(i)
			}
		}
	}
}
`, "go")

	complexity := output["complexity"].(map[string]interface{})
	// Function body, if, for, innermost if.
	assert.Equal(t, 4, complexity["max_nesting"])
}

func TestCodeAnalyzer_SnippetWithoutPackageClause(t *testing.T) {
	output := analyze(t, `func main() {
	if true {
		println("ok")
	}
}
`, "go")
	complexity := output["complexity"].(map[string]interface{})
	assert.Equal(t, true, complexity["ast"])
	assert.Equal(t, 2, complexity["cyclomatic_complexity"])
}

func TestCodeAnalyzer_JavaScriptStyleIssues(t *testing.T) {
	output := analyze(t, `var count = 0;
console.log(count);
`, "javascript")

	issues := output["style_issues"].([]interface{})
	require.NotEmpty(t, issues)

	messages := map[string]bool{}
	for _, raw := range issues {
		issue := raw.(map[string]interface{})
		messages[issue["message"].(string)] = true
	}
	assert.True(t, messages["use let or const instead of var"])
	assert.True(t, messages["console.log left in code"])

	complexity := output["complexity"].(map[string]interface{})
	assert.Equal(t, false, complexity["ast"])
}

func TestCodeAnalyzer_GenericLanguagePath(t *testing.T) {
	output := analyze(t, `def run(x):
    if x:
        return eval(x)
`, "python")

	issues := output["security_issues"].([]interface{})
	require.NotEmpty(t, issues)
	complexity := output["complexity"].(map[string]interface{})
	assert.Equal(t, false, complexity["ast"])
	assert.NotEmpty(t, output["summary"])
	assert.NotEmpty(t, output["recommendations"])
}

func TestCodeAnalyzer_ScoreClampedAtZero(t *testing.T) {
	code := ""
	for i := 0; i < 10; i++ {
		code += "db.Exec(\"SELECT \" + q)\npassword := \"x\"\neval(input)\n"
	}
	output := analyze(t, code, "ruby")
	assert.GreaterOrEqual(t, output["quality_score"].(int), 0)
	assert.LessOrEqual(t, output["quality_score"].(int), 100)
}
