package agents

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"
	"time"
)

// CodeAnalyzer performs static quality, security, and complexity
// analysis of a source snippet. Go code gets a real AST pass; other
// languages are analyzed with pattern matching.
type CodeAnalyzer struct{}

func NewCodeAnalyzer() *CodeAnalyzer { return &CodeAnalyzer{} }

func (a *CodeAnalyzer) Kind() string { return "code_analyzer" }

// Issue is one finding, security or style.
type Issue struct {
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type securityPattern struct {
	re       *regexp.Regexp
	severity string
	message  string
}

var securityPatterns = []securityPattern{
	{regexp.MustCompile(`(?i)(execute|query|exec)\s*\(\s*["'].*["']\s*[+%]`), "critical", "possible SQL injection via string interpolation"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd|secret|api_key|apikey)\s*[:=]\s*["'][^"']+["']`), "high", "hardcoded credential literal"},
	{regexp.MustCompile(`\beval\s*\(`), "high", "dynamic code evaluation"},
	{regexp.MustCompile(`(?i)\b(md5|sha1)\s*\(`), "medium", "weak hash algorithm"},
	{regexp.MustCompile(`(?i)verify\s*[:=]\s*false`), "medium", "TLS verification disabled"},
}

type stylePattern struct {
	re       *regexp.Regexp
	severity string
	message  string
}

var jsStylePatterns = []stylePattern{
	{regexp.MustCompile(`\bvar\s+\w+`), "medium", "use let or const instead of var"},
	{regexp.MustCompile(`console\.log\s*\(`), "low", "console.log left in code"},
	{regexp.MustCompile(`==[^=]`), "low", "loose equality, prefer ==="},
}

var genericStylePatterns = []stylePattern{
	{regexp.MustCompile(`\t `), "low", "mixed tabs and spaces"},
	{regexp.MustCompile(`(?i)\bTODO\b|\bFIXME\b`), "low", "unresolved TODO/FIXME marker"},
}

const maxLineLength = 120

func (a *CodeAnalyzer) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	started := time.Now().UTC()

	code := stringParam(inv.Input, "code", "")
	language := strings.ToLower(stringParam(inv.Input, "language",
		stringParam(inv.Config, "language", "go")))

	security := findSecurityIssues(code)
	style := findStyleIssues(code, language)

	var complexity map[string]interface{}
	if language == "go" {
		if c, err := analyzeGoAST(code); err == nil {
			complexity = c
		} else {
			complexity = analyzeGeneric(code)
			complexity["parse_error"] = err.Error()
		}
	} else {
		complexity = analyzeGeneric(code)
	}

	cyclomatic := intParam(complexity, "cyclomatic_complexity", 1)
	score := qualityScore(security, style, cyclomatic)

	output := map[string]interface{}{
		"quality_score":   score,
		"security_issues": issueList(security),
		"style_issues":    issueList(style),
		"complexity":      complexity,
		"summary": fmt.Sprintf("quality %d/100, %d security issue(s), %d style issue(s), cyclomatic complexity %d",
			score, len(security), len(style), cyclomatic),
		"recommendations": recommendations(security, style, cyclomatic),
	}

	return &Result{
		Output:   output,
		Metadata: Metadata{StartedAt: started, CompletedAt: time.Now().UTC()},
	}, nil
}

func findSecurityIssues(code string) []Issue {
	var issues []Issue
	for i, line := range strings.Split(code, "\n") {
		for _, p := range securityPatterns {
			if p.re.MatchString(line) {
				issues = append(issues, Issue{Line: i + 1, Severity: p.severity, Message: p.message})
			}
		}
	}
	return issues
}

func findStyleIssues(code, language string) []Issue {
	patterns := genericStylePatterns
	if language == "javascript" || language == "typescript" {
		patterns = append(jsStylePatterns, genericStylePatterns...)
	}

	var issues []Issue
	for i, line := range strings.Split(code, "\n") {
		if len(line) > maxLineLength {
			issues = append(issues, Issue{Line: i + 1, Severity: "low", Message: "line exceeds 120 characters"})
		}
		for _, p := range patterns {
			if p.re.MatchString(line) {
				issues = append(issues, Issue{Line: i + 1, Severity: p.severity, Message: p.message})
			}
		}
	}
	return issues
}

// analyzeGoAST walks the parsed file counting decision points, function
// and type declarations, and block nesting. Cyclomatic complexity is
// 1 + decision points.
func analyzeGoAST(code string) (map[string]interface{}, error) {
	src := code
	if !strings.Contains(code, "package ") {
		src = "package snippet\n\n" + code
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", src, 0)
	if err != nil {
		return nil, err
	}

	decisions := 0
	functions := 0
	types := 0
	maxNesting := 0

	ast.Inspect(file, func(node ast.Node) bool {
		switch v := node.(type) {
		case *ast.IfStmt, *ast.ForStmt, *ast.RangeStmt, *ast.CaseClause, *ast.CommClause, *ast.SelectStmt:
			decisions++
		case *ast.FuncDecl:
			functions++
		case *ast.TypeSpec:
			types++
		case *ast.BlockStmt:
			if d := nestingDepth(v, 1); d > maxNesting {
				maxNesting = d
			}
		}
		return true
	})

	return map[string]interface{}{
		"cyclomatic_complexity": 1 + decisions,
		"functions":             functions,
		"types":                 types,
		"max_nesting":           maxNesting,
		"lines":                 len(strings.Split(code, "\n")),
		"ast":                   true,
	}, nil
}

func nestingDepth(block *ast.BlockStmt, depth int) int {
	max := depth
	for _, stmt := range block.List {
		var inner *ast.BlockStmt
		switch s := stmt.(type) {
		case *ast.IfStmt:
			inner = s.Body
		case *ast.ForStmt:
			inner = s.Body
		case *ast.RangeStmt:
			inner = s.Body
		case *ast.BlockStmt:
			inner = s
		}
		if inner != nil {
			if d := nestingDepth(inner, depth+1); d > max {
				max = d
			}
		}
	}
	return max
}

var decisionKeywords = regexp.MustCompile(`\b(if|for|while|case|elif|else if|catch|except|and|or|&&|\|\|)\b`)

// analyzeGeneric counts decision keywords for languages without an AST
// path.
func analyzeGeneric(code string) map[string]interface{} {
	decisions := len(decisionKeywords.FindAllString(code, -1))
	maxNesting := 0
	depth := 0
	for _, r := range code {
		switch r {
		case '{':
			depth++
			if depth > maxNesting {
				maxNesting = depth
			}
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return map[string]interface{}{
		"cyclomatic_complexity": 1 + decisions,
		"max_nesting":           maxNesting,
		"lines":                 len(strings.Split(code, "\n")),
		"ast":                   false,
	}
}

// qualityScore starts at 100 and subtracts per-issue penalties, then a
// cyclomatic surcharge, clamped to [0,100].
func qualityScore(security, style []Issue, cyclomatic int) int {
	score := 100
	for _, s := range security {
		switch s.Severity {
		case "critical":
			score -= 20
		case "high":
			score -= 10
		case "medium":
			score -= 5
		default:
			score -= 2
		}
	}
	for _, s := range style {
		switch s.Severity {
		case "high":
			score -= 5
		case "medium":
			score -= 3
		case "low":
			score -= 1
		}
	}
	switch {
	case cyclomatic > 20:
		score -= 15
	case cyclomatic > 10:
		score -= 10
	case cyclomatic > 5:
		score -= 5
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func recommendations(security, style []Issue, cyclomatic int) []string {
	var recs []string
	for _, s := range security {
		if s.Severity == "critical" || s.Severity == "high" {
			recs = append(recs, fmt.Sprintf("line %d: %s", s.Line, s.Message))
		}
	}
	if cyclomatic > 10 {
		recs = append(recs, "reduce cyclomatic complexity by extracting functions")
	}
	if len(style) > 5 {
		recs = append(recs, "run a formatter and linter to clear style issues")
	}
	if len(recs) == 0 {
		recs = append(recs, "no major issues found")
	}
	return recs
}

func issueList(issues []Issue) []interface{} {
	out := make([]interface{}, len(issues))
	for i, issue := range issues {
		out[i] = map[string]interface{}{
			"line":     issue.Line,
			"severity": issue.Severity,
			"message":  issue.Message,
		}
	}
	return out
}
