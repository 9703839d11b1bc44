package agents

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) map[string]interface{} {
	t.Helper()
	return map[string]interface{}{
		"db_type":           "sqlite",
		"connection_string": filepath.Join(t.TempDir(), "agent.db"),
	}
}

func runDB(t *testing.T, agent *DatabaseQuery, config, input map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, err := agent.Execute(context.Background(), Invocation{Config: config, Input: input})
	require.NoError(t, err)
	return result.Output.(map[string]interface{})
}

func seedUsersTable(t *testing.T, agent *DatabaseQuery, cfg map[string]interface{}) {
	t.Helper()
	runDB(t, agent, cfg, map[string]interface{}{
		"operation": "create_table",
		"sql":       `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER)`,
	})
	for _, u := range []struct {
		name string
		age  int
	}{{"ada", 36}, {"bob", 29}} {
		runDB(t, agent, cfg, map[string]interface{}{
			"operation": "insert",
			"sql":       `INSERT INTO users (name, age) VALUES (:name, :age)`,
			"params":    map[string]interface{}{"name": u.name, "age": u.age},
		})
	}
}

func TestDatabaseQuery_QueryWithNamedParams(t *testing.T) {
	agent := NewDatabaseQuery()
	defer func() { _ = agent.Close() }()
	cfg := sqliteConfig(t)
	seedUsersTable(t, agent, cfg)

	output := runDB(t, agent, cfg, map[string]interface{}{
		"operation": "query",
		"sql":       `SELECT name, age FROM users WHERE age > :min_age ORDER BY name`,
		"params":    map[string]interface{}{"min_age": 30},
	})
	rows := output["rows"].([]map[string]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0]["name"])
	assert.Equal(t, 1, output["row_count"])
}

func TestDatabaseQuery_UpdateReportsRowsAffected(t *testing.T) {
	agent := NewDatabaseQuery()
	defer func() { _ = agent.Close() }()
	cfg := sqliteConfig(t)
	seedUsersTable(t, agent, cfg)

	output := runDB(t, agent, cfg, map[string]interface{}{
		"operation": "update",
		"sql":       `UPDATE users SET age = age + 1`,
	})
	assert.Equal(t, int64(2), output["rows_affected"])
}

func TestDatabaseQuery_BatchIsAtomic(t *testing.T) {
	agent := NewDatabaseQuery()
	defer func() { _ = agent.Close() }()
	cfg := sqliteConfig(t)
	seedUsersTable(t, agent, cfg)

	// The second statement violates NOT NULL; the first must roll back.
	_, err := agent.Execute(context.Background(), Invocation{
		Config: cfg,
		Input: map[string]interface{}{
			"operation": "batch",
			"queries": []interface{}{
				`INSERT INTO users (name, age) VALUES ('cyd', 41)`,
				map[string]interface{}{
					"sql":    `INSERT INTO users (name, age) VALUES (:name, :age)`,
					"params": map[string]interface{}{"name": nil, "age": 1},
				},
			},
		},
	})
	require.Error(t, err)

	output := runDB(t, agent, cfg, map[string]interface{}{
		"operation": "query",
		"sql":       `SELECT COUNT(*) AS n FROM users`,
	})
	rows := output["rows"].([]map[string]interface{})
	assert.EqualValues(t, 2, rows[0]["n"])
}

func TestDatabaseQuery_BatchCommits(t *testing.T) {
	agent := NewDatabaseQuery()
	defer func() { _ = agent.Close() }()
	cfg := sqliteConfig(t)
	seedUsersTable(t, agent, cfg)

	output := runDB(t, agent, cfg, map[string]interface{}{
		"operation": "batch",
		"queries": []interface{}{
			`INSERT INTO users (name, age) VALUES ('cyd', 41)`,
			`INSERT INTO users (name, age) VALUES ('dee', 23)`,
		},
	})
	assert.Equal(t, int64(2), output["rows_affected"])
	assert.Equal(t, 2, output["statements"])
}

func TestDatabaseQuery_ListAndDescribeTables(t *testing.T) {
	agent := NewDatabaseQuery()
	defer func() { _ = agent.Close() }()
	cfg := sqliteConfig(t)
	seedUsersTable(t, agent, cfg)

	output := runDB(t, agent, cfg, map[string]interface{}{"operation": "list_tables"})
	tables := output["tables"].([]string)
	assert.Contains(t, tables, "users")

	output = runDB(t, agent, cfg, map[string]interface{}{
		"operation": "describe_table",
		"table":     "users",
	})
	columns := output["columns"].([]map[string]interface{})
	require.Len(t, columns, 3)
}

func TestDatabaseQuery_DescribeRejectsBadTableName(t *testing.T) {
	agent := NewDatabaseQuery()
	defer func() { _ = agent.Close() }()

	_, err := agent.Execute(context.Background(), Invocation{
		Config: sqliteConfig(t),
		Input: map[string]interface{}{
			"operation": "describe_table",
			"table":     "users; DROP TABLE users",
		},
	})
	require.Error(t, err)
}

func TestDatabaseQuery_CSVRoundTrip(t *testing.T) {
	agent := NewDatabaseQuery()
	defer func() { _ = agent.Close() }()
	cfg := sqliteConfig(t)
	seedUsersTable(t, agent, cfg)

	csvPath := filepath.Join(t.TempDir(), "users.csv")
	output := runDB(t, agent, cfg, map[string]interface{}{
		"operation":  "export_csv",
		"sql":        `SELECT name, age FROM users ORDER BY name`,
		"parameters": map[string]interface{}{"path": csvPath},
	})
	assert.Equal(t, 2, output["rows_exported"])

	raw, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ada")

	runDB(t, agent, cfg, map[string]interface{}{
		"operation": "create_table",
		"sql":       `CREATE TABLE imported (name TEXT, age INTEGER)`,
	})
	output = runDB(t, agent, cfg, map[string]interface{}{
		"operation":  "import_csv",
		"table":      "imported",
		"parameters": map[string]interface{}{"path": csvPath},
	})
	assert.Equal(t, 2, output["rows_imported"])

	output = runDB(t, agent, cfg, map[string]interface{}{
		"operation": "query",
		"sql":       `SELECT COUNT(*) AS n FROM imported`,
	})
	rows := output["rows"].([]map[string]interface{})
	assert.EqualValues(t, 2, rows[0]["n"])
}

func TestDatabaseQuery_UnsupportedDBType(t *testing.T) {
	agent := NewDatabaseQuery()
	_, err := agent.Execute(context.Background(), Invocation{
		Config: map[string]interface{}{"db_type": "oracle", "connection_string": "x"},
		Input:  map[string]interface{}{"operation": "query", "sql": "SELECT 1"},
	})
	require.Error(t, err)
}

func TestDatabaseQuery_MissingConnectionString(t *testing.T) {
	agent := NewDatabaseQuery()
	_, err := agent.Execute(context.Background(), Invocation{
		Config: map[string]interface{}{"db_type": "sqlite"},
		Input:  map[string]interface{}{"operation": "query", "sql": "SELECT 1"},
	})
	require.Error(t, err)
}
