package agents

import (
	"net/http"

	"github.com/agentflow/agentflow/internal/common/config"
)

// BuiltinDeps carries the external handles the built-in agents need.
type BuiltinDeps struct {
	// HTTPClient is used by the HTTP caller. Nil means a default client.
	HTTPClient *http.Client
	// SMTP provides server defaults for the email sender. Per-node
	// config overrides these.
	SMTP config.SMTPConfig
	// LLM generates text for the LLM agent. Nil disables the agent at
	// execute time with a configuration error.
	LLM LLMClient
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func httpCallerDefinition() Definition {
	return Definition{
		Kind:        "http_caller",
		DisplayName: "HTTP Caller",
		Description: "Calls an HTTP endpoint with retries and optional response post-processing.",
		ConfigSchema: objectSchema(map[string]interface{}{
			"timeout_seconds":     map[string]interface{}{"type": "number", "minimum": 1, "maximum": 300},
			"retries":             map[string]interface{}{"type": "number", "minimum": 0, "maximum": 10},
			"retry_delay_seconds": map[string]interface{}{"type": "number", "minimum": 0},
		}),
		InputSchema: objectSchema(map[string]interface{}{
			"url":     map[string]interface{}{"type": "string", "minLength": 1},
			"method":  map[string]interface{}{"type": "string"},
			"headers": map[string]interface{}{"type": "object"},
			"params":  map[string]interface{}{"type": "object"},
		}, "url"),
		OutputSchema: objectSchema(map[string]interface{}{
			"status_code": map[string]interface{}{"type": "number"},
			"success":     map[string]interface{}{"type": "boolean"},
			"data":        map[string]interface{}{},
		}),
	}
}

func dataProcessorDefinition() Definition {
	return Definition{
		Kind:        "data_processor",
		DisplayName: "Data Processor",
		Description: "Tabular transformations: filter, sort, group, aggregate, join, pivot, clean, sample, statistics.",
		ConfigSchema: objectSchema(map[string]interface{}{
			"max_rows": map[string]interface{}{"type": "number", "minimum": 1},
		}),
		InputSchema: objectSchema(map[string]interface{}{
			"data": map[string]interface{}{},
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{
					"filter", "sort", "group_by", "aggregate", "transform",
					"join", "pivot", "clean", "sample", "statistics",
				},
			},
			"parameters":    map[string]interface{}{"type": "object"},
			"output_format": map[string]interface{}{"type": "string"},
		}, "data", "operation"),
		OutputSchema: objectSchema(map[string]interface{}{
			"result":    map[string]interface{}{},
			"row_count": map[string]interface{}{"type": "number"},
		}),
	}
}

func codeAnalyzerDefinition() Definition {
	return Definition{
		Kind:        "code_analyzer",
		DisplayName: "Code Analyzer",
		Description: "Static quality, security, and complexity analysis of a source snippet.",
		ConfigSchema: objectSchema(map[string]interface{}{
			"language": map[string]interface{}{"type": "string"},
		}),
		InputSchema: objectSchema(map[string]interface{}{
			"code":     map[string]interface{}{"type": "string", "minLength": 1},
			"language": map[string]interface{}{"type": "string"},
		}, "code"),
		OutputSchema: objectSchema(map[string]interface{}{
			"quality_score":   map[string]interface{}{"type": "number"},
			"security_issues": map[string]interface{}{"type": "array"},
			"style_issues":    map[string]interface{}{"type": "array"},
			"complexity":      map[string]interface{}{"type": "object"},
			"summary":         map[string]interface{}{"type": "string"},
			"recommendations": map[string]interface{}{"type": "array"},
		}),
	}
}

func fileHandlerDefinition() Definition {
	return Definition{
		Kind:        "file_handler",
		DisplayName: "File Handler",
		Description: "Filesystem operations: read, write, copy, move, search, compress, extract.",
		ConfigSchema: objectSchema(map[string]interface{}{
			"max_file_size": map[string]interface{}{"type": "number", "minimum": 1},
		}),
		InputSchema: objectSchema(map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{
					"read", "write", "delete", "copy", "move",
					"list", "info", "search", "compress", "extract",
				},
			},
			"path":       map[string]interface{}{"type": "string", "minLength": 1},
			"content":    map[string]interface{}{},
			"parameters": map[string]interface{}{"type": "object"},
		}, "operation", "path"),
		OutputSchema: objectSchema(map[string]interface{}{
			"result": map[string]interface{}{},
		}),
	}
}

func emailSenderDefinition() Definition {
	return Definition{
		Kind:        "email_sender",
		DisplayName: "Email Sender",
		Description: "Sends an email over SMTP with optional HTML body and attachments.",
		ConfigSchema: objectSchema(map[string]interface{}{
			"smtp_host": map[string]interface{}{"type": "string"},
			"smtp_port": map[string]interface{}{"type": "number"},
			"username":  map[string]interface{}{"type": "string"},
			"use_tls":   map[string]interface{}{"type": "boolean"},
			"use_ssl":   map[string]interface{}{"type": "boolean"},
		}),
		InputSchema: objectSchema(map[string]interface{}{
			"to":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"cc":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"bcc":         map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"subject":     map[string]interface{}{"type": "string"},
			"body":        map[string]interface{}{"type": "string"},
			"html_body":   map[string]interface{}{"type": "string"},
			"from":        map[string]interface{}{"type": "string"},
			"attachments": map[string]interface{}{"type": "array"},
		}, "to", "subject"),
		OutputSchema: objectSchema(map[string]interface{}{
			"message_id": map[string]interface{}{"type": "string"},
			"recipients": map[string]interface{}{"type": "array"},
		}),
	}
}

func databaseQueryDefinition() Definition {
	return Definition{
		Kind:        "database_query",
		DisplayName: "Database Query",
		Description: "Runs SQL against sqlite, postgresql, or mysql with named parameters.",
		ConfigSchema: objectSchema(map[string]interface{}{
			"db_type":           map[string]interface{}{"type": "string", "enum": []interface{}{"sqlite", "postgresql", "mysql"}},
			"connection_string": map[string]interface{}{"type": "string"},
		}),
		InputSchema: objectSchema(map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{
					"query", "insert", "update", "delete", "create_table",
					"drop_table", "describe_table", "list_tables", "batch",
					"export_csv", "import_csv",
				},
			},
			"sql":        map[string]interface{}{"type": "string"},
			"params":     map[string]interface{}{"type": "object"},
			"queries":    map[string]interface{}{"type": "array"},
			"table":      map[string]interface{}{"type": "string"},
			"parameters": map[string]interface{}{"type": "object"},
		}, "operation"),
		OutputSchema: objectSchema(map[string]interface{}{
			"rows":          map[string]interface{}{"type": "array"},
			"rows_affected": map[string]interface{}{"type": "number"},
		}),
	}
}

func llmTextDefinition() Definition {
	return Definition{
		Kind:        "llm_text_generator",
		DisplayName: "LLM Text Generator",
		Description: "Renders a prompt template and generates text with the configured model.",
		ConfigSchema: objectSchema(map[string]interface{}{
			"model":          map[string]interface{}{"type": "string"},
			"temperature":    map[string]interface{}{"type": "number", "minimum": 0, "maximum": 2},
			"max_tokens":     map[string]interface{}{"type": "number", "minimum": 1, "maximum": 4000},
			"input_template": map[string]interface{}{"type": "string"},
		}),
		InputSchema: objectSchema(map[string]interface{}{
			"prompt": map[string]interface{}{"type": "string"},
		}),
		OutputSchema: objectSchema(map[string]interface{}{
			"text":  map[string]interface{}{"type": "string"},
			"model": map[string]interface{}{"type": "string"},
		}),
	}
}
