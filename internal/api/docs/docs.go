// Package docs registers the OpenAPI description of the archive query API.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/statistics": {
            "get": {
                "produces": ["application/json"],
                "tags": ["archive"],
                "summary": "Archive statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.ArchiveStats"}},
                    "500": {"description": "Internal Server Error"}
                }
            }
        },
        "/runs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["archive"],
                "summary": "List archived runs",
                "description": "Latest entry per identity key, newest first",
                "parameters": [
                    {"type": "string", "description": "Run version substring", "name": "run_version", "in": "query"},
                    {"type": "string", "description": "User name", "name": "user", "in": "query"},
                    {"type": "string", "description": "Workspace base directory", "name": "base_dir", "in": "query"},
                    {"type": "string", "description": "Earliest archive time (RFC 3339 or date)", "name": "date_from", "in": "query"},
                    {"type": "string", "description": "Latest archive time (RFC 3339 or date)", "name": "date_to", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.ArchiveEntry"}}},
                    "400": {"description": "Bad Request"},
                    "500": {"description": "Internal Server Error"}
                }
            }
        },
        "/runs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["archive"],
                "summary": "Get an archived run",
                "parameters": [
                    {"type": "integer", "description": "Archive entry ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/runs/{id}/keywords": {
            "get": {
                "produces": ["application/json"],
                "tags": ["archive"],
                "summary": "Grouped metrics of an archived run",
                "parameters": [
                    {"type": "integer", "description": "Archive entry ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/keywords": {
            "get": {
                "produces": ["application/json"],
                "tags": ["keywords"],
                "summary": "Metric rows across the archive",
                "parameters": [
                    {"type": "string", "description": "Metric name", "name": "name", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.KeywordRow"}}},
                    "500": {"description": "Internal Server Error"}
                }
            }
        },
        "/keywords/summary": {
            "get": {
                "produces": ["application/json"],
                "tags": ["keywords"],
                "summary": "Per-metric occurrence summary",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.KeywordSummary"}}},
                    "500": {"description": "Internal Server Error"}
                }
            }
        },
        "/export/csv": {
            "get": {
                "produces": ["text/csv"],
                "tags": ["archive"],
                "summary": "Export the latest runs as CSV",
                "responses": {
                    "200": {"description": "OK"},
                    "500": {"description": "Internal Server Error"}
                }
            }
        },
        "/repair": {
            "post": {
                "produces": ["application/json"],
                "tags": ["archive"],
                "summary": "Index data files missing from the archive index",
                "responses": {
                    "200": {"description": "OK"},
                    "500": {"description": "Internal Server Error"}
                }
            }
        }
    },
    "definitions": {
        "model.ArchiveStats": {
            "type": "object",
            "properties": {
                "total_entries": {"type": "integer"},
                "unique_executions": {"type": "integer"},
                "total_tasks": {"type": "integer"},
                "total_keywords": {"type": "integer"},
                "recent_entries": {"type": "integer"},
                "average_completion_rate": {"type": "number"},
                "archive_size_bytes": {"type": "integer"},
                "archive_size_mb": {"type": "number"},
                "oldest": {"type": "string"},
                "newest": {"type": "string"}
            }
        },
        "model.ArchiveEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "run_version": {"type": "string"},
                "base_dir": {"type": "string"},
                "top_name": {"type": "string"},
                "user_name": {"type": "string"},
                "block_name": {"type": "string"},
                "dk_ver_tag": {"type": "string"},
                "full_path": {"type": "string"},
                "archive_timestamp": {"type": "string"},
                "data_file": {"type": "string"},
                "data_hash": {"type": "string"},
                "file_size": {"type": "integer"},
                "job_count": {"type": "integer"},
                "task_count": {"type": "integer"},
                "keyword_count": {"type": "integer"},
                "completion_rate": {"type": "number"}
            }
        },
        "model.KeywordRow": {
            "type": "object",
            "properties": {
                "archive_entry_id": {"type": "integer"},
                "run_version": {"type": "string"},
                "user_name": {"type": "string"},
                "block_name": {"type": "string"},
                "dk_ver_tag": {"type": "string"},
                "archive_timestamp": {"type": "string"},
                "job_name": {"type": "string"},
                "task_name": {"type": "string"},
                "keyword_name": {"type": "string"},
                "keyword_value": {"type": "string"},
                "keyword_unit": {"type": "string"},
                "source_file": {"type": "string"}
            }
        },
        "model.KeywordSummary": {
            "type": "object",
            "properties": {
                "keyword_name": {"type": "string"},
                "count": {"type": "integer"},
                "tasks": {"type": "array", "items": {"type": "string"}},
                "runs": {"type": "array", "items": {"type": "string"}},
                "units": {"type": "array", "items": {"type": "string"}},
                "sample_values": {"type": "array", "items": {"type": "string"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Hawkeye Archive API",
	Description:      "Query archived chip-design run metrics.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
