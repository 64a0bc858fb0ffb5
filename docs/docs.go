// Package docs holds the Swagger document served under /swagger/.
// Regenerate with `swag init -g cmd/vramd/docs.go -o docs` after changing
// handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/chat": {
            "post": {
                "description": "Streams NDJSON StreamPart lines: progress, text, usage and at most one error.",
                "consumes": ["application/json"],
                "produces": ["application/x-ndjson"],
                "tags": ["chat"],
                "summary": "Run a chat turn",
                "parameters": [
                    {
                        "description": "conversation",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.ChatRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StreamPart"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List catalogue models",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "array",
                                "items": {"$ref": "#/definitions/types.ModelEntry"}
                            }
                        }
                    }
                }
            }
        },
        "/prepare": {
            "post": {
                "description": "Unloads every other resident model, then loads the requested one.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["resources"],
                "summary": "Make a model resident on a local backend",
                "parameters": [
                    {
                        "description": "target",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.PrepareRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PrepareResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Arbiter and backend status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        },
        "/unload": {
            "post": {
                "produces": ["application/json"],
                "tags": ["resources"],
                "summary": "Unload every resident model on every local backend",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.UnloadResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.BackendStatus": {
            "type": "object",
            "properties": {
                "base_url": {"type": "string", "example": "http://127.0.0.1:11434"},
                "error": {"type": "string"},
                "kind": {"type": "string", "example": "ollama"},
                "reachable": {"type": "boolean"},
                "resident": {"type": "array", "items": {"$ref": "#/definitions/types.ResidentStatus"}}
            }
        },
        "types.ChatRequest": {
            "type": "object",
            "properties": {
                "context_window": {"type": "integer", "example": 8192},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/types.Message"}},
                "model": {"type": "string", "example": "llama3.1:8b"},
                "provider": {"type": "string", "example": "Ollama"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 400},
                "error": {"type": "string", "example": "invalid JSON body"}
            }
        },
        "types.Message": {
            "type": "object",
            "properties": {
                "content": {"type": "string", "example": "Write a haiku about the ocean."},
                "role": {"type": "string", "example": "user"}
            }
        },
        "types.ModelEntry": {
            "type": "object",
            "properties": {
                "context_window": {"type": "integer", "example": 8192},
                "model": {"type": "string", "example": "llama3.1:8b"},
                "provider": {"type": "string", "example": "Ollama"}
            }
        },
        "types.PrepareRequest": {
            "type": "object",
            "properties": {
                "model": {"type": "string", "example": "llama3.1:8b"},
                "provider": {"type": "string", "example": "Ollama"}
            }
        },
        "types.PrepareResponse": {
            "type": "object",
            "properties": {
                "model": {"type": "string", "example": "llama3.1:8b"},
                "provider": {"type": "string", "example": "ollama"}
            }
        },
        "types.ProgressEvent": {
            "type": "object",
            "properties": {
                "label": {"type": "string", "example": "resource"},
                "message": {"type": "string", "example": "Loading llama3.1:8b on ollama"},
                "order": {"type": "integer", "example": 1},
                "status": {"type": "string", "example": "in-progress"}
            }
        },
        "types.ResidentStatus": {
            "type": "object",
            "properties": {
                "context_length": {"type": "integer", "example": 8192},
                "instance_id": {"type": "string"},
                "model": {"type": "string", "example": "llama3.1:8b"},
                "size_bytes": {"type": "integer", "example": 4920000000}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "active_model": {"type": "string", "example": "llama3.1:8b"},
                "active_provider": {"type": "string", "example": "ollama"},
                "backends": {"type": "array", "items": {"$ref": "#/definitions/types.BackendStatus"}},
                "locked": {"type": "boolean"},
                "uptime_seconds": {"type": "integer", "example": 3600},
                "waiting": {"type": "integer"}
            }
        },
        "types.StreamPart": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "error": {"type": "string"},
                "progress": {"$ref": "#/definitions/types.ProgressEvent"},
                "session": {"type": "string"},
                "text": {"type": "string"},
                "type": {"type": "string"},
                "usage": {"$ref": "#/definitions/types.Usage"}
            }
        },
        "types.UnloadResponse": {
            "type": "object",
            "properties": {
                "freed": {"type": "integer", "example": 1}
            }
        },
        "types.Usage": {
            "type": "object",
            "properties": {
                "completion_tokens": {"type": "integer"},
                "prompt_tokens": {"type": "integer"},
                "total_tokens": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "vramd API",
	Description:      "GPU residency arbiter and chat session controller for local LLM runtimes.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
