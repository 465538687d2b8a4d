// Package docs holds the OpenAPI description served by the swagger build.
// Regenerate with `swag init -g cmd/handscribe/docs.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/transcribe": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json", "text/markdown"],
                "summary": "Transcribe a handwritten image to markdown",
                "parameters": [
                    {"type": "file", "name": "file", "in": "formData", "required": true, "description": "Image (png, jpg, bmp, tiff, gif, webp)"},
                    {"type": "string", "name": "format", "in": "query", "enum": ["md"], "description": "Return text/markdown as an attachment"},
                    {"type": "string", "name": "log", "in": "query", "enum": ["off", "error", "info", "debug"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.TranscribeResponse"}},
                    "400": {"description": "Invalid image", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Upload too large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Not multipart", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too busy", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Transcription failed", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Model failed to load", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Deadline exceeded", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/models": {
            "get": {
                "produces": ["application/json"],
                "summary": "List cached weight files",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Service status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        },
        "/healthz": {"get": {"summary": "Liveness", "responses": {"200": {"description": "ok"}}}},
        "/readyz": {"get": {"summary": "Readiness", "responses": {"200": {"description": "ready"}, "503": {"description": "loading"}}}}
    },
    "definitions": {
        "types.TranscribeResponse": {
            "type": "object",
            "properties": {
                "markdown": {"type": "string"},
                "id": {"type": "string"},
                "elapsed_seconds": {"type": "number"},
                "new_tokens": {"type": "integer"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "integer"},
                "kind": {"type": "string"}
            }
        },
        "types.Model": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "path": {"type": "string"},
                "repo": {"type": "string"},
                "role": {"type": "string"},
                "precision": {"type": "string"},
                "size_bytes": {"type": "integer"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {"models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}}
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "repo": {"type": "string"},
                "model": {"type": "string"},
                "projector": {"type": "string"},
                "precision": {"type": "string"},
                "transfer": {"type": "string"},
                "load_seconds": {"type": "number"},
                "last_error": {"type": "string"},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"}
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
	Title:            "handscribe API",
	Description:      "Handwritten image to markdown transcription.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
