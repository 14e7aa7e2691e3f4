// Package docs registers the OpenAPI description served at /docs.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Viewcount Tracker"
        },
        "license": {
            "name": "MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/runs": {
            "post": {
                "description": "Fetches current view counts for the target videos, records samples and milestone news, and inserts newly seen videos. The body is optional; without it the configured targets are used.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Trigger a run",
                "parameters": [
                    {
                        "description": "Video ids overriding the configured targets",
                        "name": "request",
                        "in": "body",
                        "schema": {"$ref": "#/definitions/handler.RunRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.RunResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handler.RunResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/handler.RunResponse"}}
                }
            }
        },
        "/videos": {
            "get": {
                "description": "Returns every tracked video with its next milestone, ordered by video id. Supports ETag revalidation.",
                "produces": ["application/json"],
                "tags": ["videos"],
                "summary": "List tracked videos",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/handler.VideoResponse"}}},
                    "304": {"description": "Not Modified"},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/videos/{docID}/history": {
            "get": {
                "description": "Returns the view-count samples of one video created in [from, to), oldest first. Defaults to the last 7 days.",
                "produces": ["application/json"],
                "tags": ["videos"],
                "summary": "Get view history",
                "parameters": [
                    {"type": "string", "description": "Video document id", "name": "docID", "in": "path", "required": true},
                    {"type": "string", "description": "Range start (RFC 3339)", "name": "from", "in": "query"},
                    {"type": "string", "description": "Range end (RFC 3339)", "name": "to", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/handler.HistoryResponse"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/videos/{docID}/news": {
            "get": {
                "description": "Returns the milestone notifications recorded for one video, newest first.",
                "produces": ["application/json"],
                "tags": ["videos"],
                "summary": "Get video news",
                "parameters": [
                    {"type": "string", "description": "Video document id", "name": "docID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/news.News"}}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.RunRequest": {
            "type": "object",
            "properties": {
                "videoIds": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handler.RunErrorBody": {
            "type": "object",
            "properties": {
                "phase": {"type": "string"},
                "message": {"type": "string"},
                "videoIds": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handler.RunResponse": {
            "type": "object",
            "properties": {
                "processed": {"type": "object", "additionalProperties": {"type": "string"}},
                "inserted": {"type": "array", "items": {"type": "string"}},
                "missingHistory": {"type": "array", "items": {"type": "string"}},
                "skipped": {"type": "array", "items": {"type": "string"}},
                "samples": {"type": "integer"},
                "durationMs": {"type": "integer"},
                "summary": {"type": "string"},
                "error": {"$ref": "#/definitions/handler.RunErrorBody"}
            }
        },
        "handler.VideoResponse": {
            "type": "object",
            "properties": {
                "docId": {"type": "string"},
                "videoId": {"type": "string"},
                "title": {"type": "string"},
                "channelId": {"type": "string"},
                "publishedAt": {"type": "string"},
                "milestone": {"type": "integer"},
                "updated": {"type": "string"}
            }
        },
        "handler.HistoryResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "viewCount": {"type": "integer"},
                "created": {"type": "string"}
            }
        },
        "news.News": {
            "type": "object",
            "properties": {
                "videoId": {"type": "string"},
                "videoTitle": {"type": "string"},
                "category": {"type": "string", "enum": ["VIEW_COUNT_REACHED", "VIEW_COUNT_APPROACH"]},
                "properties": {
                    "type": "object",
                    "properties": {
                        "viewCount": {"type": "integer"},
                        "milestone": {"type": "integer"}
                    }
                },
                "created": {"type": "string"}
            }
        },
        "respond.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "code": {"type": "string"},
                        "message": {"type": "string"},
                        "detail": {"type": "string"}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "View Count Tracker API",
	Description:      "Tracks YouTube view counts, records a history sample per run, and emits milestone news.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
