// Package docs は /docs で配信する OpenAPI (Swagger 2.0) 定義。
package docs

import (
	"github.com/gin-gonic/gin"
	"github.com/swaggo/swag"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "ApiKey": {"type": "apiKey", "in": "header", "name": "X-API-Key"},
        "Bearer": {"type": "apiKey", "in": "header", "name": "Authorization"}
    },
    "security": [{"ApiKey": []}, {"Bearer": []}],
    "paths": {
        "/imposition/labels": {
            "post": {
                "summary": "ラベル面付け (本番 PDF と校正 PDF)",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/ImposeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ImposeResponse"}},
                    "400": {"description": "INVALID_ARGUMENT / INVALID_DIELINE", "schema": {"$ref": "#/definitions/Error"}},
                    "502": {"description": "ARTWORK_FETCH_FAILED / STORAGE_UPLOAD_FAILED", "schema": {"$ref": "#/definitions/Error"}},
                    "503": {"description": "CAPACITY_REJECTED (Retry-After 付き)", "schema": {"$ref": "#/definitions/Error"}},
                    "504": {"description": "JOB_TIMEOUT", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/imposition/labels/plan": {
            "get": {
                "summary": "フレーム計画のみ計算する",
                "produces": ["application/json"],
                "parameters": [
                    {"in": "query", "name": "roll_width_mm", "type": "number", "required": true},
                    {"in": "query", "name": "label_width_mm", "type": "number", "required": true},
                    {"in": "query", "name": "label_height_mm", "type": "number", "required": true},
                    {"in": "query", "name": "columns_across", "type": "integer", "required": true},
                    {"in": "query", "name": "rows_around", "type": "integer", "required": true},
                    {"in": "query", "name": "horizontal_gap_mm", "type": "number"},
                    {"in": "query", "name": "vertical_gap_mm", "type": "number"},
                    {"in": "query", "name": "corner_radius_mm", "type": "number"},
                    {"in": "query", "name": "meters", "type": "number", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/PlanResponse"}},
                    "400": {"description": "INVALID_ARGUMENT / INVALID_DIELINE", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/imposition/jobs": {
            "get": {
                "summary": "ジョブ台帳の一覧 (DB 有効時のみ)",
                "parameters": [
                    {"in": "query", "name": "status", "type": "string", "enum": ["running", "succeeded", "failed"]},
                    {"in": "query", "name": "from", "type": "string", "format": "date-time"},
                    {"in": "query", "name": "to", "type": "string", "format": "date-time"},
                    {"in": "query", "name": "limit", "type": "integer"},
                    {"in": "query", "name": "offset", "type": "integer"},
                    {"in": "query", "name": "order", "type": "string", "enum": ["asc", "desc"]}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/imposition/jobs/{job_ulid}": {
            "get": {
                "summary": "ジョブ 1 件",
                "parameters": [{"in": "path", "name": "job_ulid", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "NOT_FOUND"}}
            }
        },
        "/imposition/jobs.csv": {
            "get": {
                "summary": "ジョブ台帳の CSV (既定 cp932)",
                "produces": ["text/csv"],
                "parameters": [{"in": "query", "name": "encoding", "type": "string", "enum": ["cp932", "utf8"]}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/healthz": {"get": {"summary": "死活確認", "security": [], "responses": {"200": {"description": "ok"}}}},
        "/health": {"get": {"summary": "死活確認 (JSON)", "security": [], "responses": {"200": {"description": "OK"}}}},
        "/admin/status": {
            "get": {
                "summary": "実行枠とプロセス状態",
                "security": [],
                "parameters": [{"in": "query", "name": "key", "type": "string"}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}, "404": {"description": "admin key 未設定"}}
            }
        }
    },
    "definitions": {
        "Dieline": {
            "type": "object",
            "required": ["roll_width_mm", "label_width_mm", "label_height_mm", "columns_across", "rows_around"],
            "properties": {
                "roll_width_mm": {"type": "number"},
                "label_width_mm": {"type": "number"},
                "label_height_mm": {"type": "number"},
                "columns_across": {"type": "integer"},
                "rows_around": {"type": "integer"},
                "horizontal_gap_mm": {"type": "number"},
                "vertical_gap_mm": {"type": "number"},
                "corner_radius_mm": {"type": "number"}
            }
        },
        "SlotRequest": {
            "type": "object",
            "properties": {
                "slot": {"type": "integer"},
                "item_id": {"type": "string"},
                "pdf_reference": {"type": "string"},
                "rotation": {"type": "integer", "enum": [0, 90, 180, 270]},
                "needs_rotation": {"type": "boolean"}
            }
        },
        "UploadTargets": {
            "type": "object",
            "properties": {
                "production_url": {"type": "string"},
                "proof_url": {"type": "string"}
            }
        },
        "ImposeRequest": {
            "type": "object",
            "properties": {
                "dieline": {"$ref": "#/definitions/Dieline"},
                "slots": {"type": "array", "items": {"$ref": "#/definitions/SlotRequest"}},
                "meters": {"type": "number"},
                "include_dielines": {"type": "boolean"},
                "upload_targets": {"$ref": "#/definitions/UploadTargets"}
            }
        },
        "ImposeResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "job_id": {"type": "string"},
                "frame_count": {"type": "integer"},
                "total_meters": {"type": "number"},
                "frame_width_mm": {"type": "number"},
                "frame_height_mm": {"type": "number"},
                "proof_generated": {"type": "boolean"},
                "production_payload": {"type": "string", "format": "byte"},
                "proof_payload": {"type": "string", "format": "byte"},
                "production_url": {"type": "string"},
                "proof_url": {"type": "string"},
                "warnings": {"type": "array", "items": {"type": "string"}}
            }
        },
        "PlanResponse": {
            "type": "object",
            "properties": {
                "frame_width_mm": {"type": "number"},
                "frame_height_mm": {"type": "number"},
                "frame_width_pt": {"type": "number"},
                "frame_height_pt": {"type": "number"},
                "frame_count": {"type": "integer"},
                "total_meters": {"type": "number"},
                "cells": {"type": "array", "items": {"type": "object"}},
                "warnings": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Error": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "code": {"type": "string"},
                        "message": {"type": "string"}
                    }
                }
            }
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "PRISM Label Imposition API",
	Description:      "ラベル面付け PDF の生成と実行枠の管理",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// RegisterRoutes: GET /docs/index.html で Swagger UI
func RegisterRoutes(r gin.IRoutes, version string) {
	SwaggerInfo.Version = version
	r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
