// Package docs registers the Swagger document of the portsweep API.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "description": "REST API for queuing TCP connect port sweeps and polling their results.",
    "title": "portsweep API",
    "license": {
      "name": "MIT",
      "url": "https://opensource.org/licenses/MIT"
    },
    "version": "1.0"
  },
  "basePath": "/api/v1",
  "schemes": ["http"],
  "securityDefinitions": {
    "ApiKeyAuth": {
      "type": "apiKey",
      "in": "header",
      "name": "Authorization",
      "description": "Bearer <API_KEY>"
    }
  },
  "paths": {
    "/scans": {
      "post": {
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "summary": "Create a new port sweep",
        "tags": ["Scans"],
        "security": [{"ApiKeyAuth": []}],
        "parameters": [
          {
            "description": "Scan request parameters",
            "name": "scanRequest",
            "in": "body",
            "required": true,
            "schema": {"$ref": "#/definitions/CreateScanRequest"}
          }
        ],
        "responses": {
          "202": {"description": "Scan accepted", "schema": {"$ref": "#/definitions/ScanAcceptedResponse"}},
          "400": {"description": "Invalid request payload", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "429": {"description": "Scan submission quota exceeded", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/ErrorResponse"}}
        }
      }
    },
    "/scans/{id}": {
      "get": {
        "produces": ["application/json"],
        "summary": "Get sweep status and results",
        "tags": ["Scans"],
        "security": [{"ApiKeyAuth": []}],
        "parameters": [
          {"type": "string", "description": "Scan Task ID (UUID v4)", "name": "id", "in": "path", "required": true}
        ],
        "responses": {
          "200": {"description": "Current task snapshot", "schema": {"$ref": "#/definitions/ScanTask"}},
          "400": {"description": "Malformed task identifier", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "404": {"description": "Task not found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
        }
      },
      "delete": {
        "produces": ["application/json"],
        "summary": "Cancel a sweep",
        "tags": ["Scans"],
        "security": [{"ApiKeyAuth": []}],
        "parameters": [
          {"type": "string", "description": "Scan Task ID (UUID v4)", "name": "id", "in": "path", "required": true}
        ],
        "responses": {
          "202": {"description": "Cancellation requested", "schema": {"$ref": "#/definitions/ScanAcceptedResponse"}},
          "404": {"description": "Task not found", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "409": {"description": "Task already finished", "schema": {"$ref": "#/definitions/ErrorResponse"}}
        }
      }
    }
  },
  "definitions": {
    "CreateScanRequest": {
      "type": "object",
      "required": ["host"],
      "properties": {
        "host": {"type": "string", "example": "scanme.nmap.org"},
        "ports": {"type": "string", "example": "1-1024"},
        "timeout_ms": {"type": "integer", "minimum": 1, "maximum": 60000, "example": 1000},
        "workers": {"type": "integer", "minimum": 1, "maximum": 5000, "example": 500},
        "report_errors": {"type": "boolean"}
      }
    },
    "ScanAcceptedResponse": {
      "type": "object",
      "properties": {
        "id": {"type": "string", "format": "uuid"},
        "status": {"type": "string", "example": "pending"}
      }
    },
    "ErrorResponse": {
      "type": "object",
      "properties": {
        "error": {"type": "string", "example": "task not found"}
      }
    },
    "Outcome": {
      "type": "object",
      "properties": {
        "port": {"type": "integer", "example": 22},
        "status": {"type": "string", "enum": ["Open", "Closed", "Timeout", "Error"]},
        "reason": {"type": "string"}
      }
    },
    "ScanTask": {
      "type": "object",
      "properties": {
        "id": {"type": "string", "format": "uuid"},
        "status": {"type": "string", "enum": ["pending", "running", "completed", "failed", "canceled"]},
        "host": {"type": "string"},
        "ports": {"type": "string", "example": "1-65535"},
        "timeout_ms": {"type": "integer"},
        "workers": {"type": "integer"},
        "report_errors": {"type": "boolean"},
        "progress": {
          "type": "object",
          "properties": {
            "delivered": {"type": "integer"},
            "total": {"type": "integer"}
          }
        },
        "summary": {
          "type": "object",
          "properties": {
            "open": {"type": "integer"},
            "closed": {"type": "integer"},
            "timeout": {"type": "integer"},
            "error": {"type": "integer"}
          }
        },
        "results": {"type": "array", "items": {"$ref": "#/definitions/Outcome"}},
        "created_at": {"type": "string", "format": "date-time"},
        "started_at": {"type": "string", "format": "date-time"},
        "completed_at": {"type": "string", "format": "date-time"},
        "error": {"type": "string"}
      }
    }
  }
}
`

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

type swaggerDoc struct{}

func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}
