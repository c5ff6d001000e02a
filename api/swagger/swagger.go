package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Ludo Moderation API",
        "description": "Moderation and coin settlement service for payment and withdrawal requests",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Moderation", "description": "Request submission and operator decisions"},
        {"name": "Settlement", "description": "Ledger settlement reconciliation"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Database unavailable"}
                }
            }
        },
        "/api/v1/moderation/requests": {
            "get": {
                "tags": ["Moderation"],
                "summary": "List requests with filters",
                "parameters": [
                    {"name": "kind", "in": "query", "type": "string", "enum": ["PAYMENT", "WITHDRAWAL"]},
                    {"name": "status", "in": "query", "type": "string", "description": "Comma-separated statuses"},
                    {"name": "userId", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Moderation"],
                "summary": "Submit a payment or withdrawal request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitRequestRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/moderation/requests/pending": {
            "get": {
                "tags": ["Moderation"],
                "summary": "List pending requests, oldest first",
                "parameters": [
                    {"name": "kind", "in": "query", "type": "string", "enum": ["PAYMENT", "WITHDRAWAL"]},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/moderation/requests/needs-review": {
            "get": {
                "tags": ["Settlement"],
                "summary": "List approved payments requiring manual settlement review",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/moderation/requests/export": {
            "get": {
                "tags": ["Moderation"],
                "summary": "Export request history as CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "required": true, "enum": ["csv", "pdf"]},
                    {"name": "kind", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "userId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Rendered document"},
                    "404": {"description": "Exports disabled"}
                }
            }
        },
        "/api/v1/moderation/requests/{id}": {
            "get": {
                "tags": ["Moderation"],
                "summary": "Get a request by id",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/moderation/requests/{id}/audit": {
            "get": {
                "tags": ["Moderation"],
                "summary": "List audit entries for a request",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/moderation/requests/{id}/decide": {
            "post": {
                "tags": ["Moderation"],
                "summary": "Approve or reject a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "X-Operator-ID", "in": "header", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecideRequest"}}
                ],
                "responses": {
                    "200": {"description": "Decision applied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Approved, settlement pending", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already decided or invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Ledger rejected the credit", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/moderation/sweep": {
            "post": {
                "tags": ["Settlement"],
                "summary": "Trigger a reconciliation sweep pass",
                "responses": {
                    "200": {"description": "Sweep report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "SubmitRequestRequest": {
            "type": "object",
            "required": ["kind", "userId", "amount"],
            "properties": {
                "kind": {"type": "string", "enum": ["PAYMENT", "WITHDRAWAL"]},
                "userId": {"type": "string"},
                "amount": {"type": "integer"},
                "transactionId": {"type": "string"},
                "screenshotUrl": {"type": "string"},
                "method": {"type": "string"}
            }
        },
        "DecideRequest": {
            "type": "object",
            "required": ["outcome"],
            "properties": {
                "outcome": {"type": "string", "enum": ["approve", "reject"]}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "pageSize": {"type": "integer"},
                "totalCount": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
