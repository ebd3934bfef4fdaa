package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "BaseCRM API",
        "description": "Authentication and user management backend for BaseCRM",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {"name": "Authentication", "description": "Login, refresh and logout"},
        {"name": "Account", "description": "Registration, confirmation and password reset"},
        {"name": "MFA", "description": "Multi-factor enrollment, verification and trusted devices"},
        {"name": "Users", "description": "User directory and export"},
        {"name": "System", "description": "Health and metrics"}
    ],
    "paths": {
        "/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/refreshtoken": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Exchange the refresh cookie for a new access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Missing, expired or revoked refresh token"}
                }
            }
        },
        "/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke the refresh cookie",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/forgotpassword": {
            "post": {
                "tags": ["Account"],
                "summary": "Request password reset",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EmailRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/resetpassword": {
            "post": {
                "tags": ["Account"],
                "summary": "Reset password with the emailed code",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ResetPasswordRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Invalid or expired reset code, or password policy violation"}
                }
            }
        },
        "/confirmemail": {
            "post": {
                "tags": ["Account"],
                "summary": "Confirm email address",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConfirmEmailRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Invalid or expired confirmation token"}
                }
            }
        },
        "/resendconfirmationemail": {
            "post": {
                "tags": ["Account"],
                "summary": "Resend confirmation email",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "userId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "User not found"}
                }
            }
        },
        "/register": {
            "get": {
                "tags": ["Account"],
                "summary": "List grantable roles",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Account"],
                "summary": "Register a user",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Email already registered"}
                }
            }
        },
        "/mfa": {
            "get": {
                "tags": ["MFA"],
                "summary": "MFA status",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["MFA"],
                "summary": "Complete MFA enrollment",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MfaVerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "Recovery codes and full session", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid authenticator code"}
                }
            },
            "delete": {
                "tags": ["MFA"],
                "summary": "Disable MFA",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MfaVerifyRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Invalid authenticator code"}
                }
            }
        },
        "/mfa/setup": {
            "post": {
                "tags": ["MFA"],
                "summary": "Begin MFA enrollment",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Provisioning URI and manual key", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already enabled"}
                }
            }
        },
        "/mfa/verify": {
            "post": {
                "tags": ["MFA"],
                "summary": "Verify MFA code during login",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MfaVerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "Full session", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid code"}
                }
            }
        },
        "/mfa/verify/trust-device": {
            "post": {
                "tags": ["MFA"],
                "summary": "Verify MFA code and trust this device",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MfaVerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "Full session", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid code"}
                }
            }
        },
        "/mfa/recovery-codes": {
            "post": {
                "tags": ["MFA"],
                "summary": "Regenerate recovery codes",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MfaVerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "New recovery codes", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/mfa/devices": {
            "get": {
                "tags": ["MFA"],
                "summary": "List trusted devices",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/mfa/devices/{id}": {
            "delete": {
                "tags": ["MFA"],
                "summary": "Remove a trusted device",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Device not found"}
                }
            }
        },
        "/users": {
            "get": {
                "tags": ["Users"],
                "summary": "List users",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"},
                    {"name": "sortBy", "in": "query", "type": "string"},
                    {"name": "sortOrder", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{id}": {
            "get": {
                "tags": ["Users"],
                "summary": "Get a user",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/users/export": {
            "get": {
                "tags": ["Users"],
                "summary": "Export users as CSV or PDF",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File attachment"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "EmailRequest": {
            "type": "object",
            "required": ["email"],
            "properties": {
                "email": {"type": "string"}
            }
        },
        "ResetPasswordRequest": {
            "type": "object",
            "required": ["email", "resetCode", "newPassword"],
            "properties": {
                "email": {"type": "string"},
                "resetCode": {"type": "string"},
                "newPassword": {"type": "string"}
            }
        },
        "ConfirmEmailRequest": {
            "type": "object",
            "required": ["userId", "token"],
            "properties": {
                "userId": {"type": "string"},
                "token": {"type": "string"}
            }
        },
        "RegisterRequest": {
            "type": "object",
            "required": ["firstName", "email"],
            "properties": {
                "firstName": {"type": "string"},
                "lastName": {"type": "string"},
                "email": {"type": "string"},
                "roles": {"type": "array", "items": {"type": "string"}}
            }
        },
        "MfaVerifyRequest": {
            "type": "object",
            "required": ["code"],
            "properties": {
                "code": {"type": "string"},
                "trustDevice": {"type": "boolean"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
