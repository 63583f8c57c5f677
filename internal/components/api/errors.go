// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package api provides common HTTP API utilities including error handling.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/appctx"
)

// Deterministic reason codes for stable error classification.
// These codes should remain stable across versions for client compatibility.
const (
	// Authentication and authorization
	ReasonUnauthenticated    = "unauthenticated"
	ReasonUnauthorized       = "unauthorized"
	ReasonSessionExpired     = "session_expired"
	ReasonInvalidCredentials = "invalid_credentials"

	// Rate limiting
	ReasonRateLimited = "rate_limited"

	// Request validation
	ReasonBadRequest   = "bad_request"
	ReasonMissingField = "missing_field"
	ReasonInvalidField = "invalid_field"
	ReasonNotFound     = "not_found"
	ReasonConflict     = "conflict"

	// SSRF and network
	ReasonSSRFBlocked     = "ssrf_blocked"
	ReasonNetworkError    = "network_error"
	ReasonPeerUnreachable = "peer_unreachable"

	// Server errors
	ReasonInternalError  = "internal_error"
	ReasonNotImplemented = "not_implemented"
)

// ErrorEnvelope is the standard error response format.
// All error responses should use this structure for consistency.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`

	// ErrorCode is the symbolic domain code (e.g. ACCEPT_INVITE_NOT_OPEN).
	// Empty for errors raised outside the domain components.
	ErrorCode string `json:"errorCode,omitempty"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code       string `json:"code"`        // HTTP status text (e.g., "forbidden")
	ReasonCode string `json:"reason_code"` // Deterministic reason code
	Message    string `json:"message"`     // Human-readable message
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string) {
	writeEnvelope(w, statusCode, ErrorEnvelope{
		Error: ErrorDetail{
			Code:       http.StatusText(statusCode),
			ReasonCode: reasonCode,
			Message:    message,
		},
	})
}

func writeEnvelope(w http.ResponseWriter, statusCode int, envelope ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(envelope)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) (int, string) {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest, ReasonInvalidField
	case apperr.KindConflict:
		return http.StatusConflict, ReasonConflict
	case apperr.KindNotFound:
		return http.StatusNotFound, ReasonNotFound
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized, ReasonUnauthenticated
	case apperr.KindTransport:
		return http.StatusBadGateway, ReasonPeerUnreachable
	default:
		return http.StatusInternalServerError, ReasonInternalError
	}
}

// WriteAppError converts a domain error into the error envelope.
// Persistence failures are logged with their cause and answered with a
// generic message.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	status, reason := StatusFor(e.Kind)

	msg := e.Message
	if e.Kind == apperr.KindPersistence || e.Kind == apperr.KindUnknown {
		appctx.GetLogger(r.Context()).Error("request failed", "error_code", e.Code, "error", err)
		msg = "internal error"
	} else if msg == "" {
		msg = e.Code
	}

	writeEnvelope(w, status, ErrorEnvelope{
		Error: ErrorDetail{
			Code:       http.StatusText(status),
			ReasonCode: reason,
			Message:    msg,
		},
		ErrorCode: e.Code,
	})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// Common error helpers for frequently used patterns

// WriteUnauthorized writes a 401 Unauthorized error.
func WriteUnauthorized(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusUnauthorized, reasonCode, message)
}

// WriteForbidden writes a 403 Forbidden error.
func WriteForbidden(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusForbidden, reasonCode, message)
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// WriteBadRequest writes a 400 Bad Request error.
func WriteBadRequest(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusBadRequest, reasonCode, message)
}

// WriteTooManyRequests writes a 429 Too Many Requests error.
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, ReasonRateLimited, message)
}

// WriteInternalError writes a 500 Internal Server Error.
// Be careful not to leak sensitive information in the message.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}
