// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// MatrixError represents a structured error response from a relay
// server. Callers can use errors.As to extract it:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeForbidden { ... }
//	}
type MatrixError struct {
	// Code is the error code (e.g., "M_FORBIDDEN").
	Code string `json:"errcode"`
	// Message is the human-readable error description from the server.
	Message string `json:"error"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Error codes the transport inspects or relays commonly return.
const (
	ErrCodeForbidden       = "M_FORBIDDEN"
	ErrCodeUserDeactivated = "M_USER_DEACTIVATED"
	ErrCodeUnknownToken    = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound        = "M_NOT_FOUND"
	ErrCodeLimitExceeded   = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized    = "M_UNRECOGNIZED"
	ErrCodeUnknown         = "M_UNKNOWN"
	ErrCodeInvalidParam    = "M_INVALID_PARAM"
	ErrCodeMissingParam    = "M_MISSING_PARAM"
)

// IsMatrixError checks whether err is a *MatrixError with the given error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}
