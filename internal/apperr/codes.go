// Package apperr provides the ledger's structured domain errors.
package apperr

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Authorization
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"

	// Balance ledger
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeOverflow            Code = "OVERFLOW"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeInvalidAddress      Code = "INVALID_ADDRESS"

	// Asset pool and registry
	CodePoolExhausted    Code = "POOL_EXHAUSTED"
	CodeInvalidAttribute Code = "INVALID_ATTRIBUTE"
	CodeInvalidURI       Code = "INVALID_URI"
	CodeNotOwner         Code = "NOT_OWNER"
	CodeNotFound         Code = "NOT_FOUND"
	CodeCollectionExists Code = "COLLECTION_EXISTS"

	// Engine lifecycle and requests
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotInitialized     Code = "NOT_INITIALIZED"
	CodeAlreadyInitialized Code = "ALREADY_INITIALIZED"
	CodeDuplicateRequest   Code = "DUPLICATE_REQUEST"
	CodeUnavailable        Code = "UNAVAILABLE"
)

// GRPCCode maps a domain code to its gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodePermissionDenied, CodeNotOwner:
		return codes.PermissionDenied
	case CodeUnauthenticated:
		return codes.Unauthenticated
	case CodeInsufficientBalance, CodeNotInitialized:
		return codes.FailedPrecondition
	case CodeOverflow, CodePoolExhausted:
		return codes.ResourceExhausted
	case CodeInvalidAmount, CodeInvalidAddress, CodeInvalidAttribute, CodeInvalidURI, CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeCollectionExists, CodeAlreadyInitialized, CodeDuplicateRequest:
		return codes.AlreadyExists
	case CodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// HTTPStatus maps a domain code to the status used by the REST surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodePermissionDenied, CodeNotOwner:
		return http.StatusForbidden
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeInsufficientBalance, CodeOverflow, CodePoolExhausted, CodeNotInitialized:
		return http.StatusUnprocessableEntity
	case CodeInvalidAmount, CodeInvalidAddress, CodeInvalidAttribute, CodeInvalidURI, CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeCollectionExists, CodeAlreadyInitialized, CodeDuplicateRequest:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
