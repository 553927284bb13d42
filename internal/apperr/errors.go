package apperr

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the error domain attached to gRPC ErrorInfo details.
const Domain = "gameledger"

// Sentinels for errors.Is; matching is by code only.
var (
	ErrPermissionDenied    = New(CodePermissionDenied, "permission denied")
	ErrUnauthenticated     = New(CodeUnauthenticated, "unauthenticated")
	ErrInsufficientBalance = New(CodeInsufficientBalance, "insufficient balance")
	ErrOverflow            = New(CodeOverflow, "arithmetic overflow")
	ErrInvalidAmount       = New(CodeInvalidAmount, "invalid amount")
	ErrInvalidAddress      = New(CodeInvalidAddress, "invalid address")
	ErrPoolExhausted       = New(CodePoolExhausted, "pool exhausted")
	ErrInvalidAttribute    = New(CodeInvalidAttribute, "invalid attribute")
	ErrInvalidURI          = New(CodeInvalidURI, "invalid uri")
	ErrNotOwner            = New(CodeNotOwner, "not owner")
	ErrNotFound            = New(CodeNotFound, "not found")
	ErrCollectionExists    = New(CodeCollectionExists, "collection exists")
	ErrInvalidArgument     = New(CodeInvalidArgument, "invalid argument")
	ErrNotInitialized      = New(CodeNotInitialized, "ledger not initialized")
	ErrAlreadyInitialized  = New(CodeAlreadyInitialized, "ledger already initialized")
	ErrDuplicateRequest    = New(CodeDuplicateRequest, "duplicate request")
	ErrUnavailable         = New(CodeUnavailable, "ledger unavailable")
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Additional context
	Cause    error             // Wrapped underlying error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error carrying key/value context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the domain code carried by err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// ToGRPCStatus converts the error to a gRPC status with an ErrorInfo detail.
func (e *Error) ToGRPCStatus() error {
	grpcCode := e.Code.GRPCCode()
	st := status.New(grpcCode, e.Message)

	withDetails, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   Domain,
		Metadata: e.Metadata,
	})
	if err != nil {
		return st.Err()
	}
	return withDetails.Err()
}

// ToGRPC converts any error into a gRPC status error. Non-domain errors
// become codes.Internal without leaking their message.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ToGRPCStatus()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return New(CodeUnknown, "internal error").ToGRPCStatus()
}
