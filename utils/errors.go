// utils/errors.go
package utils

import (
	"context"
	"errors"

	"custodial-wallet-service/ledger"
	"custodial-wallet-service/store"

	"github.com/gofiber/fiber/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const internalErrorMessage = "internal error"

type grpcStatus interface {
	GRPCStatus() *status.Status
}

// ToStatus maps any error onto the service's error categories. Errors that
// are not recognised become Unknown with a generic message so internals do
// not leak to clients.
func ToStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}

	var se grpcStatus
	if errors.As(err, &se) {
		return se.GRPCStatus()
	}

	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		return status.New(codes.Unavailable, "ledger node unavailable")
	case errors.Is(err, store.ErrConflict):
		return status.New(codes.Aborted, "concurrent update, retry")
	case errors.Is(err, store.ErrNotFound):
		return status.New(codes.NotFound, "not found")
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.Unavailable, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, "canceled")
	default:
		return status.New(codes.Unknown, internalErrorMessage)
	}
}

// IsRetryable reports whether an operation that failed with err may succeed
// when run again unchanged.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ToStatus(err).Code() {
	case codes.Unavailable, codes.Aborted, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error category to an HTTP status code.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return fiber.StatusOK
	case codes.InvalidArgument:
		return fiber.StatusBadRequest
	case codes.Unauthenticated:
		return fiber.StatusUnauthorized
	case codes.PermissionDenied:
		return fiber.StatusForbidden
	case codes.NotFound:
		return fiber.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return fiber.StatusConflict
	case codes.FailedPrecondition:
		return fiber.StatusUnprocessableEntity
	case codes.ResourceExhausted:
		return fiber.StatusTooManyRequests
	case codes.Unavailable, codes.DeadlineExceeded:
		return fiber.StatusServiceUnavailable
	case codes.Canceled:
		return 499
	case codes.Unimplemented:
		return fiber.StatusNotImplemented
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondError writes err as {"error": category, "message": ...}.
func RespondError(c *fiber.Ctx, err error) error {
	st := ToStatus(err)
	return c.Status(HTTPStatus(st.Code())).JSON(fiber.Map{
		"error":   CategoryName(st.Code()),
		"message": st.Message(),
	})
}

// CategoryName is the snake_case name clients see.
func CategoryName(code codes.Code) string {
	switch code {
	case codes.Unauthenticated:
		return "unauthenticated"
	case codes.NotFound:
		return "not_found"
	case codes.InvalidArgument:
		return "invalid_argument"
	case codes.FailedPrecondition:
		return "failed_precondition"
	case codes.Unavailable, codes.DeadlineExceeded:
		return "unavailable"
	case codes.Aborted:
		return "aborted"
	case codes.Canceled:
		return "canceled"
	case codes.Unimplemented:
		return "unimplemented"
	default:
		return "unknown"
	}
}
