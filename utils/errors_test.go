package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"custodial-wallet-service/ledger"
	"custodial-wallet-service/store"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantCode  codes.Code
		retryable bool
	}{
		{"ledger unavailable", fmt.Errorf("fetch: %w", ledger.ErrUnavailable), codes.Unavailable, true},
		{"store conflict", fmt.Errorf("batch: %w", store.ErrConflict), codes.Aborted, true},
		{"not found", store.ErrNotFound, codes.NotFound, false},
		{"explicit status", status.Error(codes.InvalidArgument, "bad amount"), codes.InvalidArgument, false},
		{"wrapped status", fmt.Errorf("submit: %w", status.Error(codes.FailedPrecondition, "insufficient")), codes.FailedPrecondition, false},
		{"deadline", context.DeadlineExceeded, codes.Unavailable, true},
		{"anything else", errors.New("pq: relation does not exist"), codes.Unknown, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			st := ToStatus(tc.err)
			assert.Equal(t, tc.wantCode, st.Code())
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}
}

func TestToStatus_HidesInternalErrors(t *testing.T) {
	t.Parallel()

	st := ToStatus(errors.New("dial tcp 10.0.0.3:5432: connection refused"))
	assert.Equal(t, internalErrorMessage, st.Message())
}

func TestRespondError(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return RespondError(c, status.Error(codes.NotFound, "wallet not found"))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "not_found", out["error"])
	assert.Equal(t, "wallet not found", out["message"])
}

func TestHTTPStatus_Unimplemented(t *testing.T) {
	t.Parallel()

	assert.Equal(t, fiber.StatusNotImplemented, HTTPStatus(codes.Unimplemented))
	assert.Equal(t, "unimplemented", CategoryName(codes.Unimplemented))
}
