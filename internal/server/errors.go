package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	ledgerdomain "github.com/smallbiznis/tably/internal/ledger/domain"
	receiptdomain "github.com/smallbiznis/tably/internal/receipt/domain"
	"github.com/smallbiznis/tably/pkg/optimistic"
	"github.com/smallbiznis/tably/pkg/retry"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

type errorPayload struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	Positions       []int  `json:"positions,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
	ActualVersion   *int64 `json:"actual_version,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware converts the last gin error into a JSON response.
// Handlers call AbortWithError and let the mapping live in one place.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if conflict, ok := optimistic.AsConflict(err); ok {
		return http.StatusConflict, errorPayload{
			Type:            "conflict",
			Message:         "version conflict, refetch and retry",
			ExpectedVersion: &conflict.Expected,
			ActualVersion:   &conflict.Actual,
		}
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return http.StatusConflict, errorPayload{
			Type:    "retry_exhausted",
			Message: "changes could not be saved, please retry manually",
		}
	}

	var validation *receiptdomain.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, errorPayload{
			Type:      "validation_error",
			Message:   validation.Message,
			Positions: validation.Positions,
		}
	}

	switch {
	case errors.Is(err, receiptdomain.ErrReceiptNotFound),
		errors.Is(err, receiptdomain.ErrMemberNotFound),
		errors.Is(err, ledgerdomain.ErrEntryNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "resource not found",
		}

	case errors.Is(err, receiptdomain.ErrInvalidUser),
		errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "authenticated user required",
		}

	case errors.Is(err, ledgerdomain.ErrAmountNotPositive),
		errors.Is(err, ledgerdomain.ErrOverpayment),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}

	case errors.Is(err, receiptdomain.ErrReceiptNotDraft),
		errors.Is(err, receiptdomain.ErrReceiptNotFinalized),
		errors.Is(err, receiptdomain.ErrDuplicateMember),
		errors.Is(err, receiptdomain.ErrOwnerNotRemovable),
		errors.Is(err, receiptdomain.ErrMemberOwesOnReceipt),
		errors.Is(err, receiptdomain.ErrTooManyItems),
		errors.Is(err, receiptdomain.ErrTooManyParticipants):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "policy_error",
			Message: err.Error(),
		}

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many write requests, slow down",
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}
