package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	invoicedomain "github.com/smallbiznis/storefront/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/storefront/internal/notification/domain"
	productdomain "github.com/smallbiznis/storefront/internal/product/domain"
	"github.com/smallbiznis/storefront/pkg/lock"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

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

// mapError keeps the domain message for conflicts so callers can show it
// as-is.
func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable"}
	case errors.Is(err, invoicedomain.ErrConcurrencyConflict),
		errors.Is(err, cartdomain.ErrCartConflict),
		errors.Is(err, productdomain.ErrConcurrencyConflict):
		return http.StatusConflict, errorPayload{Type: "conflict", Code: codeOf(err), Message: err.Error()}
	case errors.Is(err, productdomain.ErrDuplicateSlug):
		return http.StatusConflict, errorPayload{Type: "conflict", Code: productdomain.ErrDuplicateSlug.Error(), Message: "slug already in use"}
	case errors.Is(err, invoicedomain.ErrLockTimeout), errors.Is(err, lock.ErrTimeout):
		return http.StatusServiceUnavailable, errorPayload{Type: "lock_timeout", Message: "resource is busy, try again"}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{Type: "not_found", Code: codeOf(err), Message: err.Error()}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Code: err.Error(), Message: "invalid value"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

func codeOf(err error) string {
	for _, sentinel := range []error{
		invoicedomain.ErrConcurrencyConflict,
		invoicedomain.ErrInvoiceNotFound,
		cartdomain.ErrCartConflict,
		cartdomain.ErrCartNotFound,
		productdomain.ErrConcurrencyConflict,
		productdomain.ErrNotFound,
		notificationdomain.ErrNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrItemNotFound),
		errors.Is(err, cartdomain.ErrCartNotFound),
		errors.Is(err, cartdomain.ErrItemNotFound),
		errors.Is(err, cartdomain.ErrDiscountNotFound),
		errors.Is(err, productdomain.ErrNotFound),
		errors.Is(err, notificationdomain.ErrNotFound):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, invoicedomain.ErrInvalidInvoiceID),
		errors.Is(err, invoicedomain.ErrInvalidAmount),
		errors.Is(err, invoicedomain.ErrInvalidItem),
		errors.Is(err, invoicedomain.ErrInvalidQuantity),
		errors.Is(err, invoicedomain.ErrOverpayment),
		errors.Is(err, invoicedomain.ErrCurrencyMismatch),
		errors.Is(err, invoicedomain.ErrInvoiceClosed),
		errors.Is(err, invoicedomain.ErrInvoiceNotEditable),
		errors.Is(err, invoicedomain.ErrEmptyCart),
		errors.Is(err, cartdomain.ErrInvalidOwner),
		errors.Is(err, cartdomain.ErrInvalidProduct),
		errors.Is(err, cartdomain.ErrProductUnavailable),
		errors.Is(err, cartdomain.ErrInvalidQuantity),
		errors.Is(err, cartdomain.ErrQuantityLimit),
		errors.Is(err, cartdomain.ErrCurrencyMismatch),
		errors.Is(err, cartdomain.ErrInvalidDiscount),
		errors.Is(err, productdomain.ErrInvalidName),
		errors.Is(err, productdomain.ErrInvalidPrice),
		errors.Is(err, productdomain.ErrInvalidStatus),
		errors.Is(err, productdomain.ErrInvalidType),
		errors.Is(err, productdomain.ErrInvalidVariantOption),
		errors.Is(err, notificationdomain.ErrInvalidKind),
		errors.Is(err, notificationdomain.ErrInvalidTitle):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
