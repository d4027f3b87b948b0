package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/warp/stockroom/logger"
	"github.com/warp/stockroom/retail"
)

const msgInternal = "Internal server error"

// statusFor maps the retail error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, retail.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, retail.ErrItemNotFound):
		return http.StatusBadRequest, "item_not_found"
	case errors.Is(err, retail.ErrInsufficientStock):
		return http.StatusBadRequest, "insufficient_stock"
	case errors.Is(err, retail.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, retail.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, retail.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, retail.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError renders err. Client errors carry their own message; anything
// else is logged with full detail and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Message: err.Error(), Code: code}

	if status == http.StatusInternalServerError {
		logger.WithCtx(r.Context()).ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		resp.Message = msgInternal
	}

	var insufficient *retail.InsufficientStockError
	if errors.As(err, &insufficient) {
		available := insufficient.Available
		resp.Available = &available
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// =============================================================================
// REQUEST DECODING
// =============================================================================

// decodeBody reads JSON into dst and runs its validate tags. Failures come
// back as *retail.ValidationError so they render like domain validation.
func (h *Handler) decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &retail.ValidationError{Message: "Invalid request body"}
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &retail.ValidationError{Message: "Invalid request body"}
	}
	fe := errs[0]
	field := humanize(fe.Field())

	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "email":
		msg = "Invalid email"
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		msg = "Invalid " + strings.ToLower(field)
	}
	return &retail.ValidationError{Field: fe.Field(), Message: msg}
}

// humanize turns "low_stock_threshold" into "Low stock threshold".
func humanize(name string) string {
	s := strings.ReplaceAll(name, "_", " ")
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
