package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "progresshub/internal/errors"
	"progresshub/internal/infrastructure"
)

// QueryParamValidator validates query parameters and request DTOs.
// Failures are written as 400 problem responses through the error handler.
type QueryParamValidator struct {
	validator    *validator.Validate
	logger       *slog.Logger
	errorHandler *apperrors.ErrorHandler
}

// NewQueryParamValidator creates a new query parameter validator
func NewQueryParamValidator(logger *slog.Logger, errorHandler *apperrors.ErrorHandler) *QueryParamValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report fields under their query names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"query", "json"} {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	return &QueryParamValidator{
		validator:    v,
		logger:       infrastructure.ComponentLogger(logger, "query_validator"),
		errorHandler: errorHandler,
	}
}

// ValidateInt reads an integer parameter within [minValue, maxValue]
func (v *QueryParamValidator) ValidateInt(w http.ResponseWriter, r *http.Request, param string, minValue, maxValue, defaultValue int) (int, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, true
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		v.reject(w, r, param, fmt.Sprintf("%s must be a valid integer", param))
		return 0, false
	}

	if intValue < minValue || intValue > maxValue {
		v.reject(w, r, param, fmt.Sprintf("%s must be between %d and %d", param, minValue, maxValue))
		return 0, false
	}

	return intValue, true
}

// ValidateEnum reads a parameter that must be one of allowed
func (v *QueryParamValidator) ValidateEnum(w http.ResponseWriter, r *http.Request, param string, allowed []string, defaultValue string) (string, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, true
	}

	for _, a := range allowed {
		if value == a {
			return value, true
		}
	}

	v.reject(w, r, param, fmt.Sprintf("%s must be one of: %s", param, strings.Join(allowed, ", ")))
	return "", false
}

// ValidateStruct checks dst against its validate tags and writes the problem response on failure
func (v *QueryParamValidator) ValidateStruct(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := v.validator.Struct(dst)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.errorHandler.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return false
	}

	details := make([]apperrors.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, apperrors.ValidationError{
			Field:   fe.Field(),
			Message: formatFieldError(fe),
		})
	}
	v.logger.DebugContext(r.Context(), "request rejected", "fields", len(details))
	v.errorHandler.HandleError(w, r, apperrors.NewValidationErrors(details))
	return false
}

func (v *QueryParamValidator) reject(w http.ResponseWriter, r *http.Request, param, message string) {
	v.logger.DebugContext(r.Context(), "invalid query parameter", "param", param)
	v.errorHandler.HandleError(w, r, apperrors.ErrValidation(param, message))
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
