package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/go-playground/validator/v10"
)

// validate is shared; validator caches struct metadata and is safe for
// concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON name so clients can map errors to inputs.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes the request body into dst and validates it with the
// struct's `validate` tags. Failures come back as domain errors ready for
// ErrorResponse.
func DecodeJSON(r *http.Request, op string, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &maxErr):
			return domain.Errorf(domain.ETOOLARGE, op, "Request body too large")
		case errors.Is(err, io.EOF):
			return domain.Errorf(domain.EINVALID, op, "Request body is required")
		case errors.As(err, &typeErr):
			return domain.NewValidationError(op, typeErr.Field, fmt.Sprintf("must be a %s", typeErr.Type))
		default:
			return domain.Errorf(domain.EINVALID, op, "Request body is not valid JSON")
		}
	}
	if dec.More() {
		return domain.Errorf(domain.EINVALID, op, "Request body must contain a single JSON object")
	}

	return Validate(op, dst)
}

// Validate runs struct validation and converts failures to a
// domain.ValidationError keyed by JSON field name.
func Validate(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Internal(err, op, "request validation failed")
	}

	var out error
	for _, fe := range verrs {
		field := fieldPath(fe)
		if out == nil {
			out = domain.NewValidationError(op, field, fieldMessage(fe))
			continue
		}
		out = domain.AddFieldError(out, field, fieldMessage(fe))
	}
	return out
}

// fieldPath drops the top-level struct name: "lockRequest.shipping.city"
// becomes "shipping.city".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "uuid", "uuid4":
		return "must be a valid id"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}
