package validator

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/pkg/response"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Slugs that would shadow a route on the short domain.
var reservedKeywords = map[string]bool{
	"api":     true,
	"healthz": true,
	"readyz":  true,
	"metrics": true,
}

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	validate.RegisterValidation("slug", validateSlug)
	validate.RegisterValidation("httpurl", validateHTTPURL)
	validate.RegisterValidation("event_type", validateEventType)
}

func Validate(data interface{}) []response.ValidationError {
	var validationErrors []response.ValidationError

	err := validate.Struct(data)
	if err != nil {
		fieldErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return []response.ValidationError{{Field: "body", Message: err.Error()}}
		}
		for _, err := range fieldErrors {
			validationErrors = append(validationErrors, response.ValidationError{
				Field:   err.Field(),
				Message: getErrorMessage(err),
			})
		}
	}

	return validationErrors
}

func validateSlug(fl validator.FieldLevel) bool {
	slug := fl.Field().String()
	return slugPattern.MatchString(slug) && !IsReservedKeyword(slug)
}

func isAbsoluteURL(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}

func validateHTTPURL(fl validator.FieldLevel) bool {
	return isAbsoluteURL(fl.Field().String(), "http", "https")
}

func validateEventType(fl validator.FieldLevel) bool {
	return domain.IsValidEventType(fl.Field().String())
}

func IsReservedKeyword(slug string) bool {
	return reservedKeywords[strings.ToLower(slug)]
}

func getErrorMessage(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "url", "httpurl":
		return fmt.Sprintf("%s must be a valid http(s) URL", field)
	case "slug":
		return fmt.Sprintf("%s may only contain letters, digits, '-' and '_' and must not be a reserved word", field)
	case "event_type":
		return fmt.Sprintf("%s must be one of link.clicked, link.created, link.updated, link.deleted", field)
	case "fqdn":
		return fmt.Sprintf("%s must be a fully qualified domain name", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, err.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, err.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, err.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, err.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, err.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
