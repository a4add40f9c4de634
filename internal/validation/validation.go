package validation

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-aggregator/internal/apperror"
)

// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooShort is returned when city length is below the minimum.
var ErrCityTooShort = errors.New("city too short")

// ErrCityTooLong is returned when city length exceeds the maximum.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when the city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrQueryEmpty is returned when a search query is empty after trim.
var ErrQueryEmpty = errors.New("query is required")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma, hyphen,
// period and apostrophe. Failures are Validation errors on field "city" that wrap
// one of the sentinels above.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", apperror.InvalidField("city", ErrCityEmpty)
	}
	if minLen > 0 && n < minLen {
		return "", apperror.InvalidField("city", ErrCityTooShort)
	}
	if maxLen > 0 && n > maxLen {
		return "", apperror.InvalidField("city", ErrCityTooLong)
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", apperror.InvalidField("city", ErrCityInvalidChars)
		}
	}
	return s, nil
}

// ValidateQuery trims a search query. Search accepts partial names, so only
// emptiness and the character set are checked.
func ValidateQuery(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", apperror.InvalidField("q", ErrQueryEmpty)
	}
	if _, err := ValidateCity(s, 0, maxLen); err != nil {
		e, _ := apperror.As(err)
		return "", apperror.InvalidField("q", e.Cause)
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// Struct validates v against its `validate` tags. The first failing field is
// reported as a Validation error named by its JSON path, e.g. "city.name".
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperror.Validation("body", err.Error())
	}
	fe := fieldErrs[0]
	field := jsonPath(fe.Namespace())
	return apperror.Validation(field, field+" failed "+fe.Tag()+" check")
}

// Slice validates each element with Struct and prefixes the field with the index.
func Slice[T any](items []T) error {
	for i := range items {
		if err := Struct(items[i]); err != nil {
			e, _ := apperror.As(err)
			return apperror.Validation("["+strconv.Itoa(i)+"]."+e.Field, e.Message)
		}
	}
	return nil
}

// jsonPath drops the root type name from a namespace like "CityWeather.city.name".
func jsonPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
