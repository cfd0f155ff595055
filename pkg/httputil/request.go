package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/hrauth/pkg/auth"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", auth.ErrInvalidInput, err)
	}
	return nil
}

// Validate runs the struct tags of dest through the validator and reports
// every failing field.
func Validate(dest interface{}) error {
	err := validate.Struct(dest)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", auth.ErrInvalidInput, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Field() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", auth.ErrInvalidInput, strings.Join(msgs, "; "))
}

// DecodeAndValidate parses the JSON body into dest and validates it, writing
// a 400 response on failure.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteError(w, err)
		return false
	}
	if err := Validate(dest); err != nil {
		WriteError(w, err)
		return false
	}
	return true
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, fmt.Errorf("%w: missing path parameter: %s", auth.ErrInvalidInput, key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("%w: invalid id for %s: %s", auth.ErrInvalidInput, key, str)
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes error on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteError(w, err)
		return 0, false
	}
	return val, true
}

// QueryInt returns an integer query parameter, or def when it is absent or
// not a number.
func QueryInt(r *http.Request, key string, def int) int {
	if str := r.URL.Query().Get(key); str != "" {
		if v, err := strconv.Atoi(str); err == nil {
			return v
		}
	}
	return def
}

// PathString returns a path variable, or "" when absent.
func PathString(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }
