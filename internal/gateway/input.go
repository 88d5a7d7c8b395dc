package gateway

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator общий экземпляр валидатора входных данных. Имена полей в ошибках берутся из json тегов.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("max_bytes", validateMaxBytes)
	})
	return validate
}

// DecodeInput разбирает входные данные в P: строгий json без лишних полей, обрезка пробелов во всех
// строковых полях, затем проверка тегов validate.
func DecodeInput[P any](raw json.RawMessage) (P, error) {
	var p P
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, rpcerr.InvalidArgument(rpcerr.ReasonInvalidPayload, describeDecodeErr(err)).WithCause(err)
	}

	trimStrings(reflect.ValueOf(&p))

	if err := Validator().Struct(p); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			return p, rpcerr.InvalidArgument(rpcerr.ReasonInvalidPayload, describeValidation(vErrs)).WithCause(err)
		}
		return p, rpcerr.InvalidArgument(rpcerr.ReasonInvalidPayload, "invalid payload").WithCause(err)
	}
	return p, nil
}

// Clamp приводит значение к диапазону [lo, hi].
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

func describeDecodeErr(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s: must be %s", typeErr.Field, typeErr.Type.String())
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return "unknown field " + field
	}
	return "malformed payload"
}

func describeValidation(vErrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(vErrs))
	for _, fe := range vErrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "ne":
			parts = append(parts, fmt.Sprintf("%s must not be %s", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// validateMaxBytes в отличии от тэга max который проверяет длину рун, - проверят длину байт в поле.
func validateMaxBytes(fl validator.FieldLevel) bool {
	var maxBytes int
	if _, err := fmt.Sscan(fl.Param(), &maxBytes); err != nil {
		return false
	}
	str, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return len(str) <= maxBytes
}

func trimSpace(s string) string {
	return strings.TrimSpace(s)
}

// trimStrings обрезает пробелы у строк в структуре, вложенных структурах и указателях на них.
func trimStrings(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			trimStrings(v.Elem())
		}
	case reflect.Struct:
		for i := range v.NumField() {
			if v.Type().Field(i).IsExported() {
				trimStrings(v.Field(i))
			}
		}
	case reflect.Slice:
		for i := range v.Len() {
			trimStrings(v.Index(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(trimSpace(v.String()))
		}
	default:
	}
}
