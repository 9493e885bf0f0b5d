package binding

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"

	"github.com/pkg/errors"
)

// ErrKey is returned when a key has no canonical text form.
var ErrKey = errors.New("binding: key is not text-like")

// KeyOf converts a text-like key to its canonical string form.
//
// Integers, floats and bools format the way strconv does, so the integer
// 5 and the text "5" name the same entry. Types implementing
// encoding.TextMarshaler or fmt.Stringer are converted by those methods,
// in that order.
func KeyOf(key any) (string, error) {
	if isNil(key) {
		return "", errors.Wrapf(ErrKey, "binding: nil key %T", key)
	}
	switch k := key.(type) {
	case string:
		return k, nil
	case []byte:
		return string(k), nil
	case []rune:
		return string(k), nil
	case encoding.TextMarshaler:
		b, err := k.MarshalText()
		if err != nil {
			return "", errors.Wrapf(err, "binding: key %T", key)
		}
		return string(b), nil
	case fmt.Stringer:
		return k.String(), nil
	case bool:
		return strconv.FormatBool(k), nil
	case int:
		return strconv.FormatInt(int64(k), 10), nil
	case int8:
		return strconv.FormatInt(int64(k), 10), nil
	case int16:
		return strconv.FormatInt(int64(k), 10), nil
	case int32:
		return strconv.FormatInt(int64(k), 10), nil
	case int64:
		return strconv.FormatInt(k, 10), nil
	case uint:
		return strconv.FormatUint(uint64(k), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(k), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(k), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(k), 10), nil
	case uint64:
		return strconv.FormatUint(k, 10), nil
	case uintptr:
		return strconv.FormatUint(uint64(k), 10), nil
	case float32:
		return strconv.FormatFloat(float64(k), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(k, 'g', -1, 64), nil
	}
	// Named types over the basic kinds, e.g. type ID int.
	switch v := reflect.ValueOf(key); v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), nil
	}
	return "", errors.Wrapf(ErrKey, "binding: key %T", key)
}

// isNil reports whether key is nil or a nil value whose methods could not
// be called to convert it.
func isNil(key any) bool {
	if key == nil {
		return true
	}
	switch v := reflect.ValueOf(key); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
